package main

import (
	"context"
	"log"

	"github.com/danmarauda/server/internal/server"
	"github.com/danmarauda/server/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("run error: %v", err)
	}
}
