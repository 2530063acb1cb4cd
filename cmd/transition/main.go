// Command transition migrates one user's items between the primary
// (PostgreSQL) and secondary (Redis) stores, resumably.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmarauda/server/internal/flagx"
	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/config"
	"github.com/danmarauda/server/internal/server/events"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/repositories/repomanager"
	"github.com/danmarauda/server/internal/server/transition"
	"github.com/danmarauda/server/internal/timer"
)

func main() {
	var userUUID, direction string
	fs := flag.NewFlagSet("transition", flag.ExitOnError)
	fs.StringVar(&userUUID, "user", "", "user uuid to transition")
	fs.StringVar(&direction, "direction", "primary-to-secondary", "primary-to-secondary or secondary-to-primary")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-user", "-direction"}))

	if userUUID == "" {
		log.Fatal("missing -user")
	}

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer db.Close()

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	primary := manager.Items(db)
	secondary, err := itemsrepo.NewRedisRepository(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer secondary.Close()

	source, target := itemsrepo.Repository(primary), itemsrepo.Repository(secondary)
	if direction == "secondary-to-primary" {
		source, target = target, source
	} else if direction != "primary-to-secondary" {
		log.Fatalf("unknown direction %q", direction)
	}

	clock := timer.NewMonotonicTimer()
	runner := transition.NewRunner(
		source,
		target,
		manager.TransitionStatuses(db),
		events.NewDispatcher(logger),
		clock,
		logger,
		cfg.TransitionPageSize,
		cfg.TransitionSettleDelay,
		direction,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if err := runner.Run(ctx, userUUID); err != nil {
		log.Fatalf("transition error: %v", err)
	}
}
