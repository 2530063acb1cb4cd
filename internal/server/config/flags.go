package config

import (
	"flag"
	"os"
	"time"

	"github.com/danmarauda/server/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line
// flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN of the primary store
//	-rd string  Redis URL of the secondary store
//	-s string   JWT HMAC secret key
//	-l int      default get-items page size
//	-m int      maximum get-items page size
//	-t int      content transfer budget, bytes
//	-f int      revision frequency, seconds
//	-ps int     transition page size
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-rd", "-s", "-l", "-m", "-t", "-f", "-ps", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "rd", config.RedisURL, "redis URL (secondary store)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.IntVar(&config.SyncDefaultLimit, "l", config.SyncDefaultLimit, "default sync page size")
	fs.IntVar(&config.SyncMaxLimit, "m", config.SyncMaxLimit, "maximum sync page size")
	fs.IntVar(&config.ContentTransferBudget, "t", config.ContentTransferBudget, "content transfer budget (bytes)")

	revisionFrequency := fs.Int("f", int(config.RevisionFrequency.Seconds()), "revision frequency (in seconds)")
	fs.IntVar(&config.TransitionPageSize, "ps", config.TransitionPageSize, "transition page size")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RevisionFrequency = time.Duration(*revisionFrequency) * time.Second
}
