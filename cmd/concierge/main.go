package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/smswire/concierge/internal/app"
	"github.com/smswire/concierge/internal/config"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	if errRun := run(os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the requested command.
func run(args []string) error {
	fs := flag.NewFlagSet("concierge", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	migrateOnly := fs.Bool("migrate", false, "apply database migrations and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	path := *cfgPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, errLoad := config.Load(path)
	if errLoad != nil {
		return errLoad
	}

	if *migrateOnly {
		if errMigrate := app.Migrate(cfg); errMigrate != nil {
			return fmt.Errorf("migrate: %w", errMigrate)
		}
		log.Info("migrations applied")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunServer(ctx, cfg)
}
