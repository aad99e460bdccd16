// migrate applies the embedded Postgres schema; run with go run ./cmd/migrate.
package main

import (
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"account-relay/internal/config"
	"account-relay/internal/db/migrate"
)

func main() {
	direction := flag.StringP("direction", "d", "up", "Migration direction: up or down")
	steps := flag.IntP("steps", "n", 0, "Apply n migrations (negative rolls back); overrides --direction")
	version := flag.Bool("version", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	switch {
	case *version:
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version %d (dirty=%t)\n", v, dirty)
	case *steps != 0:
		if err := migrate.Steps(cfg.DatabaseURL, *steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	default:
		dir, err := migrate.ParseDirection(*direction)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		if err := migrate.Run(cfg.DatabaseURL, dir); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
	}
}
