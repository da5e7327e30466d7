package main

import (
	"errors"
	"flag"
	"log"

	migrate "github.com/golang-migrate/migrate/v4"

	"github.com/noah-isme/backend-kasir/internal/app"
	"github.com/noah-isme/backend-kasir/internal/config"
)

func main() {
	var (
		direction = flag.String("direction", "up", "migration direction: up or down")
		steps     = flag.Int("steps", 0, "apply only n migrations in the chosen direction; 0 means all")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	m, err := app.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Printf("close migrator: %v %v", srcErr, dbErr)
		}
	}()

	switch {
	case *steps > 0 && *direction == "down":
		err = m.Steps(-*steps)
	case *steps > 0:
		err = m.Steps(*steps)
	case *direction == "down":
		err = m.Down()
	case *direction == "up":
		err = app.RunMigrations(m)
	default:
		log.Fatalf("unknown direction %q", *direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate %s: %v", *direction, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatalf("read version: %v", err)
	}
	log.Printf("schema at version %d (dirty=%t)", version, dirty)
}
