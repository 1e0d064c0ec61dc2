package main

import (
	"context"
	"log"

	"github.com/vdavid/threadview/internal/config"
	"github.com/vdavid/threadview/internal/db"
	"github.com/vdavid/threadview/internal/server"
	"github.com/vdavid/threadview/internal/threadview"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	palette, err := config.LoadTagPalette(cfg.TagColorsFile)
	if err != nil {
		log.Fatalf("Failed to load tag palette: %v", err)
	}

	ctx := context.Background()

	var store threadview.ViewStateStore
	if cfg.PersistenceEnabled() {
		pool, err := db.NewConnection(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.CloseConnection(pool)

		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Printf("Successfully connected to database")
		store = db.NewViewStateStore(pool)
	} else {
		log.Printf("No database password set, view state will not be persisted")
	}

	srv := server.New(cfg, store, palette)

	address := ":" + cfg.Port
	log.Printf("threadview server starting on %s (environment: %s)", address, cfg.Environment)

	if err := server.Run(address, srv); err != nil {
		log.Printf("Server error: %v", err)
	}
}
