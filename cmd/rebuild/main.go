// cmd/rebuild/main.go
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"coursecatalog/internal/catalog"
	"coursecatalog/internal/config"
	"coursecatalog/internal/storage"
	"coursecatalog/pkg/eventstore"
)

func main() {
	batch := flag.Int("batch", 500, "events read per page")
	flag.Parse()

	if err := run(*batch); err != nil {
		slog.Error("rebuild failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// run truncates the course read model and replays the whole log into it.
// Stop the catalog service first: commands committed during the replay can
// leave views behind their streams.
func run(batch int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()

	serializer := eventstore.NewSerializer()
	catalog.RegisterEvents(serializer)
	es := eventstore.New(store.Backend, serializer, eventstore.WithLogger(log))

	n, err := catalog.Rebuild(ctx, es, store.Views, batch)
	if err != nil {
		return err
	}
	log.Info("read model rebuilt", slog.Int("events", n))
	return nil
}
