// cmd/chaos/main.go
//
// chaos runs the catalog fault injection game day. Point it at a disposable
// database: the read model experiment drops the views and rebuilds them.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursecatalog/internal/catalog"
	"coursecatalog/internal/chaos"
	"coursecatalog/internal/config"
	"coursecatalog/internal/dispatch"
	"coursecatalog/internal/storage"
	"coursecatalog/internal/telemetry"
	"coursecatalog/pkg/eventstore"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "how long each experiment injects faults")
	pause := flag.Duration("pause", 5*time.Second, "pause between experiments")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "fault injection seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *duration, *pause, *seed); err != nil {
		log.Error("chaos game day failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, duration, pause time.Duration, seed uint64) error {
	tp, shutdown, err := telemetry.Setup(ctx, cfg.ServiceName+"-chaos", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()

	serializer := eventstore.NewSerializer()
	catalog.RegisterEvents(serializer)

	faults := chaos.NewFaults(store.Backend, seed)
	es := eventstore.New(faults, serializer, eventstore.WithTracerProvider(tp), eventstore.WithLogger(log))

	bus := dispatch.NewSyncBus(dispatch.WithLogger(log))
	bus.Subscribe(catalog.NewReadModelProjector(store.Views).Handle)

	repo := catalog.NewRepository(es, store.Views, bus, catalog.WithRepositoryLogger(log))
	svc := catalog.NewService(repo,
		catalog.WithRetryAttempts(max(cfg.RetryAttempts, 10)),
		catalog.WithServiceLogger(log),
	)

	engine := chaos.NewEngine(chaos.WithTracerProvider(tp), chaos.WithLogger(log))
	engine.RegisterCatalogExperiments(chaos.Target{
		Faults:  faults,
		Service: svc,
		Store:   es,
		Views:   store.Views,
	}, duration)

	_, err = engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Course catalog game day",
		Scenarios: engine.Experiments(),
		Pause:     pause,
	})
	if err != nil {
		return err
	}
	log.Info("every hypothesis held",
		slog.Int64("injected_conflicts", faults.InjectedConflicts()),
		slog.Int64("delayed_calls", faults.DelayedCalls()),
	)
	return nil
}
