// cmd/catalog/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coursecatalog/internal/catalog"
	"coursecatalog/internal/config"
	"coursecatalog/internal/dispatch"
	"coursecatalog/internal/storage"
	"coursecatalog/internal/telemetry"
	"coursecatalog/pkg/eventstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("catalog service stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting catalog service",
			slog.String("addr", srv.Addr),
			slog.String("driver", cfg.DatabaseDriver),
			slog.String("dispatch", cfg.DispatchMode),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down catalog service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type app struct {
	handler http.Handler
	closers []func()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires storage, the event store, dispatch and the HTTP routes.
func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("flush traces", slog.Any("error", err))
		}
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = store.Close() })

	serializer := eventstore.NewSerializer()
	catalog.RegisterEvents(serializer)
	es := eventstore.New(store.Backend, serializer,
		eventstore.WithTracerProvider(tp),
		eventstore.WithMetrics(eventstore.NewMetrics(reg)),
		eventstore.WithLogger(log),
	)

	projector := catalog.NewReadModelProjector(store.Views)
	sink, closeSink, err := newSink(ctx, cfg, serializer, dispatch.NewMetrics(reg), log, projector.Handle)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSink)

	repo := catalog.NewRepository(es, store.Views, sink,
		catalog.WithSnapshots(store.Snapshots, cfg.SnapshotEvery),
		catalog.WithLoadConcurrency(cfg.ListConcurrency),
		catalog.WithRepositoryLogger(log),
	)
	svc := catalog.NewService(repo,
		catalog.WithRetryAttempts(cfg.RetryAttempts),
		catalog.WithServiceLogger(log),
	)
	handler := catalog.NewHandler(svc, store.Views,
		catalog.WithWriteLimit(cfg.WriteRatePerMinute),
		catalog.WithHandlerLogger(log),
	)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/", handler.Routes())

	a.handler = router
	return a, nil
}

// newSink wires the projector behind the configured dispatch mode.
func newSink(ctx context.Context, cfg config.Config, serializer *eventstore.Serializer, metrics *dispatch.Metrics, log *slog.Logger, handler dispatch.Handler) (catalog.EventSink, func(), error) {
	opts := []dispatch.Option{dispatch.WithMetrics(metrics), dispatch.WithLogger(log)}

	if cfg.DispatchMode == config.DispatchWatermill {
		bus := dispatch.NewWatermillBus(serializer, catalog.AggregateType, opts...)
		bus.Subscribe(handler)
		if err := bus.Start(ctx); err != nil {
			return nil, nil, err
		}
		return bus, func() {
			if err := bus.Close(); err != nil {
				log.Warn("close event bus", slog.Any("error", err))
			}
		}, nil
	}

	bus := dispatch.NewSyncBus(opts...)
	bus.Subscribe(handler)
	return bus, func() {}, nil
}
