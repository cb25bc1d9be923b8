// Command dcbd runs the consistency engine with the account domain.
//
// The store, the live event feed and snapshot storage are chosen from the
// environment (see core/config). Try:
//
//	curl -X POST localhost:8080/accounts/alice -d '{"owner": "Alice", "initial_balance": 100}'
//	curl -X POST localhost:8080/accounts/bob -d '{"owner": "Bob"}'
//	curl -X POST localhost:8080/transfers -d '{"from": "alice", "to": "bob", "amount": 30}'
//	curl localhost:8080/accounts/bob
//	curl localhost:8080/ledger
//
// Prometheus metrics are served on DCB_METRICS_ADDR at /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	promadapter "github.com/codewandler/dcb-go/adapters/prometheus"
	"github.com/codewandler/dcb-go/core/app"
	"github.com/codewandler/dcb-go/core/config"
	"github.com/codewandler/dcb-go/internal/backend"
	"github.com/codewandler/dcb-go/internal/bank"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(2)
	}
	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("dcbd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	metrics := promadapter.NewAllMetrics(prometheus.DefaultRegisterer)

	promMux := http.NewServeMux()
	promMux.Handle("/metrics", promhttp.Handler())
	promMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	promServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promMux, ReadHeaderTimeout: 5 * time.Second}
	go serve(log, "metrics", promServer)
	defer shutdownServer(promServer)

	types := bank.EventTypes()
	be, err := backend.Open(ctx, cfg, log, types)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer be.Close()

	projOpts := cfg.ProjectionOptions()
	a, err := app.Run(app.Config{
		Context:           ctx,
		Log:               log,
		Store:             be.Store,
		Publisher:         be.Publisher,
		Subscriber:        be.Subscriber,
		Types:             types,
		TagProjectors:     bank.TagProjectors(),
		HostOptions:       be.HostOptions(cfg),
		Metrics:           metrics.DCB,
		Projectors:        bank.Projectors(),
		ProjectionOptions: &projOpts,
		ProjectionMetrics: metrics.Projection,
		Blob:              be.Blob,
		Snapshots:         be.Snapshots,
		SnapshotInterval:  cfg.SnapshotInterval,
	})
	if err != nil {
		return fmt.Errorf("start app: %w", err)
	}

	apiServer := &http.Server{Addr: cfg.HTTPAddr, Handler: newAPI(a, log).routes(), ReadHeaderTimeout: 5 * time.Second}
	go serve(log, "api", apiServer)
	defer shutdownServer(apiServer)

	log.Info(
		"dcbd ready",
		slog.String("api", cfg.HTTPAddr),
		slog.String("metrics", cfg.MetricsAddr),
		slog.String("store", string(cfg.Store)),
	)

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case <-a.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return a.Err()
}

func serve(log *slog.Logger, name string, srv *http.Server) {
	log.Info("http server starting", slog.String("server", name), slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server error", slog.String("server", name), slog.Any("error", err))
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
