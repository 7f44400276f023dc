// Command normalizer reads a JSON array of receipts from stdin, runs the
// normalization pipeline over them and writes the normalized receipts with
// a batch report to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FACorreiaa/receipt-normalizer/internal/app"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/pipeline"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/FACorreiaa/receipt-normalizer/pkg/config"
)

type output struct {
	Report   *pipeline.BatchReport `json:"report"`
	Receipts []*receipt.Receipt    `json:"receipts"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger, os.Stdin, os.Stdout); err != nil {
		logger.Error("normalizer failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, in io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.InitDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Cleanup()

	if err := deps.Scheduler.Start(); err != nil {
		return err
	}

	if deps.Registry != nil {
		srv := metricsServer(deps.Registry, cfg.Observability.MetricsPort)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var receipts []*receipt.Receipt
	if err := json.NewDecoder(in).Decode(&receipts); err != nil {
		return fmt.Errorf("failed to decode receipts: %w", err)
	}
	for _, rec := range receipts {
		if rec != nil {
			rec.AssignIDs()
		}
	}

	report, err := deps.Pipeline.RunBatch(ctx, receipts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{Report: report, Receipts: receipts}); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func metricsServer(reg *prometheus.Registry, port int) *http.Server {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
