// Command liquidationd runs the liquidation bot for one configured protocol
// (pooled or CDP) against a single deployment (spec.md §1, §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhbchain/liquidationd/observability/logging"
	telemetry "github.com/nhbchain/liquidationd/observability/otel"

	config "github.com/nhbchain/liquidationd/config/liquidationd"
	"github.com/nhbchain/liquidationd/services/liquidationd"
)

// run resolves the CLI contract of spec.md §6: one positional argument (the
// protocol name), exit code 1 on an unknown name or missing configuration.
func run() int {
	var configDir string
	flag.StringVar(&configDir, "config-dir", "config/liquidationd", "directory holding one YAML file per named protocol deployment")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: liquidationd <protocol-name>")
		return 1
	}
	protocol := flag.Arg(0)

	cfg, err := config.LoadByName(configDir, protocol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config for protocol %q: %v\n", protocol, err)
		return 1
	}

	return runDaemon(cfg)
}

func main() {
	os.Exit(run())
}

func runDaemon(cfg config.Config) int {
	logger := logging.SetupWithRotation("liquidationd", cfg.Environment, cfg.LogFilePath)

	otlpEndpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	insecure := cfg.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "liquidationd",
		Environment: cfg.Environment,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Printf("init telemetry: %v", err)
		return 1
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := liquidationd.Run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("liquidationd exited", "error", err)
		return 1
	}
	return 0
}
