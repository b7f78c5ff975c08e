package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KevoDB/blockq/pkg/common/log"
	"github.com/KevoDB/blockq/pkg/config"
	"github.com/KevoDB/blockq/pkg/engine"
	"github.com/KevoDB/blockq/pkg/telemetry"
)

// Options holds the command line configuration
type Options struct {
	ConfigPath  string
	DataDir     string
	LogLevel    string
	Exporters   string
	MetricsAddr string
	Demo        bool
	Seed        int64
}

func main() {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	log.SetDefaultLogger(logger)

	tel, err := setupTelemetry(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(tel)

	var metricsServer *http.Server
	if opts.MetricsAddr != "" {
		metricsServer, err = serveMetrics(tel, opts.MetricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting metrics endpoint: %v\n", err)
			os.Exit(1)
		}
		defer metricsServer.Close()
	}

	eng, err := engine.Open(cfg, engine.WithLogger(logger), engine.WithTelemetry(tel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if opts.Demo {
		setupGracefulShutdown(eng, tel)
		if err := runDemo(context.Background(), eng, os.Stdout, opts.Seed); err != nil {
			fmt.Fprintf(os.Stderr, "Demo failed: %v\n", err)
			eng.Close()
			shutdownTelemetry(tel)
			os.Exit(1)
		}
		return
	}

	runInteractive(eng, cfg.DataDir, opts.Seed)
}

// parseFlags parses command line flags and returns Options
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "blockq - external-memory tuple query engine\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: blockq [options]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "By default, blockq runs an interactive shell over an in-memory disk.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "With -demo it runs the full selection, sort, index, join and difference sequence.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor shell commands, start blockq and type .help\n")
	}

	configPath := flag.String("config", "", "Path to a JSON configuration file")
	dataDir := flag.String("data", "", "Directory of the file-backed disk (empty for in-memory)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	exporters := flag.String("telemetry", "", "Comma-separated telemetry exporters: stdout, prometheus")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve Prometheus metrics on, e.g. localhost:9090")
	demo := flag.Bool("demo", false, "Run the demo sequence and exit")
	seed := flag.Int64("seed", 1, "Seed for generated relations")

	flag.Parse()

	return Options{
		ConfigPath:  *configPath,
		DataDir:     *dataDir,
		LogLevel:    *logLevel,
		Exporters:   *exporters,
		MetricsAddr: *metricsAddr,
		Demo:        *demo,
		Seed:        *seed,
	}
}

// loadConfig reads the configuration file when given and applies flag overrides
func loadConfig(opts Options) (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefaultConfig(opts.DataDir)
	}

	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

// setupTelemetry builds the telemetry provider. Telemetry is off unless the
// BLOCKQ_TELEMETRY_* environment enables it; a non-empty -telemetry flag
// replaces the environment's exporters and serving metrics implies the
// prometheus exporter.
func setupTelemetry(opts Options) (telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = false
	cfg.Exporters = nil
	cfg.LoadFromEnv()
	if os.Getenv("BLOCKQ_TELEMETRY_ENABLED") == "" {
		cfg.Enabled = len(cfg.Exporters) > 0
	}

	if opts.Exporters != "" {
		cfg.Exporters = nil
		for _, name := range strings.Split(opts.Exporters, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Exporters = append(cfg.Exporters, name)
			}
		}
		cfg.Enabled = len(cfg.Exporters) > 0
	}
	if opts.MetricsAddr != "" {
		if !cfg.HasExporter("prometheus") {
			cfg.Exporters = append(cfg.Exporters, "prometheus")
		}
		cfg.Enabled = true
	}
	if cfg.Enabled && len(cfg.Exporters) == 0 {
		cfg.Exporters = []string{"stdout"}
	}
	return telemetry.New(cfg)
}

func shutdownTelemetry(tel telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %v\n", err)
	}
}

// serveMetrics exposes the provider's Prometheus registry over HTTP
func serveMetrics(tel telemetry.Telemetry, addr string) (*http.Server, error) {
	provider, ok := tel.(*telemetry.TelemetryProvider)
	if !ok || provider.Registry() == nil {
		return nil, errors.New("prometheus exporter is not configured")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(provider.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint stopped: %v", err)
		}
	}()
	log.Info("serving metrics on http://%s/metrics", addr)
	return server, nil
}

// setupGracefulShutdown closes the engine and flushes telemetry on SIGINT or SIGTERM
func setupGracefulShutdown(eng *engine.Engine, tel telemetry.Telemetry) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

		if err := eng.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing engine: %v\n", err)
		}
		shutdownTelemetry(tel)

		fmt.Println("Shutdown complete")
		os.Exit(0)
	}()
}
