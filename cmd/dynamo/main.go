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
	"syscall"

	"github.com/WillKirkmanM/dynamo/internal/cache"
	"github.com/WillKirkmanM/dynamo/internal/config"
	"github.com/WillKirkmanM/dynamo/internal/dynlib"
	"github.com/WillKirkmanM/dynamo/internal/logging"
	"github.com/WillKirkmanM/dynamo/internal/metrics"
	"github.com/WillKirkmanM/dynamo/internal/module"
	"github.com/WillKirkmanM/dynamo/internal/netutil"
	"github.com/WillKirkmanM/dynamo/internal/reactor"
	"github.com/WillKirkmanM/dynamo/internal/stats"
	"github.com/WillKirkmanM/dynamo/internal/tracing"
	"github.com/WillKirkmanM/dynamo/internal/worker"
)

// main wires the server together: configuration, observability, the module
// cache and loader, the agent pool, the revalidator, the statistics
// reporter and finally the reactor. The serving loop runs until the
// process is killed; only the ancillary pieces (trace flushing) shut down
// cleanly on a signal
func main() {
	var configPath = flag.String("config", "dynamo.yaml", "Path to configuration file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatal(err)
	}
	cfg := config.GetInstance()

	// A single positional argument overrides the listening port; with no
	// argument the configured default (80) applies
	if arg := flag.Arg(0); arg != "" {
		port, err := strconv.Atoi(arg)
		if err != nil || port < 0 || port > 65535 {
			log.Fatalf("invalid port number %q", arg)
		}
		cfg.Server.Port = port
	}

	logger := logging.NewLogger(cfg.Tracing.ServiceName)
	ctx := context.Background()

	tracer, err := tracing.Init(cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialise tracing", err)
	}

	m := metrics.NewMetrics()

	// Tens of thousands of concurrent connections need headroom in the
	// descriptor table; a failure here only caps throughput
	if err := netutil.RaiseFDLimit(cfg.Server.MaxFDLimit); err != nil {
		logger.Warn(ctx, "could not raise file descriptor limit: "+err.Error())
	}

	// Broken pipes surface as EPIPE on write and tear down one
	// connection, never the process
	signal.Ignore(syscall.SIGPIPE)

	var moduleCache *cache.Cache
	if cfg.Cache.Enabled {
		moduleCache = cache.New(cfg.Cache.CapacityBytes)
	}
	loader := module.NewLoader(dynlib.NewRuntime(), moduleCache, cfg.Workers.CGIDir, logger, m)

	pool := worker.NewPool(cfg.Workers.Count, cfg.Workers.Port,
		cfg.Server.ListenBacklog, loader, logger)
	if err := pool.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start worker pool", err)
	}

	if cfg.Cache.Enabled {
		loader.NewRevalidator(cfg.Cache.RevalidatePeriod).Start(ctx)
	}

	reporter := stats.NewReporter(cfg.Stats.Interval, logger)
	if cfg.Stats.Enabled {
		reporter.Start(ctx)
	}

	r, err := reactor.New(cfg, pool.Port(), logger, m, reporter)
	if err != nil {
		logger.Fatal(ctx, "failed to start reactor", err)
	}
	go r.Run()

	// Optional admin endpoint for Prometheus scraping
	if cfg.Server.AdminPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			addr := fmt.Sprintf(":%d", cfg.Server.AdminPort)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error(ctx, "admin endpoint failed", err)
			}
		}()
	}

	// Block until termination; the serving loop has no graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error(ctx, "trace flush failed", err)
	}
}
