package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ckhsu/vvmviz/internal/cache/coordinator"
	"github.com/ckhsu/vvmviz/internal/cache/datasetcache"
	"github.com/ckhsu/vvmviz/internal/cache/framecache"
	"github.com/ckhsu/vvmviz/internal/config"
	"github.com/ckhsu/vvmviz/internal/health"
	"github.com/ckhsu/vvmviz/internal/invalidation/kafkaconsumer"
	"github.com/ckhsu/vvmviz/internal/logger"
	"github.com/ckhsu/vvmviz/internal/metrics"
	"github.com/ckhsu/vvmviz/internal/prefetch"
	"github.com/ckhsu/vvmviz/internal/processor"
	"github.com/ckhsu/vvmviz/internal/server"
	"github.com/ckhsu/vvmviz/internal/telemetry"
	"github.com/ckhsu/vvmviz/internal/vvm"
	"github.com/ckhsu/vvmviz/internal/vvm/archive"
	_ "github.com/ckhsu/vvmviz/internal/vvm/synthetic"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	configFlag := flag.String("config", "", "optional YAML config file")
	simFlag := flag.String("simulation", "", "simulation to serve (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	if *simFlag != "" {
		cfg.Simulation = strings.TrimSpace(*simFlag)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "vvmviz",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting vvmviz",
		"addr", cfg.Addr,
		"version", Version,
		"reader", cfg.DataReader,
		"data_root", cfg.DataRoot)

	reader, err := vvm.NewReader(cfg.DataReader, vvm.ReaderConfig{Root: cfg.DataRoot, Logger: appLog})
	if err != nil {
		appLog.Error("failed to open data reader", "err", err)
		return 1
	}
	defer func() { _ = reader.Close() }()

	frames, err := framecache.New(cfg.MaxFrameCacheSize, appLog)
	if err != nil {
		appLog.Error("frame cache init failed", "err", err)
		return 1
	}
	catalogs, err := datasetcache.New[*archive.Catalog](cfg.DatasetCacheSize, appLog)
	if err != nil {
		appLog.Error("dataset cache init failed", "err", err)
		return 1
	}

	coord := coordinator.New(frames, catalogs, reader, processor.New(), appLog)

	sim := cfg.Simulation
	if sim == "" {
		sims, err := archive.ListSimulations(cfg.DataRoot)
		if err == nil && len(sims) > 0 {
			sim = sims[0].Name
		}
	}
	coord.SetSimulation(sim)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := prefetch.New(coord, prefetch.Config{
		Depth:       cfg.PrefetchDepth,
		Concurrency: cfg.PrefetchConcurrency,
		Queue:       cfg.PrefetchQueue,
	}, appLog)
	defer sched.Close()
	coord.AttachScheduler(sched)
	sched.SetHorizon(timeSteps(ctx, cfg, catalogs, reader, sim))

	ready := health.NewReadiness()

	if cfg.Telemetry.Enabled {
		pub, err := telemetry.NewPublisher(
			splitCSV(cfg.Telemetry.Brokers), cfg.Telemetry.Topic, cfg.Telemetry.Queue, appLog)
		if err != nil {
			appLog.Warn("telemetry disabled", "err", err)
		} else {
			telemetry.InitGlobal(pub)
			defer func() { _ = telemetry.CloseGlobal() }()
		}
	}

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.NewConfig(
				splitCSV(cfg.Invalidation.Brokers),
				cfg.Invalidation.Topic,
				cfg.Invalidation.GroupID,
			),
			appLog, coord, catalogs,
		)
		ready.Register("kafka_consumer", consumer.Ready)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.MetricsAddr,
			Path:    cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})

		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, p.Handler())

		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			appLog.Info("metrics listen", "addr", cfg.MetricsAddr, "path", cfg.MetricsPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	deps := server.Deps{
		Coordinator: coord,
		Reader:      reader,
		Readiness:   ready,
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// timeSteps prefers the archive catalog (cached per simulation) and
// falls back to the reader, which always knows its own extent.
func timeSteps(ctx context.Context, cfg config.Config, catalogs *datasetcache.Cache[*archive.Catalog], reader vvm.DataAccess, sim string) int {
	if sim != "" {
		c, err := catalogs.GetOrOpen(sim, func() (*archive.Catalog, error) {
			return archive.Scan(filepath.Join(cfg.DataRoot, sim))
		})
		if err == nil && c.TimeSteps() > 0 {
			return c.TimeSteps()
		}
	}
	if n, err := reader.TimeSteps(ctx, sim); err == nil {
		return n
	}
	return 0
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
