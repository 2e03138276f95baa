// Package config holds the service configuration, read from the
// environment with an optional YAML overlay file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type TelemetryCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr     string
	LogLevel string

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string

	// Data source.
	DataRoot   string
	DataReader string
	Simulation string

	// Cache budgets and prefetch tuning.
	MaxFrameCacheSize   int
	DatasetCacheSize    int
	PrefetchDepth       int
	PrefetchConcurrency int
	PrefetchQueue       int

	// Default geographic domain served when a request carries no bbox.
	DomainLatMin float64
	DomainLatMax float64
	DomainLonMin float64
	DomainLonMax float64

	Invalidation InvalidationCfg
	Telemetry    TelemetryCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),

		DataRoot:   getenv("DATA_ROOT", "/data2/VVM/taiwanvvm_summer"),
		DataReader: getenv("DATA_READER", "synthetic"),
		Simulation: getenv("SIMULATION", ""),

		MaxFrameCacheSize:   getint("MAX_FRAME_CACHE_SIZE", 200),
		DatasetCacheSize:    getint("DATASET_CACHE_SIZE", 10),
		PrefetchDepth:       getint("PREFETCH_DEPTH", 3),
		PrefetchConcurrency: getint("PREFETCH_CONCURRENCY", 1),
		PrefetchQueue:       getint("PREFETCH_QUEUE", 16),

		DomainLatMin: getfloat("DOMAIN_LAT_MIN", 21.9),
		DomainLatMax: getfloat("DOMAIN_LAT_MAX", 25.3),
		DomainLonMin: getfloat("DOMAIN_LON_MIN", 119.9),
		DomainLonMax: getfloat("DOMAIN_LON_MAX", 122.1),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "vvm-dataset-updates"),
			GroupID: getenv("KAFKA_GROUP_ID", "vvmviz-invalidator"),
		},
		Telemetry: TelemetryCfg{
			Enabled: getbool("TELEMETRY_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("TELEMETRY_TOPIC", "vvmviz-frame-access"),
			Queue:   getint("TELEMETRY_QUEUE", 1024),
		},
	}
}

// Load builds the configuration from the environment and, when path is
// non-empty, overlays values from a YAML file. File values win: the
// flag pointing at a file is an explicit operator choice.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := cfg.applyYAML(b); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

type fileConfig struct {
	Addr     *string `yaml:"addr"`
	LogLevel *string `yaml:"log_level"`
	DataRoot *string `yaml:"data_root"`
	Reader   *string `yaml:"data_reader"`
	Sim      *string `yaml:"simulation"`
	Cache    struct {
		MaxFrames *int `yaml:"max_frames"`
		Datasets  *int `yaml:"datasets"`
	} `yaml:"cache"`
	Prefetch struct {
		Depth       *int `yaml:"depth"`
		Concurrency *int `yaml:"concurrency"`
		Queue       *int `yaml:"queue"`
	} `yaml:"prefetch"`
	Domain struct {
		LatMin *float64 `yaml:"lat_min"`
		LatMax *float64 `yaml:"lat_max"`
		LonMin *float64 `yaml:"lon_min"`
		LonMax *float64 `yaml:"lon_max"`
	} `yaml:"domain"`
}

func (c *Config) applyYAML(b []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	setstr(&c.Addr, f.Addr)
	setstr(&c.LogLevel, f.LogLevel)
	setstr(&c.DataRoot, f.DataRoot)
	setstr(&c.DataReader, f.Reader)
	setstr(&c.Simulation, f.Sim)
	setint(&c.MaxFrameCacheSize, f.Cache.MaxFrames)
	setint(&c.DatasetCacheSize, f.Cache.Datasets)
	setint(&c.PrefetchDepth, f.Prefetch.Depth)
	setint(&c.PrefetchConcurrency, f.Prefetch.Concurrency)
	setint(&c.PrefetchQueue, f.Prefetch.Queue)
	setfloat(&c.DomainLatMin, f.Domain.LatMin)
	setfloat(&c.DomainLatMax, f.Domain.LatMax)
	setfloat(&c.DomainLonMin, f.Domain.LonMin)
	setfloat(&c.DomainLonMax, f.Domain.LonMax)
	return nil
}

func (c Config) Validate() error {
	if c.MaxFrameCacheSize <= 0 {
		return fmt.Errorf("MAX_FRAME_CACHE_SIZE must be > 0, got %d", c.MaxFrameCacheSize)
	}
	if c.DatasetCacheSize <= 0 {
		return fmt.Errorf("DATASET_CACHE_SIZE must be > 0, got %d", c.DatasetCacheSize)
	}
	if c.PrefetchDepth < 0 {
		return fmt.Errorf("PREFETCH_DEPTH must be >= 0, got %d", c.PrefetchDepth)
	}
	if c.PrefetchConcurrency <= 0 {
		return fmt.Errorf("PREFETCH_CONCURRENCY must be > 0, got %d", c.PrefetchConcurrency)
	}
	if c.PrefetchQueue <= 0 {
		return fmt.Errorf("PREFETCH_QUEUE must be > 0, got %d", c.PrefetchQueue)
	}
	if c.DomainLatMin >= c.DomainLatMax || c.DomainLonMin >= c.DomainLonMax {
		return fmt.Errorf("default domain is empty: lat [%g,%g] lon [%g,%g]",
			c.DomainLatMin, c.DomainLatMax, c.DomainLonMin, c.DomainLonMax)
	}
	if c.DataReader == "" {
		return fmt.Errorf("DATA_READER must not be empty")
	}
	return nil
}

func setstr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setint(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setfloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}
