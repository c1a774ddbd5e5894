package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr        string
	DataDir         string
	BackupRetention int
	CacheCapacity   int
	CacheTTL        time.Duration
	SweepInterval   time.Duration
	FlushInterval   time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

func Load() (Config, error) {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CLINICA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("data.dir", "./data")
	v.SetDefault("store.backup_retention", 5)
	v.SetDefault("cache.capacity", 100)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("maintenance.sweep_interval", "30s")
	v.SetDefault("maintenance.flush_interval", "5m")
	v.SetDefault("shutdown.timeout", "10s")
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("http.addr", "CLINICA_HTTP_ADDR", "HTTP_ADDR")
	_ = v.BindEnv("data.dir", "CLINICA_DATA_DIR", "DATA_DIR")
	_ = v.BindEnv("store.backup_retention", "CLINICA_STORE_BACKUP_RETENTION")
	_ = v.BindEnv("cache.capacity", "CLINICA_CACHE_CAPACITY")
	_ = v.BindEnv("cache.ttl", "CLINICA_CACHE_TTL")
	_ = v.BindEnv("maintenance.sweep_interval", "CLINICA_MAINTENANCE_SWEEP_INTERVAL")
	_ = v.BindEnv("maintenance.flush_interval", "CLINICA_MAINTENANCE_FLUSH_INTERVAL")
	_ = v.BindEnv("shutdown.timeout", "CLINICA_SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("log.level", "CLINICA_LOG_LEVEL", "LOG_LEVEL")

	cfg := Config{
		HTTPAddr:        strings.TrimSpace(v.GetString("http.addr")),
		DataDir:         v.GetString("data.dir"),
		BackupRetention: v.GetInt("store.backup_retention"),
		CacheCapacity:   v.GetInt("cache.capacity"),
		LogLevel:        v.GetString("log.level"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"cache.ttl", &cfg.CacheTTL},
		{"maintenance.sweep_interval", &cfg.SweepInterval},
		{"maintenance.flush_interval", &cfg.FlushInterval},
		{"shutdown.timeout", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if cfg.CacheCapacity < 1 {
		return Config{}, fmt.Errorf("cache.capacity must be positive, got %d", cfg.CacheCapacity)
	}
	if cfg.BackupRetention < 1 {
		return Config{}, fmt.Errorf("store.backup_retention must be positive, got %d", cfg.BackupRetention)
	}

	return cfg, nil
}
