// Package config loads fraudguard configuration.
//
// Precedence is environment > config file > tier defaults. Environment keys
// carry the FRAUDGUARD_ prefix with dots replaced by underscores, so
// engine.max_workers is read from FRAUDGUARD_ENGINE_MAX_WORKERS.
package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "FRAUDGUARD"

// secretKeys may only come from the environment.
var secretKeys = []string{
	"repository.postgres_password",
	"cache.redis_password",
	"event_bus.nats_token",
}

// Load builds a Config from defaults, an optional config file and the
// environment, then validates it.
func Load(configPath string) (*domain.Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	// The tier picks the default backends, so resolve it before the rest.
	v.SetDefault("tier", string(domain.TierCommunity))
	base := domain.DefaultConfig()
	switch tier := domain.Tier(strings.ToLower(v.GetString("tier"))); tier {
	case domain.TierCommunity:
	case domain.TierPro:
		base = domain.ProConfig()
	default:
		return nil, fmt.Errorf("tier must be community or pro, got %q", tier)
	}
	setDefaults(v, base)

	cfg := &domain.Config{
		Server: domain.ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		Tier: base.Tier,
		Engine: domain.EngineConfig{
			Backend:            strings.ToLower(v.GetString("engine.backend")),
			MaxWorkers:         v.GetInt("engine.max_workers"),
			ReloadSchedule:     v.GetString("engine.reload_schedule"),
			ValidationCacheTTL: v.GetDuration("engine.validation_cache_ttl"),
			PersistDeclined:    v.GetBool("engine.persist_declined"),
		},
		Repository: domain.RepositoryConfig{
			Driver:           v.GetString("repository.driver"),
			SQLitePath:       v.GetString("repository.sqlite_path"),
			PostgresHost:     v.GetString("repository.postgres_host"),
			PostgresPort:     v.GetInt("repository.postgres_port"),
			PostgresUser:     v.GetString("repository.postgres_user"),
			PostgresPassword: v.GetString("repository.postgres_password"),
			PostgresDB:       v.GetString("repository.postgres_db"),
			PostgresSSLMode:  v.GetString("repository.postgres_ssl_mode"),
			MaxOpenConns:     v.GetInt("repository.max_open_conns"),
			MaxIdleConns:     v.GetInt("repository.max_idle_conns"),
			ConnMaxLifetime:  v.GetDuration("repository.conn_max_lifetime"),
		},
		Cache: domain.CacheConfig{
			Type:           v.GetString("cache.type"),
			LocalMaxSize:   v.GetInt("cache.local_max_size"),
			LocalTTL:       v.GetDuration("cache.local_ttl"),
			RedisAddr:      v.GetString("cache.redis_addr"),
			RedisPassword:  v.GetString("cache.redis_password"),
			RedisDB:        v.GetInt("cache.redis_db"),
			EnableTwoPhase: v.GetBool("cache.enable_two_phase"),
		},
		EventBus: domain.EventBusConfig{
			Type:                v.GetString("event_bus.type"),
			ChannelBufferSize:   v.GetInt("event_bus.channel_buffer_size"),
			NATSUrl:             v.GetString("event_bus.nats_url"),
			NATSToken:           v.GetString("event_bus.nats_token"),
			NATSMaxReconnects:   v.GetInt("event_bus.nats_max_reconnects"),
			NATSReconnectWait:   v.GetInt("event_bus.nats_reconnect_wait"),
			ConsumeTransactions: v.GetBool("event_bus.consume_transactions"),
		},
		Logging: domain.LoggingConfig{
			Level:  strings.ToLower(v.GetString("logging.level")),
			Format: strings.ToLower(v.GetString("logging.format")),
		},
		Tracing: domain.TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			ServiceName: v.GetString("tracing.service_name"),
			Endpoint:    v.GetString("tracing.endpoint"),
			Insecure:    v.GetBool("tracing.insecure"),
			SampleRatio: v.GetFloat64("tracing.sample_ratio"),
		},
		Metrics: domain.MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("engine.backend", c.Engine.Backend)
	v.SetDefault("engine.max_workers", c.Engine.MaxWorkers)
	v.SetDefault("engine.reload_schedule", c.Engine.ReloadSchedule)
	v.SetDefault("engine.validation_cache_ttl", c.Engine.ValidationCacheTTL)
	v.SetDefault("engine.persist_declined", c.Engine.PersistDeclined)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", "")
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", "")
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)
	v.SetDefault("event_bus.consume_transactions", c.EventBus.ConsumeTransactions)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", c.Tracing.Insecure)
	v.SetDefault("tracing.sample_ratio", c.Tracing.SampleRatio)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)
}

// Validate checks a loaded configuration and reports the first problem.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive, got read=%d write=%d",
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}

	switch cfg.Engine.Backend {
	case domain.BackendNative, domain.BackendCEL:
	default:
		return fmt.Errorf("engine.backend must be native or cel, got %q", cfg.Engine.Backend)
	}
	if cfg.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("engine.max_workers must be positive, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Engine.ReloadSchedule); err != nil {
			return fmt.Errorf("engine.reload_schedule %q: %w", cfg.Engine.ReloadSchedule, err)
		}
	}
	if cfg.Engine.ValidationCacheTTL < 0 {
		return fmt.Errorf("engine.validation_cache_ttl must not be negative, got %v", cfg.Engine.ValidationCacheTTL)
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			return fmt.Errorf("repository.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" || cfg.Repository.PostgresDB == "" {
			return fmt.Errorf("repository.postgres_host and repository.postgres_db are required for the postgres driver")
		}
	default:
		return fmt.Errorf("repository.driver must be sqlite or postgres, got %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case domain.CacheMemory:
	case domain.CacheRedis:
		if cfg.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("cache.type must be memory or redis, got %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			return fmt.Errorf("event_bus.nats_url is required for the nats bus")
		}
	default:
		return fmt.Errorf("event_bus.type must be channel or nats, got %q", cfg.EventBus.Type)
	}

	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", cfg.Tracing.SampleRatio)
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// validateNoSecretsInConfig keeps credentials out of config files.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			return fmt.Errorf("%s not allowed in config files (use the %s environment variable)", key, env)
		}
	}
	return nil
}
