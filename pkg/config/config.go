package config

import (
	"strings"
	"time"

	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Adapters    AdaptersConfig    `mapstructure:"adapters"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

type EngineConfig struct {
	InstanceID     string        `mapstructure:"instance_id"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"`
	OrphanAfter    time.Duration `mapstructure:"orphan_after"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	LockKey           string        `mapstructure:"lock_key"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type QueueConfig struct {
	// Backend 可选 redis / memory
	Backend         string        `mapstructure:"backend"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Capacity        int64         `mapstructure:"capacity"`
	VisibilityLease time.Duration `mapstructure:"visibility_lease"`
}

type RetryConfig struct {
	Ceiling   int           `mapstructure:"ceiling"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	Jitter    float64       `mapstructure:"jitter"`
}

type CredentialsConfig struct {
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
	// RefreshTimeout bounds one token refresh. It is independent of the caller's context.
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	// EncryptionKey is a base64 encoded 32 byte key used to seal secret values.
	EncryptionKey string                         `mapstructure:"encryption_key"`
	Providers     map[string]OAuthProviderConfig `mapstructure:"providers"`
}

type OAuthProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type AdaptersConfig struct {
	Timeout          time.Duration                    `mapstructure:"timeout"`
	BreakerThreshold int                              `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration                    `mapstructure:"breaker_reset"`
	Providers        map[string]ProviderAdapterConfig `mapstructure:"providers"`
}

type ProviderAdapterConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	PageSize      int     `mapstructure:"page_size"`
	MaxPages      int     `mapstructure:"max_pages"`
}

type HealthCheckConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	Jitter           time.Duration `mapstructure:"jitter"`
	Tick             time.Duration `mapstructure:"tick"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Concurrency      int           `mapstructure:"concurrency"`
}

type DatabaseConfig struct {
	// Driver 可选 mysql / memory
	Driver                string        `mapstructure:"driver"`
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Database              string        `mapstructure:"database"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	LogLevel              string        `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads the YAML file at configPath. Every key can be overridden from the
// environment, e.g. ENGINE_DATABASE_PASSWORD for database.password.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("engine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	// 设置默认值
	v.SetDefault("engine.instance_id", "engine-001")
	v.SetDefault("engine.max_workers", 10)
	v.SetDefault("engine.poll_interval", "1s")
	v.SetDefault("engine.lock_ttl", "2m")
	v.SetDefault("engine.lock_retry_delay", "5s")
	v.SetDefault("engine.orphan_after", "1h")
	v.SetDefault("engine.default_timeout", "60s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", "1m")
	v.SetDefault("scheduler.batch_size", 500)
	v.SetDefault("scheduler.lock_key", "integration_engine_scheduler_leader")
	v.SetDefault("scheduler.lock_timeout", "5s")
	v.SetDefault("scheduler.heartbeat_interval", "10s")

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.key_prefix", "integration-engine:queue")
	v.SetDefault("queue.capacity", 10000)
	v.SetDefault("queue.visibility_lease", "5m")

	v.SetDefault("retry.ceiling", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "5m")
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("credentials.refresh_margin", "5m")
	v.SetDefault("credentials.refresh_timeout", "30s")

	v.SetDefault("adapters.timeout", "30s")
	v.SetDefault("adapters.breaker_threshold", 5)
	v.SetDefault("adapters.breaker_reset", "60s")

	v.SetDefault("health_check.enabled", true)
	v.SetDefault("health_check.interval", "15m")
	v.SetDefault("health_check.jitter", "2m")
	v.SetDefault("health_check.tick", "30s")
	v.SetDefault("health_check.timeout", "10s")
	v.SetDefault("health_check.failure_threshold", 3)
	v.SetDefault("health_check.concurrency", 8)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.max_idle_connections", 10)
	v.SetDefault("database.connection_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.max_header_bytes", 1048576)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Validate rejects combinations the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("queue.backend=redis requires redis.enabled")
		}
	default:
		return errors.Newf("unknown queue backend %q", c.Queue.Backend)
	}
	switch c.Database.Driver {
	case "mysql", "memory":
	default:
		return errors.Newf("unknown database driver %q", c.Database.Driver)
	}
	if c.Engine.MaxWorkers <= 0 {
		return errors.New("engine.max_workers must be positive")
	}
	if c.Retry.Ceiling < 0 {
		return errors.New("retry.ceiling must not be negative")
	}
	return nil
}
