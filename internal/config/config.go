package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration (file + .env + env overrides)
type Config struct {
	UsersRoot             string `mapstructure:"users_root"`
	LogLevel              string `mapstructure:"log_level"`
	LogFormat             string `mapstructure:"log_format"`
	DryRun                bool   `mapstructure:"dry_run"`
	MaxDisablesPerRun     int    `mapstructure:"max_disables_per_run"`
	NotifyIntervalMinutes int    `mapstructure:"notify_interval_minutes"`
	UTCOffsetHours        int    `mapstructure:"utc_offset_hours"`

	Platform struct {
		BaseURL        string  `mapstructure:"base_url"`
		RatePerSecond  float64 `mapstructure:"rate_per_second"`
		Burst          int     `mapstructure:"burst"`
		TimeoutSeconds int     `mapstructure:"timeout_seconds"`
		MaxRetries     int     `mapstructure:"max_retries"`
	} `mapstructure:"platform"`

	Telegram struct {
		BaseURL  string `mapstructure:"base_url"`
		BotToken string `mapstructure:"bot_token"`
	} `mapstructure:"telegram"`

	Ledger struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"ledger"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Load reads configs/application.yaml (or file, when given), then .env
// files, then APP_* environment variables. The config file is optional.
func Load(file string, envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...) // missing .env is fine

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// names used by existing deployments
	_ = v.BindEnv("telegram.bot_token", "APP_TELEGRAM_BOT_TOKEN", "TG_BOT_TOKEN")
	_ = v.BindEnv("platform.base_url", "APP_PLATFORM_BASE_URL", "VK_ADS_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it, and
// holds the defaults where zero is a meaningful value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("users_root", "users")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("dry_run", false)
	v.SetDefault("max_disables_per_run", 15)
	v.SetDefault("notify_interval_minutes", 60)
	v.SetDefault("utc_offset_hours", 3)
	v.SetDefault("platform.base_url", "https://ads.vk.com")
	v.SetDefault("platform.rate_per_second", 5.0)
	v.SetDefault("platform.burst", 5)
	v.SetDefault("platform.timeout_seconds", 30)
	v.SetDefault("platform.max_retries", 3)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("ledger.backend", BackendFile)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", "")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("listener.channel", "spendguard_run")
	v.SetDefault("listener.reconnect_seconds", 5)
}

func validate(c *Config) error {
	if c.UsersRoot == "" {
		c.UsersRoot = "users"
	}
	if c.MaxDisablesPerRun == 0 {
		c.MaxDisablesPerRun = 15
	}
	if c.Platform.RatePerSecond <= 0 {
		c.Platform.RatePerSecond = 5
	}
	if c.Platform.Burst <= 0 {
		c.Platform.Burst = 1
	}
	if c.Platform.TimeoutSeconds <= 0 {
		c.Platform.TimeoutSeconds = 30
	}
	if c.Platform.MaxRetries <= 0 {
		c.Platform.MaxRetries = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	c.Ledger.Backend = strings.ToLower(c.Ledger.Backend)
	switch c.Ledger.Backend {
	case "":
		c.Ledger.Backend = BackendFile
	case BackendFile, BackendPostgres:
	default:
		return fmt.Errorf("ledger.backend: unknown backend %q", c.Ledger.Backend)
	}
	if c.UTCOffsetHours < -12 || c.UTCOffsetHours > 14 {
		return fmt.Errorf("utc_offset_hours: %d out of range", c.UTCOffsetHours)
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

// Location is the fixed offset used for ledger timestamps and day windows.
func (c Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.UTCOffsetHours), c.UTCOffsetHours*3600)
}

func (c Config) NotifyInterval() time.Duration {
	return time.Duration(c.NotifyIntervalMinutes) * time.Minute
}

func (c Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Platform.TimeoutSeconds) * time.Second
}
