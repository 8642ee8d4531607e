package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr           string   `mapstructure:"addr"`
		LogLevel       string   `mapstructure:"log_level"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RequestTimeout int      `mapstructure:"request_timeout_seconds"`
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

	Render struct {
		Locale string `mapstructure:"locale"`
	} `mapstructure:"render"`

	Preview struct {
		BatchConcurrency int `mapstructure:"batch_concurrency"`
	} `mapstructure:"preview"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	return load(v)
}

var envKeys = strings.NewReplacer(".", "_")

func load(v *viper.Viper) Config {
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(envKeys)
	v.AutomaticEnv()
	bindKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

// AutomaticEnv only resolves keys viper already knows about, so every
// field is registered up front (APP_POSTGRES_HOST -> postgres.host).
func bindKeys(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level", "server.allowed_origins", "server.request_timeout_seconds",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password",
		"postgres.db_name", "postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds",
		"render.locale",
		"preview.batch_concurrency",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10
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
	if c.Listener.Channel == "" {
		c.Listener.Channel = "email_template_change"
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	if c.Render.Locale == "" {
		c.Render.Locale = "ko"
	}
	if c.Preview.BatchConcurrency <= 0 {
		c.Preview.BatchConcurrency = 8
	}
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

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}
