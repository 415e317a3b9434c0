package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Bus      BusConfig
	Driver   DriverConfig
	Updater  UpdaterConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort       int           `mapstructure:"http_port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	Path         string `mapstructure:"path"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
	Channel     string   `mapstructure:"channel"`
}

// Enabled reports whether status events should be mirrored to redis.
func (c *RedisConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	ClientName     string        `mapstructure:"client_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type BusConfig struct {
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	ReplayBatchSize   int           `mapstructure:"replay_batch_size"`
}

type DriverConfig struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	LoginAttempts     int           `mapstructure:"login_attempts"`
}

type UpdaterConfig struct {
	// UserID restricts remote requests to this user. Empty accepts every user.
	UserID      string `mapstructure:"user_id"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/gameupdater/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GAMEUPDATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.http_port", 8480)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "gameupdater.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.channel", "gameupdater:events")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.client_name", "gameupdater")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("bus.base_delay", "1s")
	v.SetDefault("bus.max_delay", "60s")
	v.SetDefault("bus.keep_alive_interval", "30s")
	v.SetDefault("bus.replay_batch_size", 100)
	v.SetDefault("driver.inactivity_timeout", "10m")
	v.SetDefault("driver.login_timeout", "2m")
	v.SetDefault("driver.login_attempts", 3)
	v.SetDefault("updater.recent_limit", 5)
	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
