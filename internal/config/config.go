// Package config loads process configuration from an optional config.yaml,
// a .env file and ACADEMY_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	minSecretBytes = 16
)

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig is optional; an empty Addr disables Redis entirely.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SecurityConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	OTPTTL      time.Duration `mapstructure:"otp_ttl"`
	OTPCooldown time.Duration `mapstructure:"otp_cooldown"`
	BcryptCost  int           `mapstructure:"bcrypt_cost"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// LogConfig overrides the environment's logging defaults when set.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type JobsConfig struct {
	OTPPurgeSpec      string        `mapstructure:"otp_purge_spec"`
	OTPPurgeRetention time.Duration `mapstructure:"otp_purge_retention"`
}

type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Security    SecurityConfig `mapstructure:"security"`
	SMTP        SMTPConfig     `mapstructure:"smtp"`
	Jobs        JobsConfig     `mapstructure:"jobs"`
	Log         LogConfig      `mapstructure:"log"`
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from the working directory and the environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// LoadFile reads configuration from an explicit YAML file plus the environment.
func LoadFile(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*AppConfig, error) {
	v.SetEnvPrefix("ACADEMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.request_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "30s")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "data/academy.db")
	v.SetDefault("database.timeout", "5s")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "academy")
	v.SetDefault("security.token_ttl", "60m")
	v.SetDefault("security.otp_ttl", "5m")
	v.SetDefault("security.otp_cooldown", "0s")
	v.SetDefault("security.bcrypt_cost", 12)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("jobs.otp_purge_spec", "0 0 * * * *") // hourly
	v.SetDefault("jobs.otp_purge_retention", "24h")

	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "")
}

// Validate rejects configurations the server cannot start with.
func (c *AppConfig) Validate() error {
	if len(c.Security.JWTSecret) < minSecretBytes {
		return fmt.Errorf("config: security.jwt_secret must be at least %d bytes", minSecretBytes)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.Security.TokenTTL <= 0 {
		return errors.New("config: security.token_ttl must be positive")
	}
	if c.Security.OTPTTL <= 0 {
		return errors.New("config: security.otp_ttl must be positive")
	}
	if c.Security.OTPCooldown < 0 {
		return errors.New("config: security.otp_cooldown must not be negative")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	if c.IsProduction() && c.SMTP.Host == "" {
		return errors.New("config: smtp.host is required in production")
	}
	return nil
}
