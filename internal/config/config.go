package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Database DatabaseConfig `env:",prefix=DB_"`
	SMTP     SMTPConfig     `env:",prefix=SMTP_"`
	AMQP     AMQPConfig     `env:",prefix=AMQP_"`
	Dispatch DispatchConfig `env:",prefix=DISPATCH_"`
	Audience AudienceConfig `env:",prefix=AUDIENCE_"`
	App      AppConfig      `env:",prefix=APP_"`
}

type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=15"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=60"` // seconds
}

// DatabaseConfig selects and configures the persistence gateway. Driver "memory" keeps
// everything in process, which is only useful for local runs.
type DatabaseConfig struct {
	Driver   string `env:"DRIVER,default=postgres"`
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=campaigns"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=10"`
	MinConns int    `env:"MIN_CONNS,default=2"`
}

type SMTPConfig struct {
	// Mode is "smtp" for real delivery or "log" to only log outgoing mail.
	Mode     string        `env:"MODE,default=log"`
	Host     string        `env:"HOST,default=smtp.gmail.com"`
	Port     int           `env:"PORT,default=465"`
	User     string        `env:"USER"`
	Password string        `env:"PASSWORD"`
	From     string        `env:"FROM,default=no-reply@example.com"`
	FromName string        `env:"FROM_NAME"`
	Timeout  time.Duration `env:"TIMEOUT,default=30s"`
}

type AMQPConfig struct {
	// URL empty means ticks go through the in-memory queue.
	URL   string `env:"URL"`
	Queue string `env:"QUEUE,default=campaign_ticks"`
}

type DispatchConfig struct {
	TickInterval         time.Duration `env:"TICK_INTERVAL,default=1m"`
	MaxRetries           int           `env:"MAX_RETRIES,default=3"`
	ClaimTimeout         time.Duration `env:"CLAIM_TIMEOUT,default=10m"`
	SendConcurrency      int           `env:"SEND_CONCURRENCY,default=1"`
	DefaultEmailsPerHour int           `env:"DEFAULT_EMAILS_PER_HOUR,default=45"`
}

type AudienceConfig struct {
	RequiredFields   []string      `env:"REQUIRED_FIELDS,default=date_of_birth,gender,occupation"`
	EstimateCacheTTL time.Duration `env:"ESTIMATE_CACHE_TTL,default=1m"`
}

type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith processes configuration from an arbitrary lookuper, which keeps tests off the real env.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Dispatch.TickInterval <= 0 {
		return fmt.Errorf("DISPATCH_TICK_INTERVAL must be positive, got %s", c.Dispatch.TickInterval)
	}
	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must be at least 1, got %d", c.Dispatch.MaxRetries)
	}
	if c.Dispatch.SendConcurrency < 1 {
		c.Dispatch.SendConcurrency = 1
	}
	if c.Dispatch.DefaultEmailsPerHour < 1 {
		return fmt.Errorf("DISPATCH_DEFAULT_EMAILS_PER_HOUR must be positive, got %d", c.Dispatch.DefaultEmailsPerHour)
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	switch c.SMTP.Mode {
	case "smtp", "log":
	default:
		return fmt.Errorf("unknown SMTP_MODE %q", c.SMTP.Mode)
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
