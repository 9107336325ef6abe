// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	liststrings "partnerhub/pkg/platform/strings"
)

// Config is the root configuration, loaded once in main.
type Config struct {
	Server       Server
	Postgres     PostgresConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Verification VerificationConfig
	Mail         MailConfig
	Webhook      WebhookConfig
	Dispatcher   DispatcherConfig
	Log          LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"PARTNERHUB_ADDR"             envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"PARTNERHUB_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// InternalToken guards /internal routes. Empty disables them.
	InternalToken string `env:"PARTNERHUB_INTERNAL_TOKEN"`
}

// PostgresConfig selects the Postgres-backed stores. An empty URL keeps the
// in-memory stores.
type PostgresConfig struct {
	URL           string        `env:"DATABASE_URL"`
	MaxConns      int32         `env:"DATABASE_MAX_CONNS"      envDefault:"10"`
	TxTimeout     time.Duration `env:"DATABASE_TX_TIMEOUT"     envDefault:"5s"`
	RunMigrations bool          `env:"DATABASE_RUN_MIGRATIONS" envDefault:"true"`
}

// RedisConfig selects the Redis resend limiter and the socket bridge.
type RedisConfig struct {
	URL           string        `env:"REDIS_URL"`
	PoolSize      int           `env:"REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns  int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout   time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout   time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout  time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
	SocketChannel string        `env:"REDIS_SOCKET_CHANNEL" envDefault:"partnerhub.order-events"`
}

// KafkaConfig enables the outbox relay and the order event consumer. Empty
// brokers keep dispatch in-process.
type KafkaConfig struct {
	Brokers           []string      `env:"KAFKA_BROKERS"            envSeparator:","`
	Topic             string        `env:"KAFKA_ORDER_EVENTS_TOPIC" envDefault:"order-events"`
	ConsumerGroup     string        `env:"KAFKA_CONSUMER_GROUP"     envDefault:"partnerhub-notifications"`
	Partitions        int32         `env:"KAFKA_TOPIC_PARTITIONS"   envDefault:"3"`
	ReplicationFactor int16         `env:"KAFKA_TOPIC_REPLICATION"  envDefault:"1"`
	RelayInterval     time.Duration `env:"OUTBOX_RELAY_INTERVAL"    envDefault:"500ms"`
	RelayBatchSize    int           `env:"OUTBOX_RELAY_BATCH"       envDefault:"100"`
	DedupeTTL         time.Duration `env:"KAFKA_DEDUPE_TTL"         envDefault:"24h"`
}

// Enabled reports whether a broker list was configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// VerificationConfig controls token lifetime, links and resend throttling.
type VerificationConfig struct {
	TokenTTL     time.Duration `env:"VERIFICATION_TOKEN_TTL"     envDefault:"24h"`
	BaseURL      string        `env:"VERIFICATION_BASE_URL"      envDefault:"http://localhost:8080/affiliates/verify"`
	ResendLimit  int           `env:"VERIFICATION_RESEND_LIMIT"  envDefault:"3"`
	ResendWindow time.Duration `env:"VERIFICATION_RESEND_WINDOW" envDefault:"15m"`
}

// MailConfig selects the outbound mail transport. An empty SMTPAddr logs mail
// instead of sending it.
type MailConfig struct {
	SMTPAddr string `env:"SMTP_ADDR"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"MAIL_FROM" envDefault:"no-reply@partnerhub.local"`
}

// WebhookConfig lists the endpoints notified on order events.
type WebhookConfig struct {
	URLs             []string      `env:"WEBHOOK_URLS"              envSeparator:","`
	Secret           string        `env:"WEBHOOK_SECRET"`
	Timeout          time.Duration `env:"WEBHOOK_TIMEOUT"           envDefault:"5s"`
	BreakerThreshold int           `env:"WEBHOOK_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"WEBHOOK_BREAKER_COOLDOWN"  envDefault:"30s"`
	AllowPrivate     bool          `env:"WEBHOOK_ALLOW_PRIVATE"     envDefault:"false"`
}

// DispatcherConfig sizes the notification fan-out.
type DispatcherConfig struct {
	QueueSize      int           `env:"DISPATCH_QUEUE_SIZE"      envDefault:"1024"`
	Workers        int           `env:"DISPATCH_WORKERS"         envDefault:"4"`
	MaxAttempts    int           `env:"DISPATCH_MAX_ATTEMPTS"    envDefault:"3"`
	InitialBackoff time.Duration `env:"DISPATCH_INITIAL_BACKOFF" envDefault:"200ms"`
	HandlerTimeout time.Duration `env:"DISPATCH_HANDLER_TIMEOUT" envDefault:"10s"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses the full configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = liststrings.CompactList(cfg.Kafka.Brokers)
	cfg.Webhook.URLs = liststrings.CompactList(cfg.Webhook.URLs)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Verification.TokenTTL <= 0 {
		return fmt.Errorf("VERIFICATION_TOKEN_TTL must be positive")
	}
	if c.Verification.ResendLimit <= 0 {
		return fmt.Errorf("VERIFICATION_RESEND_LIMIT must be positive")
	}
	if c.Dispatcher.Workers <= 0 || c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher workers and queue size must be positive")
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if len(c.Webhook.URLs) > 0 && c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}
	return nil
}
