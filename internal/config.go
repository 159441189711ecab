package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverBadger = "badger"
	DriverMongo  = "mongo"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	HTTPPort int    `env:"HTTP_PORT,default=8080"`
	GRPCPort int    `env:"GRPC_PORT,default=9090"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/connect"`
	MongoURL       string `env:"MONGO_URL"`
	MongoDatabase  string `env:"MONGO_DATABASE,default=connect"`

	PostgresURL       string        `env:"POSTGRES_URL"`
	RedisURL          string        `env:"REDIS_URL"`
	DirectoryCacheTTL time.Duration `env:"DIRECTORY_CACHE_TTL,default=5m"`

	BufferSize           int           `env:"BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=128"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT,default=5s"`
	PresenceGracePeriod  time.Duration `env:"PRESENCE_GRACE_PERIOD,default=5s"`
	TypingTimeout        time.Duration `env:"TYPING_TIMEOUT,default=3s"`
	TypingSweepInterval  time.Duration `env:"TYPING_SWEEP_INTERVAL,default=500ms"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=25s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=4000"`

	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT,default=2s"`
	NotifyQueue   string        `env:"NOTIFY_QUEUE,default=notifications"`
	NotifyKinds   string        `env:"NOTIFY_KINDS"`

	AllowedOrigins string        `env:"ALLOWED_ORIGINS,default=*"`
	DebugEndpoints bool          `env:"DEBUG_ENDPOINTS,default=false"`
	StatsInterval  time.Duration `env:"STATS_INTERVAL,default=30s"`
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (Config, error) {
	// A missing .env is expected outside development.
	_ = godotenv.Load(files...)
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	switch c.StoreDriver {
	case DriverBadger:
		if c.BadgerFilepath == "" {
			return fmt.Errorf("BADGER_FILEPATH is required with STORE_DRIVER=%s", DriverBadger)
		}
	case DriverMongo:
		if c.MongoURL == "" || c.MongoDatabase == "" {
			return fmt.Errorf("MONGO_URL and MONGO_DATABASE are required with STORE_DRIVER=%s", DriverMongo)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.LimitMessages != nil && *c.LimitMessages <= 0 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	positive := map[string]time.Duration{
		"STORE_TIMEOUT":         c.StoreTimeout,
		"PRESENCE_GRACE_PERIOD": c.PresenceGracePeriod,
		"TYPING_TIMEOUT":        c.TypingTimeout,
		"TYPING_SWEEP_INTERVAL": c.TypingSweepInterval,
		"IDLE_TIMEOUT":          c.IdleTimeout,
		"PING_INTERVAL":         c.PingInterval,
		"WRITE_TIMEOUT":         c.WriteTimeout,
		"RESTART_INTERVAL":      c.RestartInterval,
		"NOTIFY_TIMEOUT":        c.NotifyTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.PingInterval >= c.IdleTimeout {
		return fmt.Errorf("PING_INTERVAL (%s) must be shorter than IDLE_TIMEOUT (%s)", c.PingInterval, c.IdleTimeout)
	}
	if c.ConnectionBufferSize <= 0 || c.BufferSize <= 0 {
		return fmt.Errorf("BUFFER_SIZE and CONNECTION_BUFFER_SIZE must be positive")
	}
	return nil
}

// NotifyKindList defaults to new messages and read receipts.
func (c Config) NotifyKindList() []string {
	if strings.TrimSpace(c.NotifyKinds) == "" {
		return []string{"new_message", "messages_read"}
	}
	return splitList(c.NotifyKinds)
}

func (c Config) AllowedOriginList() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
