package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "secret")

	config, err := Load("does-not-exist.env")
	req.NoError(err)

	req.Equal(DriverBadger, config.StoreDriver)
	req.Equal(5*time.Second, config.PresenceGracePeriod)
	req.Equal(3*time.Second, config.TypingTimeout)
	req.Equal(8080, config.HTTPPort)
	req.Nil(config.LimitMessages)
	req.Equal([]string{"new_message", "messages_read"}, config.NotifyKindList())
	req.Equal([]string{"*"}, config.AllowedOriginList())
}

func TestLoad_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("LIMIT_MESSAGES", "25")
	t.Setenv("NOTIFY_KINDS", " new_message , ")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	config, err := Load("does-not-exist.env")
	req.NoError(err)

	req.Equal(DriverMongo, config.StoreDriver)
	req.NotNil(config.LimitMessages)
	req.Equal(25, *config.LimitMessages)
	req.Equal([]string{"new_message"}, config.NotifyKindList())
	req.Len(config.AllowedOriginList(), 2)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load("does-not-exist.env")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JWTSecret: "s", StoreDriver: DriverBadger, BadgerFilepath: "/tmp/x",
			StoreTimeout: time.Second, PresenceGracePeriod: time.Second, TypingTimeout: time.Second,
			TypingSweepInterval: time.Second, IdleTimeout: time.Minute, PingInterval: time.Second,
			WriteTimeout: time.Second, RestartInterval: time.Second, NotifyTimeout: time.Second,
			BufferSize: 1, ConnectionBufferSize: 1,
		}
	}
	zero := 0

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.StoreDriver = "sqlite" }, false},
		{"mongo without url", func(c *Config) { c.StoreDriver = DriverMongo; c.MongoDatabase = "db" }, false},
		{"zero limit", func(c *Config) { c.LimitMessages = &zero }, false},
		{"ping after idle", func(c *Config) { c.PingInterval = 2 * time.Minute }, false},
		{"negative grace", func(c *Config) { c.PresenceGracePeriod = -time.Second }, false},
		{"no connection buffer", func(c *Config) { c.ConnectionBufferSize = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
