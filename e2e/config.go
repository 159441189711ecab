package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_ADDR is the HTTP address of a running server, e.g. localhost:8080.
	// The suites are skipped when it is empty.
	ServerAddr string `envconfig:"E2E_SERVER_ADDR"`
	GrpcAddr   string `envconfig:"E2E_GRPC_ADDR"`
	JWTSecret  string `envconfig:"E2E_JWT_SECRET" default:"change-me"`
	JWTIssuer  string `envconfig:"E2E_JWT_ISSUER"`
	// E2E_DEBUG_JSON dumps every frame received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
