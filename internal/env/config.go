package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// PingTimeoutClients is the interval between server_ping rounds.
	PingTimeoutClients time.Duration `env:"TVGATE_PING_TIMEOUT_CLIENTS,default=30s"`

	// RereadCacheTimeout is the interval between chat channel cache
	// refreshes from the user directory.
	RereadCacheTimeout time.Duration `env:"TVGATE_REREAD_CACHE_TIMEOUT,default=60s"`

	// RedisURL locates the external pub/sub bus. Empty disables the
	// bus entirely (useful for local development).
	RedisURL string `env:"TVGATE_REDIS_URL"`

	// BandwidthHost is returned verbatim by get_server_info.
	BandwidthHost string `env:"TVGATE_BANDWIDTH_HOST"`

	DebugHTTP bool `env:"TVGATE_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
