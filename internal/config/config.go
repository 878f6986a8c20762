package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config carries everything the sync daemon needs to run.
type Config struct {
	ListenAddr   string `env:"LISTEN_ADDR,default=:8086"`
	DatabasePath string `env:"DATABASE_PATH,default=draftsync.db"`

	// Remote CMS endpoint the engine syncs against.
	APIBaseURL string `env:"API_BASE_URL,default=https://api.example.com/v1"`
	APIToken   string `env:"API_TOKEN"`
	SiteID     int64  `env:"SITE_ID,default=1"`
	AuthorID   int64  `env:"AUTHOR_ID,default=1"`

	// AdminTokenHash is a bcrypt hash of the token callers must present
	// on the local API. Empty disables auth (development only).
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// RetryInterval drives the backoff re-scan for retryable server
	// failures; ProbeInterval drives the reachability monitor.
	RetryInterval time.Duration `env:"RETRY_INTERVAL,default=30s"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL,default=10s"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads the configuration from environment variables.
func Load(ctx context.Context) (Config, error) {
	cfg := Config{}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return cfg, nil
}
