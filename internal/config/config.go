// Package config loads the server configuration from SITEGATE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// minSecretLen is the shortest accepted HS256 signing secret.
const minSecretLen = 32

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	MemoryStore bool   `env:"MEMORY_STORE"` // in-process store instead of postgres
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9090"`
	NATSURL     string `env:"NATS_URL"` // empty = in-process event bus

	// Sessions
	SessionSecret string        `env:"SESSION_SECRET"` // HS256 key, at least 32 bytes
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"true"`

	// Sync settings
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"3m"` // 0 = disabled
	SyncS3Bucket   string        `env:"SYNC_S3_BUCKET"`                // enables S3 when set
	SyncS3Endpoint string        `env:"SYNC_S3_ENDPOINT"`              // custom endpoint for MinIO
	SyncS3Region   string        `env:"SYNC_S3_REGION" envDefault:"us-east-1"`
	SyncS3Key      string        `env:"SYNC_S3_KEY" envDefault:"sitegate/backup.jsonl"`
	SyncGitRepo    string        `env:"SYNC_GIT_REPO"` // enables git when set; path to clone
	SyncGitFile    string        `env:"SYNC_GIT_FILE" envDefault:"sitegate.jsonl"`
	SyncGitBranch  string        `env:"SYNC_GIT_BRANCH" envDefault:"main"`

	// Availability hooks
	HookCommand string        `env:"HOOK_COMMAND"` // run on every availability change
	HookTimeout time.Duration `env:"HOOK_TIMEOUT" envDefault:"30s"`

	PresenceDeadThreshold time.Duration `env:"PRESENCE_DEAD_THRESHOLD" envDefault:"15m"`
}

// envPrefix is prepended to every variable name in Config's tags.
const envPrefix = "SITEGATE_"

// Load parses the full server configuration and reports every invalid
// setting at once.
func Load() (*Config, error) {
	c, err := LoadStore()
	if err != nil {
		return nil, err
	}
	var errs []error
	switch {
	case c.SessionSecret == "":
		errs = append(errs, errors.New(envPrefix+"SESSION_SECRET is required"))
	case len(c.SessionSecret) < minSecretLen:
		errs = append(errs, fmt.Errorf(envPrefix+"SESSION_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New(envPrefix+"SESSION_TTL must be positive"))
	}
	if c.SyncInterval < 0 {
		errs = append(errs, errors.New(envPrefix+"SYNC_INTERVAL must not be negative"))
	}
	if c.HookTimeout <= 0 {
		errs = append(errs, errors.New(envPrefix+"HOOK_TIMEOUT must be positive"))
	}
	if c.PresenceDeadThreshold <= 0 {
		errs = append(errs, errors.New(envPrefix+"PRESENCE_DEAD_THRESHOLD must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadStore parses the environment but validates only what opening the
// store needs. Offline admin commands use it.
func LoadStore() (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if c.DatabaseURL == "" && !c.MemoryStore {
		return nil, errors.New(envPrefix + "DATABASE_URL is required (or set " + envPrefix + "MEMORY_STORE=true)")
	}
	return c, nil
}
