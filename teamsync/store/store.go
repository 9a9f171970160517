// Package store persists the small set of client-side keys that survive
// restarts: access token, active organisation, active-channel flag, and
// the pending sign-up email and channel-join id.
package store

import (
	"context"
	"fmt"
)

const (
	KeyAccessToken    = "access-token"
	KeyOrganisationID = "organisationId"
	KeyChannel        = "channel"
	KeySignUpEmail    = "signUpEmail"
	KeyChannelID      = "channelID"
)

// SessionKeys are cleared when the backend rejects the session.
var SessionKeys = []string{KeySignUpEmail, KeyAccessToken, KeyChannel, KeyChannelID, KeyOrganisationID}

// Store is a string key/value store. Get returns "" for missing keys.
// Implementations: Memory, Pebble, Redis.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	RedisURL  string `yaml:"redis_url"`
	Namespace string `yaml:"namespace"`
}

// Open returns the Store named by cfg.Driver ("memory" when empty).
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "pebble":
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: pebble driver needs a path")
		}
		return OpenPebble(cfg.Path)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("store: redis driver needs redis_url")
		}
		return OpenRedis(ctx, cfg.RedisURL, cfg.Namespace)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
