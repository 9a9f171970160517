package teamsync

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/store"
)

// Config controls how the SDK connects and syncs.
type Config struct {
	URL            string `yaml:"url"`
	RESTBaseURL    string `yaml:"rest_base_url"`
	Token          string `yaml:"token"`
	OrganisationID string `yaml:"organisation_id"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"` // 0 waits indefinitely; rely on PingInterval
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`

	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectTries int           `yaml:"max_reconnect_tries"` // 0 = unlimited

	ResyncOnReconnect   bool    `yaml:"resync_on_reconnect"`
	ResyncCron          string  `yaml:"resync_cron"`
	ViewRateLimit       float64 `yaml:"view_rate_limit"` // message-view emits per second, 0 disables
	ViewBurst           int     `yaml:"view_burst"`
	OptimisticReactions bool    `yaml:"optimistic_reactions"`

	Store    store.Config `yaml:"store"`
	LogLevel string       `yaml:"log_level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      25 * time.Second,
		AutoReconnect:     true,
		ReconnectInterval: time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ResyncOnReconnect: true,
		ViewRateLimit:     20,
		ViewBurst:         20,
		Store:             store.Config{Driver: "memory", Namespace: "default"},
		LogLevel:          "info",
	}
}

// LoadConfig is ReadConfig followed by Validate.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg, err := ReadConfig(path, envFiles...)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ReadConfig builds a Config from defaults, the YAML file at path (skipped
// when empty), the given .env files (".env" when none are named) and
// TEAMSYNC_* environment variables, in that order.
func ReadConfig(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, WrapError(ErrorInvalidConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, WrapError(ErrorInvalidConfig, "parse config file", err)
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return cfg, WrapError(ErrorInvalidConfig, "load env file", err)
		}
	}

	err := applyEnv(&cfg)
	return cfg, err
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"TEAMSYNC_URL":             &cfg.URL,
		"TEAMSYNC_REST_URL":        &cfg.RESTBaseURL,
		"TEAMSYNC_TOKEN":           &cfg.Token,
		"TEAMSYNC_ORGANISATION_ID": &cfg.OrganisationID,
		"TEAMSYNC_RESYNC_CRON":     &cfg.ResyncCron,
		"TEAMSYNC_STORE_DRIVER":    &cfg.Store.Driver,
		"TEAMSYNC_STORE_PATH":      &cfg.Store.Path,
		"TEAMSYNC_REDIS_URL":       &cfg.Store.RedisURL,
		"TEAMSYNC_LOG_LEVEL":       &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("TEAMSYNC_AUTO_RECONNECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return WrapError(ErrorInvalidConfig, "TEAMSYNC_AUTO_RECONNECT", err)
		}
		cfg.AutoReconnect = b
	}
	if v, ok := os.LookupEnv("TEAMSYNC_PING_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return WrapError(ErrorInvalidConfig, "TEAMSYNC_PING_INTERVAL", err)
		}
		cfg.PingInterval = d
	}
	return nil
}

// Validate reports every problem found in c.
func (c Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("url %q must be a ws:// or wss:// URL", c.URL))
	}
	if c.RESTBaseURL == "" {
		errs = append(errs, errors.New("rest_base_url is required"))
	}
	if c.MaxReconnectTries < 0 {
		errs = append(errs, errors.New("max_reconnect_tries must not be negative"))
	}
	if c.AutoReconnect && c.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("reconnect_interval must be positive"))
	}
	if c.ResyncCron != "" && !gronx.IsValid(c.ResyncCron) {
		errs = append(errs, fmt.Errorf("resync_cron %q is not a valid cron expression", c.ResyncCron))
	}
	if c.ViewRateLimit < 0 {
		errs = append(errs, errors.New("view_rate_limit must not be negative"))
	}
	switch c.Store.Driver {
	case "", "memory":
	case "pebble":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the pebble driver"))
		}
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if len(errs) == 0 {
		return nil
	}
	return WrapError(ErrorInvalidConfig, "invalid configuration", errors.Join(errs...))
}
