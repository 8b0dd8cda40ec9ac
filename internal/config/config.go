// Package config loads gateway settings from an optional YAML file with
// environment overrides. Env always wins; deployments set secrets there.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Port              string   `yaml:"port"`
	DatabaseURL       string   `yaml:"database_url"`
	RedisURL          string   `yaml:"redis_url"`
	APIBase           string   `yaml:"api_base"`
	PollInterval      Duration `yaml:"poll_interval"`
	HTTPTimeout       Duration `yaml:"http_timeout"`
	NotifyMaxAttempts int      `yaml:"notify_max_attempts"`
	// WebhookSecret, when set, requires a valid X-Signature on the
	// marketplace push feed.
	WebhookSecret string `yaml:"webhook_secret"`
}

func Default() Config {
	return Config{
		Port:              "8080",
		PollInterval:      Duration(30 * time.Second),
		HTTPTimeout:       Duration(15 * time.Second),
		NotifyMaxAttempts: 10,
	}
}

// Load reads path (when non-empty) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" { cfg.Port = v }
	if v := os.Getenv("DATABASE_URL"); v != "" { cfg.DatabaseURL = v }
	if v := os.Getenv("REDIS_URL"); v != "" { cfg.RedisURL = v }
	if v := os.Getenv("IFOOD_API_BASE"); v != "" { cfg.APIBase = v }
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil { cfg.PollInterval = Duration(d) }
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil { cfg.HTTPTimeout = Duration(d) }
	}
	if v := os.Getenv("NOTIFY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 { cfg.NotifyMaxAttempts = n }
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" { cfg.WebhookSecret = v }
}
