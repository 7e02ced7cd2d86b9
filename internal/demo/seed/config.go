package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Users         int
	Orders        int
	Seed          int64
	SchemaOut     string
	Timeout       time.Duration
	ReferenceTime time.Time
}

// DefaultConfig uses a fixed seed and reference time so two runs produce the
// same documents.
func DefaultConfig() Config {
	return Config{
		Users:         50,
		Orders:        200,
		Seed:          1,
		SchemaOut:     "schema.json",
		Timeout:       30 * time.Second,
		ReferenceTime: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyInt(lookup, "QUERYBRIDGE_SEED_USERS", &cfg.Users); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_SEED_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "QUERYBRIDGE_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_SEED_SCHEMA_OUT", &cfg.SchemaOut); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_SEED_TIMEOUT", &cfg.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyTime(lookup, "QUERYBRIDGE_SEED_REFERENCE_TIME", &cfg.ReferenceTime); err != nil {
		return Config{}, err
	}

	if cfg.Users <= 0 {
		return Config{}, fmt.Errorf("QUERYBRIDGE_SEED_USERS must be > 0")
	}
	if cfg.Orders < 0 {
		return Config{}, fmt.Errorf("QUERYBRIDGE_SEED_ORDERS must be >= 0")
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("QUERYBRIDGE_SEED_TIMEOUT must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyTime(lookup LookupFunc, key string, dst *time.Time) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v.UTC()
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
