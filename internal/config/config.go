package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// providerKeyEnv names the vendor variable consulted when
// QUERYBRIDGE_AI_API_KEY is unset.
var providerKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

const (
	ImprovePolicyDegrade = "degrade"
	ImprovePolicyFail    = "fail"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Mongo         MongoConfig
	Schema        SchemaConfig
	AI            AIConfig
	Dispatch      DispatchConfig
	Improve       ImproveConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type MongoConfig struct {
	URI             string
	Database        string
	MaxPoolSize     int
	MinPoolSize     int
	ConnectTimeout  time.Duration
	MaxConnIdleTime time.Duration
}

type SchemaConfig struct {
	Source string
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
}

type DispatchConfig struct {
	Timeout      time.Duration
	MaxDocuments int
}

type ImproveConfig struct {
	FailurePolicy string
}

type HistoryConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	ListLimit       int
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	// MaxDocumentBytes caps schema documents read from or written to a
	// bucket.
	MaxDocumentBytes int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func (c HistoryConfig) Enabled() bool {
	return c.DSN != ""
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYBRIDGE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYBRIDGE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "QUERYBRIDGE_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyPort(lookup, "PORT", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_MONGO_URI", &cfg.Mongo.URI); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_MONGO_DATABASE", &cfg.Mongo.Database); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_MONGO_MAX_POOL_SIZE", &cfg.Mongo.MaxPoolSize); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_MONGO_MIN_POOL_SIZE", &cfg.Mongo.MinPoolSize); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_MONGO_CONNECT_TIMEOUT", &cfg.Mongo.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_MONGO_MAX_CONN_IDLE_TIME", &cfg.Mongo.MaxConnIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_SCHEMA_SOURCE", &cfg.Schema.Source); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "QUERYBRIDGE_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_AI_MAX_TOKENS", &cfg.AI.MaxTokens); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "QUERYBRIDGE_AI_RATE_LIMIT", &cfg.AI.RateLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_AI_RATE_BURST", &cfg.AI.RateBurst); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_DISPATCH_TIMEOUT", &cfg.Dispatch.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_DISPATCH_MAX_DOCUMENTS", &cfg.Dispatch.MaxDocuments); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_IMPROVE_FAILURE_POLICY", &cfg.Improve.FailurePolicy); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_HISTORY_DSN", &cfg.History.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYBRIDGE_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_HISTORY_LIST_LIMIT", &cfg.History.ListLimit); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYBRIDGE_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYBRIDGE_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYBRIDGE_OBJECTSTORE_MAX_DOCUMENT_BYTES", &cfg.ObjectStore.MaxDocumentBytes); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYBRIDGE_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "QUERYBRIDGE_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	cfg.Improve.FailurePolicy = strings.ToLower(cfg.Improve.FailurePolicy)

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if !isValidProvider(cfg.AI.Provider) {
		return Config{}, fmt.Errorf("invalid QUERYBRIDGE_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.APIKey == "" {
		if raw, ok := lookup(providerKeyEnv[cfg.AI.Provider]); ok {
			cfg.AI.APIKey = strings.TrimSpace(raw)
		}
	}
	if !isValidImprovePolicy(cfg.Improve.FailurePolicy) {
		return Config{}, fmt.Errorf("invalid QUERYBRIDGE_IMPROVE_FAILURE_POLICY: %q", cfg.Improve.FailurePolicy)
	}
	if cfg.Dispatch.MaxDocuments < 0 {
		return Config{}, fmt.Errorf("QUERYBRIDGE_DISPATCH_MAX_DOCUMENTS must be >= 0")
	}
	if cfg.AI.RateLimit < 0 {
		return Config{}, fmt.Errorf("QUERYBRIDGE_AI_RATE_LIMIT must be >= 0")
	}
	if cfg.ObjectStore.MaxDocumentBytes <= 0 {
		return Config{}, fmt.Errorf("QUERYBRIDGE_OBJECTSTORE_MAX_DOCUMENT_BYTES must be > 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querybridge-api"},
		HTTP: HTTPConfig{
			Address:      ":3000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Mongo: MongoConfig{
			URI:             "mongodb://localhost:27017",
			Database:        "querybridge",
			MaxPoolSize:     50,
			MinPoolSize:     0,
			ConnectTimeout:  10 * time.Second,
			MaxConnIdleTime: 5 * time.Minute,
		},
		Schema: SchemaConfig{
			Source: "./schema.json",
		},
		AI: AIConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "",
			Model:       "",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     45 * time.Second,
			RateLimit:   0,
			RateBurst:   1,
		},
		Dispatch: DispatchConfig{
			Timeout:      30 * time.Second,
			MaxDocuments: 0,
		},
		Improve: ImproveConfig{
			FailurePolicy: ImprovePolicyDegrade,
		},
		History: HistoryConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			ListLimit:       50,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			UseSSL:           false,
			MaxDocumentBytes: 1 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":13000"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidProvider(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return true
	default:
		return false
	}
}

func isValidImprovePolicy(policy string) bool {
	switch policy {
	case ImprovePolicyDegrade, ImprovePolicyFail:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyPort maps a bare PORT value onto a listen address.
func applyPort(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	*dst = ":" + strconv.Itoa(port)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
