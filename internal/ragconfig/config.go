// Package ragconfig loads ragcore's runtime configuration from environment
// variables (optionally backed by a .env file), the way the teacher's
// internal/config package does: plain os.Getenv reads with TrimSpace,
// sensible defaults applied after reading, and a handful of required-field
// checks that fail fast at startup rather than surfacing as a later nil
// pointer.
package ragconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration for cmd/run-worker and
// cmd/run-scheduler.
type Config struct {
	DatabaseDSN string

	CacheBackend string // "local" or "redis"
	RedisAddr    string
	RedisDB      int

	QueueBackend string // "local" or "redis"

	VectorBackend    string // "pgvector" or "qdrant"
	QdrantAddr       string
	VectorDimensions int

	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingAPIKey  string

	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	GoogleAPIKey    string
	GoogleModel     string
	LLMTimeout      time.Duration

	ProfilingEnabled   bool
	SchedulerTick      time.Duration
	SchedulerClaim     int
	WorkerConcurrency  int
	StaleTimeoutSecs   int

	// ArchiveS3Bucket empty disables raw-document archival (internal/rawarchive
	// falls back to an in-memory store); set to enable S3/MinIO-backed archival.
	ArchiveS3Bucket       string
	ArchiveS3Region       string
	ArchiveS3Endpoint     string
	ArchiveS3Prefix       string
	ArchiveS3AccessKey    string
	ArchiveS3SecretKey    string
	ArchiveS3UsePathStyle bool

	// KafkaBrokers empty disables internal/ingestevents publishing
	// entirely (stage handlers and the maintenance sweep no-op their
	// event calls).
	KafkaBrokers    []string
	ClickHouseDSN   string
	ClickHouseTable string

	// PluginOAuthProviders names the OAuth2 providers a plugin-connected
	// account's stored refresh token can be exchanged against (Gmail,
	// Google Drive, Outlook feeds — spec.md §6). When empty, pluginhost's
	// secrets.get still returns plain secrets unchanged, but a stored OAuth
	// secret fails with unknown_oauth_provider.
	PluginOAuthProviders map[string]OAuthProviderConfig

	// PluginManifestPath empty disables manifest-driven plugin
	// enable/disable: every registered plugin keeps whatever enabled
	// state it was Register-ed with in code.
	PluginManifestPath string

	// TelemetryEndpoint empty disables OpenTelemetry tracing/metrics
	// entirely: internal/telemetry.Setup returns a no-op provider set, and
	// every Metrics method on the resulting *telemetry.Metrics becomes a
	// cheap no-op recording nothing.
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	TelemetryServiceName string

	LogLevel string
}

// OAuthProviderConfig is one PLUGIN_OAUTH_<NAME>_* provider entry: the
// token endpoint is discovered via OIDC discovery against Issuer, so only
// the issuer and client credentials need configuring.
type OAuthProviderConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Load reads Config from the environment, loading a .env file first if one
// is present (values already set in the OS environment win, matching
// godotenv.Load rather than godotenv.Overload: an operator's shell always
// takes precedence over a checked-in .env).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		CacheBackend:      firstNonEmpty(os.Getenv("CACHE_BACKEND"), "local"),
		QueueBackend:      firstNonEmpty(os.Getenv("QUEUE_BACKEND"), "local"),
		VectorBackend:     firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "pgvector"),
		RedisAddr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		QdrantAddr:        strings.TrimSpace(os.Getenv("QDRANT_ADDR")),
		EmbeddingBaseURL:  firstNonEmpty(os.Getenv("EMBED_BASE_URL"), "https://api.openai.com"),
		EmbeddingModel:    firstNonEmpty(os.Getenv("EMBED_MODEL"), "text-embedding-3-small"),
		EmbeddingAPIKey:   strings.TrimSpace(os.Getenv("EMBED_API_KEY")),
		LLMProvider:       firstNonEmpty(os.Getenv("LLM_PROVIDER"), "anthropic"),
		AnthropicAPIKey:   strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicModel:    firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-5"),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:       firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
		GoogleAPIKey:      strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY")),
		GoogleModel:       firstNonEmpty(os.Getenv("GOOGLE_LLM_MODEL"), "gemini-2.0-flash"),
		LogLevel:          firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),

		ArchiveS3Bucket:    strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")),
		ArchiveS3Region:    firstNonEmpty(os.Getenv("ARCHIVE_S3_REGION"), "us-east-1"),
		ArchiveS3Endpoint:  strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT")),
		ArchiveS3Prefix:    strings.TrimSpace(os.Getenv("ARCHIVE_S3_PREFIX")),
		ArchiveS3AccessKey: strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")),
		ArchiveS3SecretKey: strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")),
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_PATH_STYLE")); v != "" {
		cfg.ArchiveS3UsePathStyle = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	cfg.DatabaseDSN = strings.TrimSpace(firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN")))

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers, ",")
	}
	cfg.ClickHouseDSN = strings.TrimSpace(os.Getenv("RAGCORE_CLICKHOUSE_DSN"))
	cfg.ClickHouseTable = strings.TrimSpace(os.Getenv("RAGCORE_CLICKHOUSE_TABLE"))
	cfg.PluginOAuthProviders = loadPluginOAuthProviders()
	cfg.PluginManifestPath = strings.TrimSpace(os.Getenv("PLUGIN_MANIFEST_PATH"))
	cfg.TelemetryEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.TelemetryServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "ragcore")
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		cfg.TelemetryInsecure = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}

	var err error
	if cfg.RedisDB, err = parseIntEnv("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.VectorDimensions, err = parseIntEnv("VECTOR_DIMENSIONS", 1536); err != nil {
		return Config{}, err
	}
	if cfg.SchedulerClaim, err = parseIntEnv("SCHEDULER_CLAIM_LIMIT", 50); err != nil {
		return Config{}, err
	}
	if cfg.WorkerConcurrency, err = parseIntEnv("WORKER_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}
	if cfg.StaleTimeoutSecs, err = parseIntEnv("PLUGIN_STALE_TIMEOUT_SECONDS", 900); err != nil {
		return Config{}, err
	}

	tickSecs, err := parseIntEnv("SCHEDULER_TICK_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.SchedulerTick = time.Duration(tickSecs) * time.Second

	llmTimeoutSecs, err := parseIntEnv("LLM_TIMEOUT_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout = time.Duration(llmTimeoutSecs) * time.Second

	if v := strings.TrimSpace(os.Getenv("PROFILING_ENABLED")); v != "" {
		cfg.ProfilingEnabled = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}

	if cfg.DatabaseDSN == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	switch cfg.CacheBackend {
	case "local":
	case "redis":
		if cfg.RedisAddr == "" {
			return Config{}, errors.New("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return Config{}, fmt.Errorf("CACHE_BACKEND must be local or redis (got %q)", cfg.CacheBackend)
	}
	switch cfg.VectorBackend {
	case "pgvector":
	case "qdrant":
		if cfg.QdrantAddr == "" {
			return Config{}, errors.New("QDRANT_ADDR is required when VECTOR_BACKEND=qdrant")
		}
	default:
		return Config{}, fmt.Errorf("VECTOR_BACKEND must be pgvector or qdrant (got %q)", cfg.VectorBackend)
	}
	switch cfg.LLMProvider {
	case "anthropic", "openai", "google":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be anthropic, openai, or google (got %q)", cfg.LLMProvider)
	}

	return cfg, nil
}

// loadPluginOAuthProviders reads PLUGIN_OAUTH_PROVIDERS (a comma-separated
// list of provider names) and, for each, its PLUGIN_OAUTH_<NAME>_ISSUER/
// CLIENT_ID/CLIENT_SECRET/SCOPES env vars. A named provider missing its
// issuer or client ID is skipped rather than failing startup: an
// incompletely configured provider just means that provider's secrets
// never refresh, not that the worker can't start.
func loadPluginOAuthProviders() map[string]OAuthProviderConfig {
	names := splitAndTrim(os.Getenv("PLUGIN_OAUTH_PROVIDERS"), ",")
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]OAuthProviderConfig, len(names))
	for _, name := range names {
		prefix := "PLUGIN_OAUTH_" + strings.ToUpper(name) + "_"
		issuer := strings.TrimSpace(os.Getenv(prefix + "ISSUER"))
		clientID := strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
		if issuer == "" || clientID == "" {
			continue
		}
		out[name] = OAuthProviderConfig{
			Issuer:       issuer,
			ClientID:     clientID,
			ClientSecret: strings.TrimSpace(os.Getenv(prefix + "CLIENT_SECRET")),
			Scopes:       splitAndTrim(os.Getenv(prefix+"SCOPES"), ","),
		}
	}
	return out
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func parseIntEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
