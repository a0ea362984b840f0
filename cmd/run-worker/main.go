// Command run-worker runs the C5 worker process: it polls the ingestion
// pipeline's queues (OCR, embed, profiling, maintenance), dispatching each
// job to the ingestion.Service stage handlers, and the INGESTION queue,
// dispatching plugin executions to the pluginhost runner. Grounded on the
// teacher's cmd/orchestrator main.go wiring shape (load config, open
// infra, build a runtime, run until signal).
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ragcore/internal/cache"
	"ragcore/internal/embedder"
	"ragcore/internal/ingestevents"
	"ragcore/internal/ingestion"
	"ragcore/internal/kbsearch"
	"ragcore/internal/llmclient"
	"ragcore/internal/pluginhost"
	"ragcore/internal/profiling"
	"ragcore/internal/queue"
	"ragcore/internal/ragconfig"
	"ragcore/internal/ragstore"
	"ragcore/internal/ragstore/vector"
	"ragcore/internal/ratelimit"
	"ragcore/internal/rawarchive"
	"ragcore/internal/staging"
	"ragcore/internal/telemetry"
	"ragcore/internal/textextract"
	"ragcore/internal/workerrt"
	"ragcore/internal/workload"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("run_worker_failed")
	}
}

func run() error {
	cfg, err := ragconfig.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.TelemetryEndpoint != "",
		Endpoint:    cfg.TelemetryEndpoint,
		Insecure:    cfg.TelemetryInsecure,
		ServiceName: cfg.TelemetryServiceName,
	})
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}

	pool, err := ragstore.OpenPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ragstore.NewPostgres(ctx, pool)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := cache.New(addrIfRedis(cfg.CacheBackend, cfg.RedisAddr))
	if err != nil {
		return err
	}
	q, err := queue.New(addrIfRedis(cfg.QueueBackend, cfg.RedisAddr))
	if err != nil {
		return err
	}

	vecs, err := vector.New(ctx, pool, vector.Config{
		Backend:    cfg.VectorBackend,
		Dimension:  cfg.VectorDimensions,
		QdrantDSN:  cfg.QdrantAddr,
		Collection: "ragcore_chunks",
	})
	if err != nil {
		return err
	}

	emb := embedder.New(embedder.HTTPConfig{
		BaseURL:   cfg.EmbeddingBaseURL,
		Path:      "/v1/embeddings",
		Model:     cfg.EmbeddingModel,
		APIKey:    cfg.EmbeddingAPIKey,
		APIHeader: "Authorization",
		Dimension: cfg.VectorDimensions,
	})

	llm, err := llmclient.NewDefaultRouter(ctx, llmclient.Config{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		GoogleAPIKey:    cfg.GoogleAPIKey,
		FallbackPrefix:  cfg.LLMProvider,
	})
	if err != nil {
		return err
	}

	orch := profiling.NewOrchestrator(store, llm, emb, profiling.Config{})
	orch.Telemetry = metrics
	stg := staging.New(c)

	svc := ingestion.NewService(store, vecs, stg, textextract.PassThrough{}, emb, q, orch, ingestion.Config{
		ProfilingEnabled: cfg.ProfilingEnabled,
	})
	svc.Archiver = rawarchive.New(newArchiveStore(ctx, cfg))
	events := ingestevents.New(ctx, ingestevents.Config{
		Brokers:         cfg.KafkaBrokers,
		ClickHouseDSN:   cfg.ClickHouseDSN,
		ClickHouseTable: cfg.ClickHouseTable,
	})
	defer events.Close()
	svc.Events = events

	search := kbsearch.New(store)
	limiter := ratelimit.New(c)
	registry := pluginhost.NewRegistry()
	// Plugin loading/compilation is out of this module's scope (spec.md
	// §1): a real deployment Register()s its entrypoints before or after
	// this point. The manifest only ever toggles the enabled flag of
	// whatever got registered — see ApplyManifest.
	if cfg.PluginManifestPath != "" {
		manifest, err := pluginhost.LoadManifest(cfg.PluginManifestPath)
		if err != nil {
			return err
		}
		registry.ApplyManifest(manifest)
	}
	runner := pluginhost.NewRunner(store, registry, svc, search, limiter, pluginhost.AllowAllAccess{}, q, pluginhost.RunnerConfig{})
	runner.OAuth = pluginhost.NewTokenRefresher(newOAuthProviders(cfg))

	rt := workerrt.New(q, workerrt.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: []workerrt.QueueSpec{
			{QueueName: workload.IngestionOCR.QueueName(), WorkloadType: string(workload.IngestionOCR), Handler: svc.HandleOCR},
			{QueueName: workload.IngestionEmbed.QueueName(), WorkloadType: string(workload.IngestionEmbed), Handler: svc.HandleEmbed},
			{QueueName: workload.Profiling.QueueName(), WorkloadType: string(workload.Profiling), Handler: svc.HandleProfiling},
			{QueueName: workload.Maintenance.QueueName(), WorkloadType: string(workload.Maintenance), Handler: svc.HandleMaintenanceSweep},
			{QueueName: workload.Ingestion.QueueName(), WorkloadType: string(workload.Ingestion), Handler: runner.HandleExecution},
		},
	})
	rt.Telemetry = metrics

	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("run_worker_starting")
	return rt.Run(ctx, true)
}

// newArchiveStore builds the raw-document archival backend: S3/MinIO when
// ARCHIVE_S3_BUCKET is configured, an in-memory store otherwise (archival
// still runs, but does not survive process restart — fine for local dev,
// not for production).
func newArchiveStore(ctx context.Context, cfg ragconfig.Config) rawarchive.Store {
	if cfg.ArchiveS3Bucket == "" {
		log.Warn().Msg("archive_s3_bucket_unset_using_memory_store")
		return rawarchive.NewMemoryStore()
	}
	store, err := rawarchive.NewS3Store(ctx, rawarchive.Config{
		Endpoint:     cfg.ArchiveS3Endpoint,
		Region:       cfg.ArchiveS3Region,
		Bucket:       cfg.ArchiveS3Bucket,
		Prefix:       cfg.ArchiveS3Prefix,
		AccessKey:    cfg.ArchiveS3AccessKey,
		SecretKey:    cfg.ArchiveS3SecretKey,
		UsePathStyle: cfg.ArchiveS3UsePathStyle,
	})
	if err != nil {
		log.Warn().Err(err).Msg("archive_s3_store_init_failed_using_memory_store")
		return rawarchive.NewMemoryStore()
	}
	return store
}

// newOAuthProviders adapts ragconfig's PLUGIN_OAUTH_* provider entries into
// pluginhost's narrower OAuthProvider shape.
func newOAuthProviders(cfg ragconfig.Config) map[string]pluginhost.OAuthProvider {
	out := make(map[string]pluginhost.OAuthProvider, len(cfg.PluginOAuthProviders))
	for name, p := range cfg.PluginOAuthProviders {
		out[name] = pluginhost.OAuthProvider{
			Issuer:       p.Issuer,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Scopes:       p.Scopes,
		}
	}
	return out
}

func addrIfRedis(backend, addr string) string {
	if backend == "redis" {
		return addr
	}
	return ""
}

func configureLogging(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
