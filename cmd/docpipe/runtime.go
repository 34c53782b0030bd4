package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/ai"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/cache"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/config"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/pdf"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/repository"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/storage"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/worker"
)

// runtime holds the shared backends. Without DATABASE_URL, REDIS_ADDR or
// GCS_BUCKET the matching in-process implementation is used, which only makes
// sense when the gateway and the workers share one process.
type runtime struct {
	repo     repository.DocumentsRepository
	blobs    storage.BlobStore
	cache    cache.StatusCache
	keys     cache.KeyStore
	producer queue.Producer
	receiver queue.Receiver
	backlog  queue.BacklogReporter
	closers  []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func setupRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) *runtime {
	rt := &runtime{}
	rt.repo = setupRepository(ctx, rt, cfg, logger)
	rt.blobs = setupBlobStore(ctx, rt, cfg, logger)

	ackDeadline := time.Duration(cfg.AckDeadlineSeconds) * time.Second
	client := setupRedis(ctx, rt, cfg, logger)
	if client == nil {
		rt.cache = cache.NewMemoryStatusCache(cache.Config{
			TTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
			MaxEntries: cfg.CacheMaxEntries,
		})
		rt.keys = cache.NewMemoryKeyStore()
		local := queue.NewLocalQueue(ackDeadline, logger)
		rt.producer, rt.receiver, rt.backlog = local, local, local
	} else {
		rt.cache = cache.NewRedisStatusCache(client, time.Duration(cfg.CacheTTLSeconds)*time.Second)
		rt.keys = cache.NewRedisKeyStore(client, "docpipe:")

		streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			AckDeadline: ackDeadline,
			Block:       time.Second,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis streams queue unavailable, falling back to local queue")
			local := queue.NewLocalQueue(ackDeadline, logger)
			rt.producer, rt.receiver, rt.backlog = local, local, local
		} else {
			logger.Info().Str("stream", cfg.RedisStream).Str("group", cfg.RedisGroup).Msg("redis streams queue initialized")
			rt.producer, rt.receiver, rt.backlog = streams, streams, streams
		}
	}

	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, rt.producer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		rt.producer = batching
		rt.closers = append(rt.closers, batching.Close)
		logger.Info().
			Int("size", cfg.QueueBatchSize).
			Int("flush_ms", cfg.QueueBatchFlushMS).
			Int("queue_capacity", cfg.QueueBatchQueueCapacity).
			Int("max_in_flight", cfg.QueueBatchMaxInFlight).
			Msg("queue batching enabled")
	}
	return rt
}

func setupRepository(ctx context.Context, rt *runtime, cfg config.Config, logger zerolog.Logger) repository.DocumentsRepository {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL not configured, using in-memory document store")
		return repository.NewMemoryDocumentsRepository()
	}
	pgRepo, err := repository.NewPostgresDocumentsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("postgres unavailable, falling back to in-memory document store")
		return repository.NewMemoryDocumentsRepository()
	}
	if err := pgRepo.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not ensure documents schema")
	}
	rt.closers = append(rt.closers, pgRepo.Close)
	logger.Info().Msg("postgres document store initialized")
	return pgRepo
}

func setupBlobStore(ctx context.Context, rt *runtime, cfg config.Config, logger zerolog.Logger) storage.BlobStore {
	if cfg.GCSBucket == "" {
		logger.Info().Msg("GCS_BUCKET not configured, keeping uploads in memory")
		return storage.NewMemoryBlobStore()
	}
	gcsStore, err := storage.NewGCSBlobStore(ctx, cfg.GCSBucket)
	if err != nil {
		logger.Warn().Err(err).Msg("gcs unavailable, keeping uploads in memory")
		return storage.NewMemoryBlobStore()
	}
	rt.closers = append(rt.closers, func() { _ = gcsStore.Close() })
	logger.Info().Str("bucket", cfg.GCSBucket).Msg("gcs blob store initialized")
	return gcsStore
}

func setupRedis(ctx context.Context, rt *runtime, cfg config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("REDIS_ADDR not configured, using in-process queue and cache")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using in-process queue and cache")
		_ = client.Close()
		return nil
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return client
}

func newModelRouter(cfg config.Config) *ai.ModelRouter {
	return ai.NewModelRouter(ai.ModelRouterConfig{
		ExtractionModel: cfg.OpenAIModelExtraction,
		SummaryModel:    cfg.OpenAIModelSummary,
	})
}

func newAIClient(cfg config.Config, timeoutMS int) *ai.Client {
	return ai.NewClient(ai.ClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    time.Duration(timeoutMS) * time.Millisecond,
		MaxRetries: cfg.OpenAIMaxRetries,
	})
}

func newExtractor(cfg config.Config) ai.Extractor {
	return ai.NewVisionExtractor(
		newAIClient(cfg, cfg.ExtractionTimeoutMS),
		newModelRouter(cfg),
		pdf.NewRenderer(),
		time.Duration(cfg.ExtractionTimeoutMS)*time.Millisecond,
	)
}

func newSummarizer(cfg config.Config) ai.Summarizer {
	return ai.NewChatSummarizer(
		newAIClient(cfg, cfg.SummarizationTimeoutMS),
		newModelRouter(cfg),
		time.Duration(cfg.SummarizationTimeoutMS)*time.Millisecond,
	)
}

func newScaler(cfg config.Config, backlog queue.BacklogReporter) *worker.Scaler {
	return worker.NewScaler(backlog, worker.ScalingConfig{
		TargetPerReplica: cfg.ScalingTargetPerReplica,
		MinReplicas:      cfg.ScalingMinReplicas,
		MaxReplicas:      cfg.ScalingMaxReplicas,
	})
}

func newPool(cfg config.Config, rt *runtime, logger zerolog.Logger) *worker.Pool {
	processor := worker.NewProcessor(rt.repo, rt.receiver, newSummarizer(cfg), rt.cache, rt.keys, worker.ProcessorConfig{
		MaxAttempts: cfg.WorkerMaxAttempts,
		LeaseTTL:    time.Duration(cfg.AckDeadlineSeconds) * time.Second,
	}, logger)
	return worker.NewPool(rt.receiver, processor, worker.PoolConfig{
		Workers:   cfg.WorkerConcurrency,
		BatchSize: cfg.WorkerBatchSize,
		IdleBase:  time.Duration(cfg.WorkerIdleBaseMS) * time.Millisecond,
		IdleMax:   time.Duration(cfg.WorkerIdleMaxMS) * time.Millisecond,
	}, logger)
}
