package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the gateway and the workers.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	AuthToken string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	GCSBucket string

	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OpenAIMaxRetries       int
	OpenAIModelExtraction  string
	OpenAIModelSummary     string
	ExtractionTimeoutMS    int
	SummarizationTimeoutMS int

	MaxImageBytes int64
	MaxPDFBytes   int64
	MaxPDFPages   int

	EnqueueMaxAttempts int
	EnqueueBackoffMS   int

	CacheTTLSeconds int
	CacheMaxEntries int

	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerBatchSize    int
	WorkerMaxAttempts  int
	WorkerIdleBaseMS   int
	WorkerIdleMaxMS    int
	AckDeadlineSeconds int

	ScalingTargetPerReplica int
	ScalingMinReplicas      int
	ScalingMaxReplicas      int

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int
}

func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "summarization_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "summarization_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "summarizers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", hostnameOr("worker-1")),

		GCSBucket: getEnv("GCS_BUCKET", ""),

		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIMaxRetries:       getEnvInt("OPENAI_MAX_RETRIES", 2),
		OpenAIModelExtraction:  getEnv("OPENAI_MODEL_EXTRACTION", "gpt-4o-mini"),
		OpenAIModelSummary:     getEnv("OPENAI_MODEL_SUMMARY", "gpt-4o-mini"),
		ExtractionTimeoutMS:    getEnvInt("EXTRACTION_TIMEOUT_MS", 60000),
		SummarizationTimeoutMS: getEnvInt("SUMMARIZATION_TIMEOUT_MS", 30000),

		MaxImageBytes: int64(getEnvInt("MAX_IMAGE_BYTES", 5*1024*1024)),
		MaxPDFBytes:   int64(getEnvInt("MAX_PDF_BYTES", 10*1024*1024)),
		MaxPDFPages:   getEnvInt("MAX_PDF_PAGES", 20),

		EnqueueMaxAttempts: getEnvInt("ENQUEUE_MAX_ATTEMPTS", 3),
		EnqueueBackoffMS:   getEnvInt("ENQUEUE_BACKOFF_MS", 200),

		CacheTTLSeconds: getEnvInt("STATUS_CACHE_TTL_SECONDS", 30),
		CacheMaxEntries: getEnvInt("STATUS_CACHE_MAX_ENTRIES", 5000),

		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 1),
		WorkerBatchSize:    getEnvInt("WORKER_BATCH_SIZE", 5),
		WorkerMaxAttempts:  getEnvInt("WORKER_MAX_ATTEMPTS", 3),
		WorkerIdleBaseMS:   getEnvInt("WORKER_IDLE_BASE_MS", 500),
		WorkerIdleMaxMS:    getEnvInt("WORKER_IDLE_MAX_MS", 20000),
		AckDeadlineSeconds: getEnvInt("ACK_DEADLINE_SECONDS", 60),

		ScalingTargetPerReplica: getEnvInt("SCALING_TARGET_PER_REPLICA", 10),
		ScalingMinReplicas:      getEnvInt("SCALING_MIN_REPLICAS", 1),
		ScalingMaxReplicas:      getEnvInt("SCALING_MAX_REPLICAS", 20),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),
	}
}

// Validate reports settings that would break the pipeline guarantees.
func (c Config) Validate() error {
	var problems []error
	if c.WorkerBatchSize <= 0 {
		problems = append(problems, errors.New("WORKER_BATCH_SIZE must be positive"))
	}
	if c.WorkerMaxAttempts <= 0 {
		problems = append(problems, errors.New("WORKER_MAX_ATTEMPTS must be positive"))
	}
	if c.EnqueueMaxAttempts <= 0 {
		problems = append(problems, errors.New("ENQUEUE_MAX_ATTEMPTS must be positive"))
	}
	if c.AckDeadlineSeconds <= 0 {
		problems = append(problems, errors.New("ACK_DEADLINE_SECONDS must be positive"))
	}
	if c.ScalingTargetPerReplica <= 0 {
		problems = append(problems, errors.New("SCALING_TARGET_PER_REPLICA must be positive"))
	}
	if c.ScalingMaxReplicas > 0 && c.ScalingMaxReplicas < c.ScalingMinReplicas {
		problems = append(problems, fmt.Errorf(
			"SCALING_MAX_REPLICAS (%d) below SCALING_MIN_REPLICAS (%d)",
			c.ScalingMaxReplicas, c.ScalingMinReplicas,
		))
	}
	if c.MaxImageBytes <= 0 || c.MaxPDFBytes <= 0 || c.MaxPDFPages <= 0 {
		problems = append(problems, errors.New("upload limits must be positive"))
	}
	return errors.Join(problems...)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}
