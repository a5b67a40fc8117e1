package config

import "time"

// Config gathers every runtime tunable with its default. Values come from the
// environment; a zero Config is never used directly, call Load().
type Config struct {
	// HTTP server
	Host string
	Port string

	// Upstream endpoints
	RedisQURL string
	ZkbBaseURL string
	ESIBaseURL string
	UserAgent  string

	// Cache TTLs
	CacheKillmailTTL    time.Duration
	CacheSystemTTL      time.Duration
	CacheESITTL         time.Duration
	CacheESIKillmailTTL time.Duration
	CacheSweepInterval  time.Duration

	// HTTP retry policy
	RetryMaxRetries int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ESITimeout      time.Duration
	ZkbTimeout      time.Duration

	// Pipeline concurrency
	BatchConcurrency            int
	EnricherMaxConcurrency      int
	EnricherMinAttackersForFanout int
	EnricherTaskTimeout         time.Duration

	// Event store
	StoreGCInterval         time.Duration
	StoreMaxEventsPerSystem int

	// Parser
	ParserCutoff time.Duration

	// RedisQ pacing
	RedisQFastInterval    time.Duration
	RedisQIdleInterval    time.Duration
	RedisQInitialBackoff  time.Duration
	RedisQMaxBackoff      time.Duration
	RedisQBackoffFactor   float64
	RedisQEmptyThreshold  int
	RedisQPollTimeout     time.Duration

	// Rate limiting
	ZkbBucketCapacity    float64
	ZkbRefillPerSecond   float64
	ZkbFailureThreshold  int
	ZkbCooldown          time.Duration
	ESIBucketCapacity    float64
	ESIRefillPerSecond   float64
	ESIFailureThreshold  int
	ESICooldown          time.Duration
	RateLimitMaxQueue    int
	RateLimitQueueTimeout time.Duration

	// Coalescer
	CoalesceTimeout time.Duration

	// Webhooks
	WebhookTimeout     time.Duration
	WebhookMaxFailures int

	// Preload
	PreloadRealtimePriority bool

	// Ship catalogue
	ShipTypesCSV string

	// Telemetry
	EnableTelemetry bool
}

// Load reads the configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Host: GetHost(),
		Port: GetPort(),

		RedisQURL:  GetEnv("REDISQ_URL", "https://zkillredisq.stream/listen.php"),
		ZkbBaseURL: GetEnv("ZKB_BASE_URL", "https://zkillboard.com/api"),
		ESIBaseURL: GetEnv("ESI_BASE_URL", "https://esi.evetech.net/latest"),
		UserAgent:  GetEnv("USER_AGENT", "wanderer-kills/1.0 (contact@wanderer.ltd)"),

		CacheKillmailTTL:    GetDurationEnv("CACHE_KILLMAILS_TTL", 300*time.Second),
		CacheSystemTTL:      GetDurationEnv("CACHE_SYSTEM_TTL", 3600*time.Second),
		CacheESITTL:         GetDurationEnv("CACHE_ESI_TTL", 3600*time.Second),
		CacheESIKillmailTTL: GetDurationEnv("CACHE_ESI_KILLMAIL_TTL", 86400*time.Second),
		CacheSweepInterval:  GetDurationEnv("CACHE_SWEEP_INTERVAL_MS", 60*time.Second),

		RetryMaxRetries: GetIntEnv("RETRY_HTTP_MAX_RETRIES", 3),
		RetryBaseDelay:  GetDurationEnv("RETRY_HTTP_BASE_DELAY", 1000*time.Millisecond),
		RetryMaxDelay:   GetDurationEnv("RETRY_HTTP_MAX_DELAY", 30000*time.Millisecond),
		ESITimeout:      GetDurationEnv("ESI_TIMEOUT", 10*time.Second),
		ZkbTimeout:      GetDurationEnv("ZKB_TIMEOUT", 15*time.Second),

		BatchConcurrency:              GetIntEnv("CONCURRENCY_BATCH_SIZE", 100),
		EnricherMaxConcurrency:        GetIntEnv("ENRICHER_MAX_CONCURRENCY", 10),
		EnricherMinAttackersForFanout: GetIntEnv("ENRICHER_MIN_ATTACKERS_FOR_PARALLEL", 3),
		EnricherTaskTimeout:           GetDurationEnv("ENRICHER_TASK_TIMEOUT", 30*time.Second),

		StoreGCInterval:         GetDurationEnv("KILLMAIL_STORE_GC_INTERVAL_MS", 60*time.Second),
		StoreMaxEventsPerSystem: GetIntEnv("KILLMAIL_STORE_MAX_EVENTS_PER_SYSTEM", 10000),

		ParserCutoff: time.Duration(GetIntEnv("PARSER_CUTOFF_SECONDS", 3600)) * time.Second,

		RedisQFastInterval:   GetDurationEnv("REDISQ_FAST_INTERVAL_MS", 1000*time.Millisecond),
		RedisQIdleInterval:   GetDurationEnv("REDISQ_IDLE_INTERVAL_MS", 5000*time.Millisecond),
		RedisQInitialBackoff: GetDurationEnv("REDISQ_INITIAL_BACKOFF_MS", 1000*time.Millisecond),
		RedisQMaxBackoff:     GetDurationEnv("REDISQ_MAX_BACKOFF_MS", 30000*time.Millisecond),
		RedisQBackoffFactor:  GetFloatEnv("REDISQ_BACKOFF_FACTOR", 2.0),
		RedisQEmptyThreshold: GetIntEnv("REDISQ_EMPTY_THRESHOLD", 5),
		RedisQPollTimeout:    GetDurationEnv("REDISQ_POLL_TIMEOUT", 10*time.Second),

		ZkbBucketCapacity:     GetFloatEnv("RATE_LIMIT_ZKB_CAPACITY", 150),
		ZkbRefillPerSecond:    GetFloatEnv("RATE_LIMIT_ZKB_REFILL", 75),
		ZkbFailureThreshold:   GetIntEnv("CIRCUIT_BREAKER_ZKB_FAILURE_THRESHOLD", 10),
		ZkbCooldown:           GetDurationEnv("CIRCUIT_BREAKER_ZKB_COOLDOWN", 60*time.Second),
		ESIBucketCapacity:     GetFloatEnv("RATE_LIMIT_ESI_CAPACITY", 200),
		ESIRefillPerSecond:    GetFloatEnv("RATE_LIMIT_ESI_REFILL", 100),
		ESIFailureThreshold:   GetIntEnv("CIRCUIT_BREAKER_ESI_FAILURE_THRESHOLD", 5),
		ESICooldown:           GetDurationEnv("CIRCUIT_BREAKER_ESI_COOLDOWN", 60*time.Second),
		RateLimitMaxQueue:     GetIntEnv("RATE_LIMIT_MAX_QUEUE", 5000),
		RateLimitQueueTimeout: GetDurationEnv("RATE_LIMIT_QUEUE_TIMEOUT_MS", 30*time.Second),

		CoalesceTimeout: GetDurationEnv("COALESCE_TIMEOUT_MS", 30*time.Second),

		WebhookTimeout:     GetDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxFailures: GetIntEnv("WEBHOOK_MAX_FAILURES", 5),

		PreloadRealtimePriority: GetBoolEnv("PRELOAD_REALTIME_PRIORITY", false),

		ShipTypesCSV: GetEnv("SHIP_TYPES_CSV", ""),

		EnableTelemetry: GetBoolEnv("ENABLE_TELEMETRY", false),
	}
}
