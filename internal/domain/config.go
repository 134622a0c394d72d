package domain

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Scoring    ScoringConfig    `json:"scoring"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig holds external-inference settings.
type ScoringConfig struct {
	// InferenceURL is the endpoint of the external scoring service.
	// Empty disables the external path entirely.
	InferenceURL string `json:"inferenceUrl"`

	// InferenceTimeoutSecs bounds a single inference call. After the
	// timeout the pipeline falls back to the statistical heuristic.
	InferenceTimeoutSecs int `json:"inferenceTimeoutSecs"`

	// ExternalEnabled forces fallback-only mode when false.
	ExternalEnabled bool `json:"externalEnabled"`

	// FallbackSeed seeds the heuristic's jitter source. Zero means
	// time-seeded.
	FallbackSeed int64 `json:"fallbackSeed,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels.
	TierCommunity Tier = "community"

	// TierPro is the clustered tier with PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			InferenceTimeoutSecs: 5,
			ExternalEnabled:      false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Scoring.ExternalEnabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// SystemConfig is the operator-tunable response configuration. The store owns
// it; the pipeline reads one consistent snapshot per run and passes it down
// explicitly so a config-store outage fails safe instead of auto-blocking.
type SystemConfig struct {
	// AutoBlockCritical blocks the source of any critical-severity threat.
	AutoBlockCritical bool `json:"auto_block_critical"`

	// AutoBlockFraud blocks the caller on any call_fraud threat.
	AutoBlockFraud bool `json:"auto_block_fraud"`

	// SIMSwapManual leaves sim_swap threats for manual handling instead
	// of opening a case automatically.
	SIMSwapManual bool `json:"sim_swap_manual"`

	// Sensitivities are 0-100 tuning hints passed through to the score
	// provider.
	SMSSensitivity   int `json:"sms_sensitivity"`
	CallSensitivity  int `json:"call_sensitivity"`
	FraudSensitivity int `json:"fraud_sensitivity"`
}

// System config store keys.
const (
	ConfigKeyAutoBlockCritical = "auto_block_critical"
	ConfigKeyAutoBlockFraud    = "auto_block_fraud"
	ConfigKeySIMSwapManual     = "sim_swap_manual"
	ConfigKeySMSSensitivity    = "sms_sensitivity"
	ConfigKeyCallSensitivity   = "call_sensitivity"
	ConfigKeyFraudSensitivity  = "fraud_sensitivity"
)

// DefaultSystemConfig returns conservative defaults: no automated blocking,
// mid-range sensitivities.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		AutoBlockCritical: false,
		AutoBlockFraud:    false,
		SIMSwapManual:     true,
		SMSSensitivity:    50,
		CallSensitivity:   50,
		FraudSensitivity:  50,
	}
}
