package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backend availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine tuning
	Engine EngineConfig `json:"engine"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EngineConfig holds analysis engine tuning knobs.
type EngineConfig struct {
	// RecentEventWindow bounds the pattern matcher's in-memory buffer.
	RecentEventWindow int `json:"recentEventWindow"`

	// ClusterInterval is the cadence of behavioral clustering.
	ClusterInterval time.Duration `json:"clusterInterval"`

	// StatsInterval is the cadence of statistics/trend refresh.
	StatsInterval time.Duration `json:"statsInterval"`

	// ClusterSeed seeds behavioral clustering for reproducible runs.
	// Zero means seed from the clock.
	ClusterSeed int64 `json:"clusterSeed"`

	// AnomalyThreshold is the overall score above which an activity is
	// anomalous.
	AnomalyThreshold float64 `json:"anomalyThreshold"`

	// ReputationTTL bounds reputation cache entries.
	ReputationTTL time.Duration `json:"reputationTtl"`
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

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierStandalone runs on SQLite + channels + local LRU cache.
	TierStandalone Tier = "standalone"

	// TierClustered runs on PostgreSQL + NATS + Redis.
	TierClustered Tier = "clustered"
)

// DefaultConfig returns a default configuration for standalone deployments.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierStandalone,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			RecentEventWindow: 1000,
			ClusterInterval:   30 * time.Minute,
			StatsInterval:     5 * time.Minute,
			AnomalyThreshold:  0.6,
			ReputationTTL:     15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ClusteredConfig returns a configuration for clustered deployments.
func ClusteredConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierClustered
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
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
	cfg.Tracing.Enabled = true
	return cfg
}
