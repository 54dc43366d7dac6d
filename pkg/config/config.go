package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the configuration for the synergy engine
type Config struct {
	// MQTT configuration
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres configuration
	PostgresHost               string
	PostgresPort               int
	PostgresUser               string
	PostgresPassword           string
	PostgresDB                 string
	PostgresSSLMode            string
	PostgresMaxConnections     int
	PostgresMaxIdleConnections int
	PostgresConnMaxLifetime    time.Duration

	// Service configuration
	ServiceName string
	HealthPort  int
	LogLevel    string

	// Embedding backend configuration (optional collaborator)
	EmbeddingEndpoint  string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingTimeout   time.Duration
	EmbeddingCacheTTL  time.Duration

	// Pairwise analyzer configuration
	PairWindowSeconds   int
	PairMinOccurrences  int
	PairSaturationCount int
	ImpactHalfLifeDays  float64

	// Chain extractor configuration
	ChainMaxDepth            int
	ChainMaxInput            int
	ChainMaxOutput           int
	ChainSimilarityThreshold float64
	SynergyLookbackDays      int

	// Scheduling
	IncrementalInterval time.Duration
	SweepInterval       time.Duration
	RetrainInterval     time.Duration

	// Lifecycle configuration
	StaleThresholdDays  int
	DeleteThresholdDays int

	// Calibration configuration
	CalibrationMinSamples int

	// Detector health
	DetectorFailureThreshold float64
	HealthWindowRuns         int

	// Event fetch retry policy
	FetchRetryAttempts int
	FetchRetryBackoff  time.Duration

	// Utility scoring weights (overridable via YAML file, see scoring package)
	ScoringWeightsFile string
	WeightFrequency    float64
	WeightEnergy       float64
	WeightTimeSaved    float64
	WeightSatisfaction float64

	// Geographic position for seasonal daylight features
	Latitude  float64
	Longitude float64

	// Session detector configuration
	SessionGapMinutes int
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:   "localhost",
		MQTTPort:     1883,
		MQTTUser:     "",
		MQTTPassword: "",
		MQTTClientID: "",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "synergy",
		PostgresPassword:           "",
		PostgresDB:                 "synergy",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     10,
		PostgresMaxIdleConnections: 5,
		PostgresConnMaxLifetime:    30 * time.Minute,

		ServiceName: "synergy-engine",
		HealthPort:  8080,
		LogLevel:    "info",

		EmbeddingEndpoint:  "",
		EmbeddingModel:     "nomic-embed-text",
		EmbeddingDimension: 384,
		EmbeddingTimeout:   15 * time.Second,
		EmbeddingCacheTTL:  24 * time.Hour,

		PairWindowSeconds:   30,
		PairMinOccurrences:  3,
		PairSaturationCount: 10,
		ImpactHalfLifeDays:  14,

		ChainMaxDepth:            4,
		ChainMaxInput:            200,
		ChainMaxOutput:           50,
		ChainSimilarityThreshold: 0.6,
		SynergyLookbackDays:      30,

		IncrementalInterval: time.Hour,
		SweepInterval:       24 * time.Hour,
		RetrainInterval:     24 * time.Hour,

		StaleThresholdDays:  60,
		DeleteThresholdDays: 30,

		CalibrationMinSamples: 20,

		DetectorFailureThreshold: 0.2,
		HealthWindowRuns:         10,

		FetchRetryAttempts: 3,
		FetchRetryBackoff:  time.Second,

		ScoringWeightsFile: "",
		WeightFrequency:    0.35,
		WeightEnergy:       0.25,
		WeightTimeSaved:    0.20,
		WeightSatisfaction: 0.20,

		// Helsinki coordinates
		Latitude:  60.1695,
		Longitude: 24.9354,

		SessionGapMinutes: 30,
	}
}

// LoadFromEnv loads configuration from environment variables with SYNERGY_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("SYNERGY_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("SYNERGY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("SYNERGY_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("SYNERGY_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("SYNERGY_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("SYNERGY_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("SYNERGY_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("SYNERGY_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("SYNERGY_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("SYNERGY_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("SYNERGY_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("SYNERGY_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("SYNERGY_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("SYNERGY_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("SYNERGY_POSTGRES_SSL_MODE"); v != "" {
		c.PostgresSSLMode = v
	}

	// Service configuration
	if v := os.Getenv("SYNERGY_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("SYNERGY_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("SYNERGY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Embedding backend configuration
	if v := os.Getenv("SYNERGY_EMBEDDING_ENDPOINT"); v != "" {
		c.EmbeddingEndpoint = v
	}
	if v := os.Getenv("SYNERGY_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("SYNERGY_EMBEDDING_DIMENSION"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDimension = dim
		}
	}
	if v := os.Getenv("SYNERGY_EMBEDDING_CACHE_TTL_HOURS"); v != "" {
		if hours, err := strconv.ParseFloat(v, 64); err == nil {
			c.EmbeddingCacheTTL = time.Duration(hours * float64(time.Hour))
		}
	}

	// Analyzer configuration
	if v := os.Getenv("SYNERGY_PAIR_WINDOW_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.PairWindowSeconds = secs
		}
	}
	if v := os.Getenv("SYNERGY_PAIR_MIN_OCCURRENCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PairMinOccurrences = n
		}
	}
	if v := os.Getenv("SYNERGY_CHAIN_MAX_INPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChainMaxInput = n
		}
	}
	if v := os.Getenv("SYNERGY_CHAIN_MAX_OUTPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChainMaxOutput = n
		}
	}
	if v := os.Getenv("SYNERGY_CHAIN_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ChainSimilarityThreshold = f
		}
	}
	if v := os.Getenv("SYNERGY_LOOKBACK_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.SynergyLookbackDays = days
		}
	}

	// Scheduling
	if v := os.Getenv("SYNERGY_INCREMENTAL_INTERVAL_MIN"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			c.IncrementalInterval = time.Duration(mins) * time.Minute
		}
	}
	if v := os.Getenv("SYNERGY_SWEEP_INTERVAL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.SweepInterval = time.Duration(hours) * time.Hour
		}
	}
	if v := os.Getenv("SYNERGY_RETRAIN_INTERVAL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.RetrainInterval = time.Duration(hours) * time.Hour
		}
	}

	// Lifecycle configuration
	if v := os.Getenv("SYNERGY_STALE_THRESHOLD_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.StaleThresholdDays = days
		}
	}
	if v := os.Getenv("SYNERGY_DELETE_THRESHOLD_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.DeleteThresholdDays = days
		}
	}

	// Calibration configuration
	if v := os.Getenv("SYNERGY_CALIBRATION_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CalibrationMinSamples = n
		}
	}

	// Detector health
	if v := os.Getenv("SYNERGY_DETECTOR_FAILURE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DetectorFailureThreshold = f
		}
	}

	// Scoring
	if v := os.Getenv("SYNERGY_SCORING_WEIGHTS_FILE"); v != "" {
		c.ScoringWeightsFile = v
	}

	// Geographic position
	if v := os.Getenv("SYNERGY_LATITUDE"); v != "" {
		if lat, err := strconv.ParseFloat(v, 64); err == nil {
			c.Latitude = lat
		}
	}
	if v := os.Getenv("SYNERGY_LONGITUDE"); v != "" {
		if lon, err := strconv.ParseFloat(v, 64); err == nil {
			c.Longitude = lon
		}
	}

	// Session detector
	if v := os.Getenv("SYNERGY_SESSION_GAP_MINUTES"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			c.SessionGapMinutes = mins
		}
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	// MQTT flags
	pflag.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	pflag.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	pflag.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	pflag.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	pflag.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	pflag.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	pflag.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	pflag.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	pflag.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	pflag.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	pflag.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	pflag.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres username")
	pflag.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	pflag.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	pflag.StringVar(&c.PostgresSSLMode, "postgres-ssl-mode", c.PostgresSSLMode, "Postgres SSL mode")

	// Service flags
	pflag.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	pflag.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	pflag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Embedding backend flags
	pflag.StringVar(&c.EmbeddingEndpoint, "embedding-endpoint", c.EmbeddingEndpoint, "Embedding backend URL (empty disables similarity filtering)")
	pflag.StringVar(&c.EmbeddingModel, "embedding-model", c.EmbeddingModel, "Embedding model name")
	pflag.IntVar(&c.EmbeddingDimension, "embedding-dimension", c.EmbeddingDimension, "Embedding vector dimension")
	pflag.DurationVar(&c.EmbeddingCacheTTL, "embedding-cache-ttl", c.EmbeddingCacheTTL, "Embedding cache TTL")

	// Analyzer flags
	pflag.IntVar(&c.PairWindowSeconds, "pair-window-seconds", c.PairWindowSeconds, "Forward scan window for trigger->action pairs (seconds)")
	pflag.IntVar(&c.PairMinOccurrences, "pair-min-occurrences", c.PairMinOccurrences, "Minimum co-occurrences before a pair qualifies")
	pflag.IntVar(&c.ChainMaxInput, "chain-max-input", c.ChainMaxInput, "Maximum base chains accepted for depth-4 extension")
	pflag.IntVar(&c.ChainMaxOutput, "chain-max-output", c.ChainMaxOutput, "Maximum chains emitted per extension stage")
	pflag.Float64Var(&c.ChainSimilarityThreshold, "chain-similarity-threshold", c.ChainSimilarityThreshold, "Minimum trigger/action embedding similarity for chains")
	pflag.IntVar(&c.SynergyLookbackDays, "synergy-lookback-days", c.SynergyLookbackDays, "Event history window for synergy re-derivation (days)")

	// Scheduling flags
	pflag.DurationVar(&c.IncrementalInterval, "incremental-interval", c.IncrementalInterval, "Interval between incremental detection passes")
	pflag.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval between lifecycle sweeps")
	pflag.DurationVar(&c.RetrainInterval, "retrain-interval", c.RetrainInterval, "Interval between calibration retrains")

	// Lifecycle flags
	pflag.IntVar(&c.StaleThresholdDays, "stale-threshold-days", c.StaleThresholdDays, "Days without reinforcement before a pattern is deprecated")
	pflag.IntVar(&c.DeleteThresholdDays, "delete-threshold-days", c.DeleteThresholdDays, "Days after deprecation before a pattern is deleted")

	// Calibration flags
	pflag.IntVar(&c.CalibrationMinSamples, "calibration-min-samples", c.CalibrationMinSamples, "Labeled samples required before calibration activates for a type")

	// Scoring flags
	pflag.StringVar(&c.ScoringWeightsFile, "scoring-weights-file", c.ScoringWeightsFile, "YAML file overriding utility score weights")

	// Geographic flags
	pflag.Float64Var(&c.Latitude, "latitude", c.Latitude, "Geographic latitude for daylight features")
	pflag.Float64Var(&c.Longitude, "longitude", c.Longitude, "Geographic longitude for daylight features")

	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("Postgres host is required")
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("Postgres port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.PairMinOccurrences < 1 {
		return fmt.Errorf("pair min occurrences must be at least 1")
	}
	if c.ChainMaxDepth < 2 || c.ChainMaxDepth > 4 {
		return fmt.Errorf("chain max depth must be between 2 and 4")
	}
	if c.ChainSimilarityThreshold < 0 || c.ChainSimilarityThreshold > 1 {
		return fmt.Errorf("chain similarity threshold must be between 0 and 1")
	}
	if c.DetectorFailureThreshold < 0 || c.DetectorFailureThreshold > 1 {
		return fmt.Errorf("detector failure threshold must be between 0 and 1")
	}
	if c.StaleThresholdDays <= 0 || c.DeleteThresholdDays <= 0 {
		return fmt.Errorf("lifecycle thresholds must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns the lib/pq connection string
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDB, c.PostgresSSLMode)
}
