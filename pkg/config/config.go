// Package config loads and validates the engine configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// sampler, the clusterer, the reducer, result output and the optional
// infrastructure (Postgres, Kafka, Redis, metrics).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Sampling strategies understood by the driver.
const (
	StrategyMultiEllipsoid = "multi-ellipsoid"
	StrategyPrior          = "prior"
)

// Reducer kinds.
const (
	ReducerFeroz    = "feroz"
	ReducerPowerLaw = "powerlaw"
)

// Config is the top-level configuration.
type Config struct {
	Sampler    SamplerConfig    `yaml:"sampler"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Reducer    ReducerConfig    `yaml:"reducer"`
	Output     OutputConfig     `yaml:"output"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SamplerConfig holds the nesting-loop and ellipsoidal sampler settings.
//
// InitialEnlargementFraction is optional; when unset the fraction is derived
// from the number of dimensions (see EnlargementFraction).
type SamplerConfig struct {
	Strategy                            string   `yaml:"strategy"`
	InitialNobjects                     int      `yaml:"initialNobjects"`
	MinNobjects                         int      `yaml:"minNobjects"`
	MaxNdrawAttempts                    int      `yaml:"maxNdrawAttempts"`
	NinitialIterationsWithoutClustering int      `yaml:"nInitialIterationsWithoutClustering"`
	NiterationsWithSameClustering       int      `yaml:"nIterationsWithSameClustering"`
	InitialEnlargementFraction          *float64 `yaml:"initialEnlargementFraction"`
	ShrinkingRate                       float64  `yaml:"shrinkingRate"`
	TerminationFactor                   float64  `yaml:"terminationFactor"`
	Seed                                uint64   `yaml:"seed"`
}

// ClusteringConfig controls the k-means clusterer used to partition live
// points before ellipsoid fitting.
type ClusteringConfig struct {
	MinNclusters      int     `yaml:"minNclusters"`
	MaxNclusters      int     `yaml:"maxNclusters"`
	Ntrials           int     `yaml:"nTrials"`
	RelTolerance      float64 `yaml:"relTolerance"`
	MaxIterations     int     `yaml:"maxIterations"`
	FeatureProjection bool    `yaml:"featureProjection"`
	VarianceThreshold float64 `yaml:"varianceThreshold"`
	Parallelism       int     `yaml:"parallelism"`
}

// ReducerConfig selects the termination / live-point reduction policy.
type ReducerConfig struct {
	Kind      string  `yaml:"kind"`
	Tolerance float64 `yaml:"tolerance"`
	Exponent  float64 `yaml:"exponent"`
}

// OutputConfig controls where result files are written and how often
// progress is reported.
type OutputConfig struct {
	Dir           string  `yaml:"dir"`
	Prefix        string  `yaml:"prefix"`
	CredibleLevel float64 `yaml:"credibleLevel"`
	ProgressEvery int     `yaml:"progressEvery"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Progress string `yaml:"progress"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suited to low-dimensional problems.
func Default() *Config {
	return &Config{
		Sampler: SamplerConfig{
			Strategy:                            StrategyMultiEllipsoid,
			InitialNobjects:                     400,
			MinNobjects:                         400,
			MaxNdrawAttempts:                    50000,
			NinitialIterationsWithoutClustering: 1000,
			NiterationsWithSameClustering:       50,
			ShrinkingRate:                       0.0,
			TerminationFactor:                   0.01,
			Seed:                                1,
		},
		Clustering: ClusteringConfig{
			MinNclusters:      1,
			MaxNclusters:      6,
			Ntrials:           10,
			RelTolerance:      0.01,
			MaxIterations:     100,
			FeatureProjection: false,
			VarianceThreshold: 0.99,
			Parallelism:       4,
		},
		Reducer: ReducerConfig{
			Kind:      ReducerFeroz,
			Tolerance: 0.01,
			Exponent:  0.4,
		},
		Output: OutputConfig{
			Dir:           "results",
			Prefix:        "nested_",
			CredibleLevel: 68.3,
			ProgressEvery: 100,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "nestedsampling",
			User:            "nestedsampling",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "nested-watch",
			Topics: KafkaTopics{
				Progress: "nested.progress",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 4,
			CacheTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// DefaultEnlargementFraction is the initial ellipsoid enlargement used when
// none is configured: 0.369 * D^0.574.
func DefaultEnlargementFraction(dims int) float64 {
	return 0.369 * math.Pow(float64(dims), 0.574)
}

// EnlargementFraction resolves the configured initial enlargement fraction
// for a problem with the given number of dimensions.
func (c SamplerConfig) EnlargementFraction(dims int) float64 {
	if c.InitialEnlargementFraction != nil {
		return *c.InitialEnlargementFraction
	}
	return DefaultEnlargementFraction(dims)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Sampler.Validate(); err != nil {
		return err
	}
	if err := c.Clustering.Validate(); err != nil {
		return err
	}
	if err := c.Reducer.Validate(); err != nil {
		return err
	}
	if c.Output.CredibleLevel <= 0 || c.Output.CredibleLevel >= 100 {
		return perrors.Newf(perrors.ErrConfiguration, "credibleLevel must be in (0, 100), got %g", c.Output.CredibleLevel)
	}
	return nil
}

// Validate checks the sampler settings.
func (c SamplerConfig) Validate() error {
	switch c.Strategy {
	case StrategyMultiEllipsoid, StrategyPrior:
	default:
		return perrors.Newf(perrors.ErrConfiguration, "unknown sampler strategy %q", c.Strategy)
	}
	counts := []struct {
		name  string
		value int
	}{
		{"initialNobjects", c.InitialNobjects},
		{"minNobjects", c.MinNobjects},
		{"maxNdrawAttempts", c.MaxNdrawAttempts},
		{"nInitialIterationsWithoutClustering", c.NinitialIterationsWithoutClustering},
		{"nIterationsWithSameClustering", c.NiterationsWithSameClustering},
	}
	for _, cnt := range counts {
		if cnt.value <= 0 {
			return perrors.Newf(perrors.ErrConfiguration, "%s must be > 0, got %d", cnt.name, cnt.value)
		}
	}
	if c.MinNobjects > c.InitialNobjects {
		return perrors.Newf(perrors.ErrConfiguration, "minNobjects (%d) exceeds initialNobjects (%d)", c.MinNobjects, c.InitialNobjects)
	}
	if c.InitialEnlargementFraction != nil && *c.InitialEnlargementFraction < 0 {
		return perrors.Newf(perrors.ErrConfiguration, "initialEnlargementFraction must be >= 0, got %g", *c.InitialEnlargementFraction)
	}
	if c.ShrinkingRate < 0 || c.ShrinkingRate > 1 {
		return perrors.Newf(perrors.ErrConfiguration, "shrinkingRate must be in [0, 1], got %g", c.ShrinkingRate)
	}
	if c.TerminationFactor <= 0 {
		return perrors.Newf(perrors.ErrConfiguration, "terminationFactor must be > 0, got %g", c.TerminationFactor)
	}
	return nil
}

// Validate checks the clustering settings.
func (c ClusteringConfig) Validate() error {
	if c.MinNclusters <= 0 || c.MaxNclusters <= 0 {
		return perrors.Newf(perrors.ErrConfiguration, "cluster counts must be > 0, got [%d, %d]", c.MinNclusters, c.MaxNclusters)
	}
	if c.MinNclusters > c.MaxNclusters {
		return perrors.Newf(perrors.ErrConfiguration, "minNclusters (%d) exceeds maxNclusters (%d)", c.MinNclusters, c.MaxNclusters)
	}
	if c.Ntrials <= 0 {
		return perrors.Newf(perrors.ErrConfiguration, "nTrials must be > 0, got %d", c.Ntrials)
	}
	if c.RelTolerance <= 0 {
		return perrors.Newf(perrors.ErrConfiguration, "relTolerance must be > 0, got %g", c.RelTolerance)
	}
	if c.MaxIterations <= 0 {
		return perrors.Newf(perrors.ErrConfiguration, "maxIterations must be > 0, got %d", c.MaxIterations)
	}
	if c.VarianceThreshold <= 0 || c.VarianceThreshold > 1 {
		return perrors.Newf(perrors.ErrConfiguration, "varianceThreshold must be in (0, 1], got %g", c.VarianceThreshold)
	}
	return nil
}

// Validate checks the reducer settings.
func (c ReducerConfig) Validate() error {
	switch c.Kind {
	case ReducerFeroz:
	case ReducerPowerLaw:
		if c.Exponent <= 0 {
			return perrors.Newf(perrors.ErrConfiguration, "powerlaw exponent must be > 0, got %g", c.Exponent)
		}
	default:
		return perrors.Newf(perrors.ErrConfiguration, "unknown reducer kind %q", c.Kind)
	}
	if c.Tolerance <= 0 {
		return perrors.Newf(perrors.ErrConfiguration, "reducer tolerance must be > 0, got %g", c.Tolerance)
	}
	return nil
}

// applyEnvOverrides reads NS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NS_SAMPLER_STRATEGY"); v != "" {
		cfg.Sampler.Strategy = v
	}
	if v := os.Getenv("NS_SAMPLER_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Sampler.Seed = seed
		}
	}
	if v := os.Getenv("NS_SAMPLER_INITIAL_NOBJECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.InitialNobjects = n
		}
	}
	if v := os.Getenv("NS_SAMPLER_MIN_NOBJECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampler.MinNobjects = n
		}
	}
	if v := os.Getenv("NS_REDUCER_KIND"); v != "" {
		cfg.Reducer.Kind = v
	}
	if v := os.Getenv("NS_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("NS_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = v == "true"
	}
	if v := os.Getenv("NS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NS_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true"
	}
	if v := os.Getenv("NS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NS_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	if v := os.Getenv("NS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("NS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
