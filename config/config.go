package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Storage backends
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the backend
type Config struct {
	Port      string          `yaml:"port"`
	LogLevel  string          `yaml:"logLevel"`
	Store     StoreConfig     `yaml:"store"`
	Training  TrainingConfig  `yaml:"training"`
	Trading   TradingConfig   `yaml:"trading"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Archive   ArchiveConfig   `yaml:"archive"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// Clients opened by Connect
	DB        *gorm.DB              `yaml:"-"`
	Redis     *redis.Client         `yaml:"-"`
	K8sClient *kubernetes.Clientset `yaml:"-"`
}

// StoreConfig selects and configures the status store backend
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	DataDir     string `yaml:"dataDir"`
	RedisAddr   string `yaml:"redisAddr"`
	RedisPrefix string `yaml:"redisPrefix"`
	DatabaseURL string `yaml:"databaseURL"`
}

// TrainingConfig configures the phase state machines
type TrainingConfig struct {
	Processes    []string      `yaml:"processes"`
	Phases       []string      `yaml:"phases"`
	TickInterval time.Duration `yaml:"tickInterval"`
	Cooldown     time.Duration `yaml:"cooldown"`
	MaxDelta     float64       `yaml:"maxDelta"`
}

// TradingConfig configures the trading pool and simulated broker
type TradingConfig struct {
	MaxConcurrency int           `yaml:"maxConcurrency"`
	ThresholdValue float64       `yaml:"thresholdValue"`
	Interval       time.Duration `yaml:"interval"`
	UnitTimeout    time.Duration `yaml:"unitTimeout"`
	Latency        time.Duration `yaml:"latency"`
	Pairs          []string      `yaml:"pairs"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around broker calls
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"maxRequests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
}

// SchedulerConfig configures the periodic job checker
type SchedulerConfig struct {
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// ArchiveConfig configures snapshot uploads to MinIO
type ArchiveConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Bucket          string        `yaml:"bucket"`
	AccessKey       string        `yaml:"accessKey"`
	SecretKey       string        `yaml:"secretKey"`
	UseSSL          bool          `yaml:"useSSL"`
	SecretName      string        `yaml:"secretName"`
	SecretNamespace string        `yaml:"secretNamespace"`
	Kubeconfig      string        `yaml:"kubeconfig"`
	Interval        time.Duration `yaml:"interval"`
}

// Enabled reports whether snapshot archiving is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != "" && (a.Endpoint != "" || a.SecretName != "")
}

// RateLimitConfig configures per-client API rate limiting
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultPhases is the ordered phase table used when none is configured
var DefaultPhases = []string{
	"Training model",
	"Testing the model",
	"Fixing the model",
	"Retesting the model",
	"Getting model ready",
	"Model is in use",
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		Store: StoreConfig{
			Backend:     BackendFile,
			DataDir:     "data",
			RedisPrefix: "assistant",
		},
		Training: TrainingConfig{
			Processes:    []string{"training"},
			Phases:       append([]string(nil), DefaultPhases...),
			TickInterval: time.Second,
			Cooldown:     5 * time.Second,
			MaxDelta:     2,
		},
		Trading: TradingConfig{
			MaxConcurrency: 4,
			ThresholdValue: 0.7,
			Interval:       30 * time.Second,
			Latency:        700 * time.Millisecond,
			Pairs:          []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "ADA/USDT", "DOGE/USDT"},
			Breaker: BreakerConfig{
				MaxRequests:         1,
				Interval:            time.Minute,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Scheduler: SchedulerConfig{
			CheckInterval: time.Minute,
		},
		Archive: ArchiveConfig{
			SecretNamespace: "default",
			Interval:        time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
	}
}

// Load reads an optional YAML file, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.Store.Backend = getEnvOrDefault("STORE_BACKEND", c.Store.Backend)
	c.Store.DataDir = getEnvOrDefault("DATA_DIR", c.Store.DataDir)
	c.Store.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.Store.DatabaseURL)
	c.Archive.Endpoint = getEnvOrDefault("MINIO_ENDPOINT", c.Archive.Endpoint)
	c.Archive.Bucket = getEnvOrDefault("MINIO_BUCKET", c.Archive.Bucket)
	c.Archive.AccessKey = getEnvOrDefault("MINIO_ACCESS_KEY", c.Archive.AccessKey)
	c.Archive.SecretKey = getEnvOrDefault("MINIO_SECRET_KEY", c.Archive.SecretKey)
	c.Archive.Kubeconfig = getEnvOrDefault("KUBECONFIG", c.Archive.Kubeconfig)

	if v := os.Getenv("MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Trading.MaxConcurrency = n
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid MAX_CONCURRENCY")
		}
	}
	if v := os.Getenv("THRESHOLD_VALUE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Trading.ThresholdValue = f
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid THRESHOLD_VALUE")
		}
	}
	if v := os.Getenv("TRAINING_PHASES"); v != "" {
		c.Training.Phases = splitList(v)
	}
}

// Validate checks the configuration for values the components cannot run with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis backend requires store.redisAddr")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("postgres backend requires store.databaseURL")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if len(c.Training.Phases) == 0 {
		return fmt.Errorf("training.phases must not be empty")
	}
	if len(c.Training.Processes) == 0 {
		return fmt.Errorf("training.processes must not be empty")
	}
	if c.Training.TickInterval <= 0 {
		return fmt.Errorf("training.tickInterval must be positive")
	}
	if c.Trading.MaxConcurrency < 1 {
		return fmt.Errorf("trading.maxConcurrency must be at least 1")
	}
	if c.Trading.Interval <= 0 || c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("trading.interval and scheduler.checkInterval must be positive")
	}
	if c.Archive.Enabled() && c.Archive.Interval <= 0 {
		return fmt.Errorf("archive.interval must be positive when archiving is enabled")
	}
	return nil
}

// Connect opens the clients the configured backends need
func (c *Config) Connect(ctx context.Context) error {
	switch c.Store.Backend {
	case BackendPostgres:
		if err := c.initDatabase(); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	case BackendRedis:
		if err := c.initRedis(ctx); err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
	}

	if c.Archive.SecretName != "" {
		if err := c.initK8sClient(); err != nil {
			return fmt.Errorf("failed to initialize Kubernetes client: %w", err)
		}
	}

	log.Info().Str("backend", c.Store.Backend).Msg("Configuration initialized successfully")
	return nil
}

// initDatabase initializes the database connection with optimized settings
func (c *Config) initDatabase() error {
	db, err := gorm.Open(postgres.Open(c.Store.DatabaseURL), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Document{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	c.DB = db
	log.Info().Msg("Database initialized")
	return nil
}

func (c *Config) initRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{Addr: c.Store.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping redis at %s: %w", c.Store.RedisAddr, err)
	}

	c.Redis = client
	log.Info().Str("addr", c.Store.RedisAddr).Msg("Redis client initialized")
	return nil
}

// initK8sClient builds a clientset from the kubeconfig, or the in-cluster config when none is set
func (c *Config) initK8sClient() error {
	var (
		restConfig *rest.Config
		err        error
	)
	if c.Archive.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", c.Archive.Kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to build Kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create clientset: %w", err)
	}
	c.K8sClient = client
	log.Info().Msg("Kubernetes client initialized")
	return nil
}

// Close closes all connections
func (c *Config) Close() {
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
		c.DB = nil
	}
	if c.Redis != nil {
		c.Redis.Close()
		c.Redis = nil
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
