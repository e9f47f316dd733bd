// Package config holds operator-level configuration for a threatmem
// deployment: store location, tier TTLs, promotion thresholds, decay
// tuning, and the resilience knobs. Everything is set via env vars
// (THREATMEM_*) or a config file (threatmem.config.yaml); none of these
// values are hard-coded in the tiers or the engine, so operators can
// re-tune scoring and breaker behavior without a rebuild.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the THREATMEM_ prefix
// (e.g. "redis_addr" → THREATMEM_REDIS_ADDR) and to a YAML field in
// threatmem.config.yaml.
const (
	KeyListenAddr    = "listen_addr"
	KeyStoreBackend  = "store_backend"
	KeyRedisAddr     = "redis_addr"
	KeyRedisPassword = "redis_password"
	KeyRedisDB       = "redis_db"

	KeyWorkingTTL   = "working_ttl"
	KeyShortTermTTL = "short_term_ttl"
	KeyLongTermTTL  = "long_term_ttl"

	KeyPromoteShortTermScore = "promote_short_term_score"
	KeyPromoteLongTermScore  = "promote_long_term_score"

	KeyDecaySchedule   = "decay_schedule"
	KeyDecayRate       = "decay_rate"
	KeyConfidenceFloor = "confidence_floor"
	KeyDecayBatchSize  = "decay_batch_size"

	KeyBreakerFailureThreshold = "breaker_failure_threshold"
	KeyBreakerSuccessThreshold = "breaker_success_threshold"
	KeyBreakerCooldown         = "breaker_cooldown"
	KeyRetryMaxAttempts        = "retry_max_attempts"
	KeyRetryInitialDelay       = "retry_initial_delay"
	KeyRetryMaxDelay           = "retry_max_delay"
	KeyDeadLetterCapacity      = "dead_letter_capacity"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory" // in-process, dev/test only
)

// Defaults. Promotion thresholds and decay tuning mirror the analyst
// workflow defaults; the resilience block mirrors the breaker/retry
// defaults the monitor falls back to.
const (
	DefaultListenAddr = ":8086"
	DefaultRedisAddr  = "localhost:6379"

	DefaultWorkingTTL   = time.Hour
	DefaultShortTermTTL = 7 * 24 * time.Hour
	DefaultLongTermTTL  = 90 * 24 * time.Hour

	DefaultPromoteShortTermScore = 0.6
	DefaultPromoteLongTermScore  = 0.8

	DefaultDecaySchedule   = "@hourly"
	DefaultDecayRate       = 0.02
	DefaultConfidenceFloor = 0.5
	DefaultDecayBatchSize  = 100

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerSuccessThreshold = 3
	DefaultBreakerCooldown         = 60 * time.Second
	DefaultRetryMaxAttempts        = 3
	DefaultRetryInitialDelay       = time.Second
	DefaultRetryMaxDelay           = 60 * time.Second
	DefaultDeadLetterCapacity      = 1000
)

// Config is the resolved operator configuration for one process.
type Config struct {
	ListenAddr    string
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WorkingTTL   time.Duration
	ShortTermTTL time.Duration
	LongTermTTL  time.Duration

	// Caller-side promotion policy: minimum score for a working-memory
	// threat to enter L2, and for an L2 record to be considered for L3.
	// The engine itself never enforces these.
	PromoteShortTermScore float64
	PromoteLongTermScore  float64

	DecaySchedule   string // cron spec for the decay worker
	DecayRate       float64
	ConfidenceFloor float64
	DecayBatchSize  int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerCooldown         time.Duration
	RetryMaxAttempts        int
	RetryInitialDelay       time.Duration
	RetryMaxDelay           time.Duration
	DeadLetterCapacity      int
}

func init() {
	viper.SetEnvPrefix("THREATMEM")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyStoreBackend, StoreRedis)
	viper.SetDefault(KeyRedisAddr, DefaultRedisAddr)
	viper.SetDefault(KeyRedisDB, 0)
	viper.SetDefault(KeyWorkingTTL, DefaultWorkingTTL)
	viper.SetDefault(KeyShortTermTTL, DefaultShortTermTTL)
	viper.SetDefault(KeyLongTermTTL, DefaultLongTermTTL)
	viper.SetDefault(KeyPromoteShortTermScore, DefaultPromoteShortTermScore)
	viper.SetDefault(KeyPromoteLongTermScore, DefaultPromoteLongTermScore)
	viper.SetDefault(KeyDecaySchedule, DefaultDecaySchedule)
	viper.SetDefault(KeyDecayRate, DefaultDecayRate)
	viper.SetDefault(KeyConfidenceFloor, DefaultConfidenceFloor)
	viper.SetDefault(KeyDecayBatchSize, DefaultDecayBatchSize)
	viper.SetDefault(KeyBreakerFailureThreshold, DefaultBreakerFailureThreshold)
	viper.SetDefault(KeyBreakerSuccessThreshold, DefaultBreakerSuccessThreshold)
	viper.SetDefault(KeyBreakerCooldown, DefaultBreakerCooldown)
	viper.SetDefault(KeyRetryMaxAttempts, DefaultRetryMaxAttempts)
	viper.SetDefault(KeyRetryInitialDelay, DefaultRetryInitialDelay)
	viper.SetDefault(KeyRetryMaxDelay, DefaultRetryMaxDelay)
	viper.SetDefault(KeyDeadLetterCapacity, DefaultDeadLetterCapacity)
}

// Load reads configuration from viper (env vars, config file, defaults)
// and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    viper.GetString(KeyListenAddr),
		StoreBackend:  viper.GetString(KeyStoreBackend),
		RedisAddr:     viper.GetString(KeyRedisAddr),
		RedisPassword: viper.GetString(KeyRedisPassword),
		RedisDB:       viper.GetInt(KeyRedisDB),

		WorkingTTL:   viper.GetDuration(KeyWorkingTTL),
		ShortTermTTL: viper.GetDuration(KeyShortTermTTL),
		LongTermTTL:  viper.GetDuration(KeyLongTermTTL),

		PromoteShortTermScore: viper.GetFloat64(KeyPromoteShortTermScore),
		PromoteLongTermScore:  viper.GetFloat64(KeyPromoteLongTermScore),

		DecaySchedule:   viper.GetString(KeyDecaySchedule),
		DecayRate:       viper.GetFloat64(KeyDecayRate),
		ConfidenceFloor: viper.GetFloat64(KeyConfidenceFloor),
		DecayBatchSize:  viper.GetInt(KeyDecayBatchSize),

		BreakerFailureThreshold: viper.GetInt(KeyBreakerFailureThreshold),
		BreakerSuccessThreshold: viper.GetInt(KeyBreakerSuccessThreshold),
		BreakerCooldown:         viper.GetDuration(KeyBreakerCooldown),
		RetryMaxAttempts:        viper.GetInt(KeyRetryMaxAttempts),
		RetryInitialDelay:       viper.GetDuration(KeyRetryInitialDelay),
		RetryMaxDelay:           viper.GetDuration(KeyRetryMaxDelay),
		DeadLetterCapacity:      viper.GetInt(KeyDeadLetterCapacity),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("store_backend must be %q or %q, got %q", StoreRedis, StoreMemory, c.StoreBackend)
	}
	if c.StoreBackend == StoreRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis backend; set THREATMEM_REDIS_ADDR")
	}
	if c.WorkingTTL <= 0 || c.ShortTermTTL <= 0 || c.LongTermTTL <= 0 {
		return fmt.Errorf("tier TTLs must be positive")
	}
	if c.WorkingTTL >= c.ShortTermTTL || c.ShortTermTTL >= c.LongTermTTL {
		return fmt.Errorf("tier TTLs must increase up the hierarchy (working < short_term < long_term)")
	}
	if c.PromoteShortTermScore < 0 || c.PromoteShortTermScore > 1 ||
		c.PromoteLongTermScore < 0 || c.PromoteLongTermScore > 1 {
		return fmt.Errorf("promotion thresholds must be within [0,1]")
	}
	if c.DecayRate < 0 || c.DecayRate >= 1 {
		return fmt.Errorf("decay_rate must be within [0,1)")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be within [0,1]")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry_max_attempts must be positive")
	}
	if c.RetryInitialDelay <= 0 || c.RetryMaxDelay < c.RetryInitialDelay {
		return fmt.Errorf("retry delays must satisfy 0 < retry_initial_delay <= retry_max_delay")
	}
	if c.DeadLetterCapacity <= 0 {
		return fmt.Errorf("dead_letter_capacity must be positive")
	}
	return nil
}
