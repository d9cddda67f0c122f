package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/rl1809/stock-count/internal/core/domain"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver string
	DBDSN    string

	RedisAddr string
	LockTTL   time.Duration

	AppEnv   string
	LogLevel string
	Locale   string

	PublisherWorkers int
	OutcomeQueueSize int

	Policy domain.Policy
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:         ":8080",
		GRPCAddr:         ":50051",
		DBDriver:         "mysql",
		DBDSN:            "root:root@tcp(localhost:3306)/stockcount?parseTime=true",
		RedisAddr:        "localhost:6379",
		LockTTL:          10 * time.Second,
		AppEnv:           "development",
		LogLevel:         "info",
		Locale:           "en",
		PublisherWorkers: 2,
		OutcomeQueueSize: 1000,
		Policy:           domain.DefaultPolicy(),
	}
}

// Load reads .env when present, then the environment. Unset variables keep
// their defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	str(&cfg.HTTPAddr, "HTTP_ADDR")
	str(&cfg.GRPCAddr, "GRPC_ADDR")
	str(&cfg.DBDriver, "DB_DRIVER")
	str(&cfg.DBDSN, "DB_DSN")
	str(&cfg.RedisAddr, "REDIS_ADDR")
	str(&cfg.AppEnv, "APP_ENV")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.Locale, "LOCALE")

	errs = append(errs,
		duration(&cfg.LockTTL, "LOCK_TTL"),
		integer(&cfg.PublisherWorkers, "PUBLISHER_WORKERS"),
		integer(&cfg.OutcomeQueueSize, "OUTCOME_QUEUE_SIZE"),

		float(&cfg.Policy.VarianceWarningThreshold, "VARIANCE_WARNING_THRESHOLD"),
		float(&cfg.Policy.VarianceCriticalThreshold, "VARIANCE_CRITICAL_THRESHOLD"),
		float(&cfg.Policy.VarianceEpsilon, "VARIANCE_EPSILON"),
		float(&cfg.Policy.EmptyContainerEpsilon, "EMPTY_CONTAINER_EPSILON_G"),
		integer(&cfg.Policy.VerificationWindowDays, "VERIFICATION_WINDOW_DAYS"),
		integer(&cfg.Policy.VerificationGraceDays, "VERIFICATION_GRACE_DAYS"),
		float(&cfg.Policy.BeerDensity, "BEER_DENSITY_KG_PER_L"),
		boolean(&cfg.Policy.AutoCommitLowSeverity, "AUTO_COMMIT_LOW_SEVERITY"),
	)

	switch cfg.DBDriver {
	case "mysql", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", cfg.DBDriver))
	}
	if cfg.PublisherWorkers < 1 {
		errs = append(errs, errors.New("PUBLISHER_WORKERS: must be at least 1"))
	}
	errs = append(errs, cfg.Policy.Validate())

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func duration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func integer(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func float(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func boolean(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
