package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Formula   FormulaConfig
	App       AppConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// DSN is used by the pgx pool that loads project rosters.
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type SchedulerConfig struct {
	TickSchedule string
	HealthPort   string
}

// FormulaConfig holds project-wide defaults used when a project row carries
// no formula parameters of its own.
type FormulaConfig struct {
	IndexationRate          float64
	CarryingCostRecoveryPct float64
	AverageInterestRate     float64
	ReservesSharePct        float64
	MaxPortageLots          int
	CacheTTL                time.Duration
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "coophabitat"),
			DSN:      getEnv("DB_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("LOCK_TTL", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			TickSchedule: getEnv("TICK_SCHEDULE", "0 0 * * * *"),
			HealthPort:   getEnv("HEALTH_PORT", "8081"),
		},
		Formula: FormulaConfig{
			IndexationRate:          getEnvAsFloat("FORMULA_INDEXATION_RATE", 2),
			CarryingCostRecoveryPct: getEnvAsFloat("FORMULA_CARRYING_RECOVERY_PCT", 10),
			AverageInterestRate:     getEnvAsFloat("FORMULA_AVERAGE_INTEREST_RATE", 4.5),
			ReservesSharePct:        getEnvAsFloat("FORMULA_RESERVES_SHARE_PCT", 30),
			MaxPortageLots:          getEnvAsInt("MAX_PORTAGE_LOTS", 3),
			CacheTTL:                getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Host == "" && c.Database.DSN == "" {
		return fmt.Errorf("DB_HOST or DB_DSN is required")
	}

	f := c.Formula
	if f.IndexationRate < 0 || f.CarryingCostRecoveryPct < 0 || f.AverageInterestRate < 0 {
		return fmt.Errorf("formula rates must not be negative")
	}
	if f.ReservesSharePct < 0 || f.ReservesSharePct > 100 {
		return fmt.Errorf("FORMULA_RESERVES_SHARE_PCT must be between 0 and 100")
	}
	if f.MaxPortageLots < 0 {
		return fmt.Errorf("MAX_PORTAGE_LOTS must not be negative")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid number for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}
