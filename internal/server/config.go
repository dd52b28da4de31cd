package server

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port      string
	GRPCPort  string
	NatsURL   string
	RedisAddr string

	Timezone string

	WeeklySpec string
	ResumeSpec string
	SweepSpec  string
	HealthSpec string

	ReanalysisInterval time.Duration
	BatchPacing        time.Duration
	PromoteInterval    time.Duration
	ReapInterval       time.Duration

	MaxRetries int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Port:      getEnv("ORCH_PORT", "8080"),
		GRPCPort:  getEnv("ORCH_GRPC_PORT", "9090"),
		NatsURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddr: getEnv("REDIS_ADDR", ""),

		Timezone: getEnv("ORCH_TZ", "UTC"),

		WeeklySpec: getEnv("ORCH_WEEKLY_SPEC", "0 6 * * 1"),
		ResumeSpec: getEnv("ORCH_RESUME_SPEC", "30 6 * * 1"),
		SweepSpec:  getEnv("ORCH_SWEEP_SPEC", "0 3 * * *"),
		HealthSpec: getEnv("ORCH_HEALTH_SPEC", "0 */2 * * *"),

		ReanalysisInterval: getEnvDuration("ORCH_REANALYSIS_INTERVAL", 7*24*time.Hour),
		BatchPacing:        getEnvDuration("ORCH_BATCH_PACING", 2*time.Second),
		PromoteInterval:    getEnvDuration("ORCH_PROMOTE_INTERVAL", 15*time.Second),
		ReapInterval:       getEnvDuration("ORCH_REAP_INTERVAL", time.Minute),

		MaxRetries: getEnvInt("ORCH_MAX_RETRIES", 3),

		ReadTimeout:     getEnvDuration("ORCH_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("ORCH_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("ORCH_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("ORCH_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
