package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64
	FrontendURL string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Email     EmailConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig

	WeeklySummaryCron   string
	WeeklyEmailsEnabled bool
	GamificationFile    string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Configured reports whether a mail transport can be built from the settings.
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != "" && c.SMTPUsername != "" && c.SMTPPassword != ""
}

type QueueConfig struct {
	MaxAttempts    int
	LeaseTimeout   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// RateLimitConfig bounds how fast one user may log activities. A zero rate
// disables the limit; it also needs RedisAddr.
type RateLimitConfig struct {
	ActivityRate  float64
	ActivityBurst int
}

type WorkerConfig struct {
	PollInterval        time.Duration
	ReclaimInterval     time.Duration
	ActivityWorkers     int
	SummaryWorkers      int
	EmailWorkers        int
	JobTimeout          time.Duration
	ShutdownGracePeriod time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	smtpUser := strings.TrimSpace(getenv("SMTP_USER", ""))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "ecopoints"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		FrontendURL:  strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "ecopoints"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "ecopoints.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: smtpUser,
			SMTPPassword: getenv("SMTP_PASS", ""),
			SMTPFrom:     getenv("FROM_EMAIL", smtpUser),
		},
		Queue: QueueConfig{
			MaxAttempts:    getenvInt("QUEUE_MAX_ATTEMPTS", 5),
			LeaseTimeout:   getenvDuration("QUEUE_LEASE_TIMEOUT", 5*time.Minute),
			BackoffInitial: getenvDuration("QUEUE_BACKOFF_INITIAL", 10*time.Second),
			BackoffMax:     getenvDuration("QUEUE_BACKOFF_MAX", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			ActivityRate:  getenvFloat("RATE_LIMIT_ACTIVITY_PER_SECOND", 0),
			ActivityBurst: getenvInt("RATE_LIMIT_ACTIVITY_BURST", 20),
		},
		Worker: WorkerConfig{
			PollInterval:        getenvDuration("WORKER_POLL_INTERVAL", time.Second),
			ReclaimInterval:     getenvDuration("WORKER_RECLAIM_INTERVAL", 30*time.Second),
			ActivityWorkers:     getenvInt("WORKER_ACTIVITY_CONCURRENCY", 1),
			SummaryWorkers:      getenvInt("WORKER_SUMMARY_CONCURRENCY", 2),
			EmailWorkers:        getenvInt("WORKER_EMAIL_CONCURRENCY", 2),
			JobTimeout:          getenvDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),
			ShutdownGracePeriod: getenvDuration("WORKER_SHUTDOWN_GRACE", 30*time.Second),
		},

		WeeklySummaryCron:   getenv("WEEKLY_SUMMARY_CRON", "0 23 * * 0"),
		WeeklyEmailsEnabled: getenvBool("ENABLE_WEEKLY_EMAILS", false),
		GamificationFile:    strings.TrimSpace(getenv("GAMIFICATION_CONFIG", "")),
	}
	cfg.Worker.JobTimeout = boundJobTimeout(cfg.Worker.JobTimeout, cfg.Queue.LeaseTimeout)
	return cfg
}

// boundJobTimeout keeps a handler's deadline inside its lease. A job still
// running when the lease lapses would be reclaimed and leased twice.
func boundJobTimeout(job, lease time.Duration) time.Duration {
	if job < lease {
		return job
	}
	return lease - lease/5
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
