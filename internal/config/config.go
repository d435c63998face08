package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIBaseURL     string
	HTTPAddr       string
	PostgresDSN    string
	RedisAddr      string
	KafkaBrokers   []string
	ServiceName    string
	SessionProfile string
	ExportDir      string
	RequestTimeout time.Duration
	AuditGroup     string
	AuditWorkers   int
}

// Load reads the environment. Empty REDIS_ADDR, KAFKA_BROKERS or
// POSTGRES_DSN switch the matching backend off.
func Load() Config {
	return Config{
		APIBaseURL:     strings.TrimRight(getenv("API_BASE_URL", "http://localhost:8000"), "/"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8081"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		ServiceName:    getenv("SERVICE_NAME", "order-console"),
		SessionProfile: getenv("SESSION_PROFILE", "default"),
		ExportDir:      getenv("EXPORT_DIR", "."),
		RequestTimeout: getduration("REQUEST_TIMEOUT", 15*time.Second),
		AuditGroup:     getenv("AUDIT_GROUP", "console-auditlog"),
		AuditWorkers:   getint("AUDIT_WORKERS", 4),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil && d > 0 {
		return d
	}
	return def
}

func getint(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil && n > 0 {
		return n
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
