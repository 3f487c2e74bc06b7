package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// #region server
// Server holds settings for the prediction service process.
type Server struct {
	HTTPAddr        string
	GRPCAddr        string // empty disables the gRPC health service
	Artifact        string // file path or sqlite://registry.db
	AuditDSN        string // empty disables the audit log
	LogLevel        string
	LogFormat       string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// LoadServer reads server settings from DELAYRISK_* env vars.
func LoadServer() Server {
	return Server{
		HTTPAddr:        envOr("DELAYRISK_HTTP_ADDR", ":8000"),
		GRPCAddr:        os.Getenv("DELAYRISK_GRPC_ADDR"),
		Artifact:        envOr("DELAYRISK_ARTIFACT", "delay_risk.model"),
		AuditDSN:        os.Getenv("DELAYRISK_AUDIT_DSN"),
		LogLevel:        envOr("DELAYRISK_LOG_LEVEL", "info"),
		LogFormat:       envOr("DELAYRISK_LOG_FORMAT", "json"),
		MaxBodyBytes:    envInt64("DELAYRISK_MAX_BODY_BYTES", 64<<10),
		ShutdownTimeout: envDuration("DELAYRISK_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// #endregion server

// #region client
// Client holds settings for the resilient prediction client.
type Client struct {
	URL            string
	GRPCHealthAddr string // probe readiness over gRPC instead of HTTP when set
	HealthTimeout  time.Duration
	PollInterval   time.Duration
	WakeBudget     time.Duration
	PredictTimeout time.Duration
	LogLevel       string
}

// LoadClient reads client settings from DELAYRISK_* env vars.
func LoadClient() Client {
	return Client{
		URL:            strings.TrimRight(envOr("DELAYRISK_URL", "http://127.0.0.1:8000"), "/"),
		GRPCHealthAddr: os.Getenv("DELAYRISK_GRPC_HEALTH_ADDR"),
		HealthTimeout:  envDuration("DELAYRISK_HEALTH_TIMEOUT", 3*time.Second),
		PollInterval:   envDuration("DELAYRISK_POLL_INTERVAL", 5*time.Second),
		WakeBudget:     envDuration("DELAYRISK_WAKE_BUDGET", 40*time.Second),
		PredictTimeout: envDuration("DELAYRISK_PREDICT_TIMEOUT", 60*time.Second),
		LogLevel:       envOr("DELAYRISK_LOG_LEVEL", "warn"),
	}
}

// #endregion client

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// envDuration accepts Go duration strings ("90s", "2m") or whole seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return fallback
}

// #endregion helpers
