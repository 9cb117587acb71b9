package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 永続化ドライバ
const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Auth API
	APIBaseURL      string
	RequestTimeout  time.Duration
	StrictTransport bool

	// Session store
	StoreDriver      string
	SessionStorePath string
	SessionStoreKey  string
	DeviceID         string

	// Database (StoreDriver=postgres)
	DatabaseURL string

	// Redis (StoreDriver=redis)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// OTP
	OTPResendCooldown time.Duration
	OTPMaxAttempts    int

	// Bridge server
	ServerPort        string
	CORSAllowedOrigin string
	RateLimitGeneral  int
	RateLimitOTP      int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", StoreDriverFile))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.StoreDriver {
	case StoreDriverFile, StoreDriverPostgres, StoreDriverRedis:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	// Optional fields with defaults
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
	cfg.StrictTransport = parseStrictTransport(getEnvString("STRICT_TRANSPORT", "auto"), cfg.APIBaseURL)
	cfg.SessionStorePath = getEnvString("SESSION_STORE_PATH", defaultSessionStorePath())
	cfg.SessionStoreKey = os.Getenv("SESSION_STORE_KEY")
	cfg.DeviceID = getEnvString("DEVICE_ID", defaultDeviceID())
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RedisKeyPrefix = getEnvString("REDIS_KEY_PREFIX", "tenantdesk:session:")
	cfg.OTPResendCooldown = getEnvDuration("OTP_RESEND_COOLDOWN", 30*time.Second)
	cfg.OTPMaxAttempts = getEnvInt("OTP_MAX_ATTEMPTS", 5)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:8081")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitOTP = getEnvInt("RATE_LIMIT_OTP", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// parseStrictTransport はSTRICT_TRANSPORTを解釈する。
// autoの場合はAPIのベースURLがhttpsのときだけ有効にする。
func parseStrictTransport(v, baseURL string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return strings.HasPrefix(baseURL, "https://")
	}
}

func defaultSessionStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tenantdesk", "session.json")
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
