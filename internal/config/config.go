package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/tripledger/internal/model"
	"github.com/hitoshi/tripledger/internal/store"
)

// ストアのバックエンド
const (
	BackendNone     = ""
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	DatabaseURL  string
	StoreBackend string
	AppID        string

	// Identity
	InitialAuthToken     string
	AuthTokenTTL         time.Duration
	TokenCleanupInterval time.Duration

	// Listener
	ListenerMinReconnect time.Duration
	ListenerMaxReconnect time.Duration

	// Ledger
	DefaultCurrency model.Currency

	// Rate Limit
	RateLimitAppend int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須の環境変数はない。DATABASE_URLとSTORE_BACKENDがともに未設定の場合、
// ストアは未構成となり同期エンジンはIdleのまま動作する。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	backend, err := resolveBackend(os.Getenv("STORE_BACKEND"), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	cfg.StoreBackend = backend

	currency, err := model.ParseCurrency(getEnvString("DEFAULT_CURRENCY", string(model.CurrencyJPY)))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_CURRENCY: %w", err)
	}
	cfg.DefaultCurrency = currency

	// Optional fields with defaults
	cfg.AppID = store.SanitizeAppID(os.Getenv("APP_ID"))
	cfg.InitialAuthToken = os.Getenv("INITIAL_AUTH_TOKEN")
	cfg.AuthTokenTTL = getEnvDuration("AUTH_TOKEN_TTL", 720*time.Hour)
	cfg.TokenCleanupInterval = getEnvDuration("TOKEN_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ListenerMinReconnect = getEnvDuration("LISTENER_MIN_RECONNECT", 10*time.Second)
	cfg.ListenerMaxReconnect = getEnvDuration("LISTENER_MAX_RECONNECT", time.Minute)
	cfg.RateLimitAppend = getEnvInt("RATE_LIMIT_APPEND", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// resolveBackend はSTORE_BACKENDを検証する。未指定の場合はDATABASE_URLの有無で決める。
func resolveBackend(raw, databaseURL string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		if databaseURL != "" {
			return BackendPostgres, nil
		}
		return BackendNone, nil
	case BackendPostgres:
		if databaseURL == "" {
			return "", fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		return BackendPostgres, nil
	case BackendMemory:
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unknown STORE_BACKEND: %q", raw)
	}
}

// StoreConfigured はストアのバックエンドが構成されているかどうかを返す。
func (c *Config) StoreConfigured() bool {
	return c.StoreBackend != BackendNone
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
