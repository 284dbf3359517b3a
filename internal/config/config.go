package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージ種別
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Security
	SecretKey string
	APIToken  string

	// Server
	ServerPort string

	// Sync
	SyncInterval    time.Duration
	SyncLookback    time.Duration
	SyncLimit       int
	ProviderTimeout time.Duration
	ProviderRPS     float64
	RSSMaxSize      int64

	// Classification
	ClassifyInterval  time.Duration
	ClassifyBatchSize int
	ClassifyLookback  time.Duration
	AIClassification  bool
	KeywordsFile      string

	// OpenAI
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	OpenAITTSModel string
	OpenAITTSVoice string

	// ElevenLabs
	ElevenLabsAPIKey string
	ElevenLabsModel  string
	ElevenLabsVoice  string

	// Briefing
	BriefingSweepInterval time.Duration
	BriefingLead          time.Duration
	BriefingWindow        time.Duration
	BriefingTargetSeconds int
	BriefingMinRelevance  float64
	BriefingMaxItems      int
	BriefingStaleAfter    time.Duration
	DefaultLanguage       string

	// Storage
	StorageType string
	StorageDir  string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	S3PublicURL string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitTrigger int

	// Queue
	QueueWorkers      int
	QueueSize         int
	QueueMaxAttempts  int
	QueueDrainTimeout time.Duration

	// Logging
	LogLevel         string
	LogRetentionDays int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}

	cfg.APIToken = os.Getenv("API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", time.Minute)
	cfg.SyncLookback = getEnvDuration("SYNC_LOOKBACK", 24*time.Hour)
	cfg.SyncLimit = getEnvInt("SYNC_LIMIT", 100)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second)
	cfg.ProviderRPS = getEnvFloat("PROVIDER_RPS", 1)
	cfg.RSSMaxSize = getEnvInt64("RSS_MAX_SIZE", 5242880)

	cfg.ClassifyInterval = getEnvDuration("CLASSIFY_INTERVAL", 5*time.Minute)
	cfg.ClassifyBatchSize = getEnvInt("CLASSIFY_BATCH_SIZE", 100)
	cfg.ClassifyLookback = getEnvDuration("CLASSIFY_LOOKBACK", 24*time.Hour)
	cfg.AIClassification = getEnvBool("AI_CLASSIFICATION", true)
	cfg.KeywordsFile = getEnvString("KEYWORDS_FILE", "")

	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAITTSModel = getEnvString("OPENAI_TTS_MODEL", "tts-1")
	cfg.OpenAITTSVoice = getEnvString("OPENAI_TTS_VOICE", "alloy")

	cfg.ElevenLabsAPIKey = getEnvString("ELEVENLABS_API_KEY", "")
	cfg.ElevenLabsModel = getEnvString("ELEVENLABS_MODEL", "")
	cfg.ElevenLabsVoice = getEnvString("ELEVENLABS_VOICE", "")

	cfg.BriefingSweepInterval = getEnvDuration("BRIEFING_SWEEP_INTERVAL", 5*time.Minute)
	cfg.BriefingLead = getEnvDuration("BRIEFING_LEAD", 10*time.Minute)
	cfg.BriefingWindow = getEnvDuration("BRIEFING_WINDOW", time.Hour)
	cfg.BriefingTargetSeconds = getEnvInt("BRIEFING_TARGET_SECONDS", 120)
	cfg.BriefingMinRelevance = getEnvFloat("BRIEFING_MIN_RELEVANCE", 0.3)
	cfg.BriefingMaxItems = getEnvInt("BRIEFING_MAX_ITEMS", 10)
	cfg.BriefingStaleAfter = getEnvDuration("BRIEFING_STALE_AFTER", 30*time.Minute)
	cfg.DefaultLanguage = getEnvString("DEFAULT_LANGUAGE", "ru")

	cfg.StorageType = strings.ToLower(getEnvString("STORAGE_TYPE", StorageLocal))
	cfg.StorageDir = getEnvString("STORAGE_DIR", "./data/audio")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "")
	cfg.S3UseSSL = getEnvBool("S3_USE_SSL", true)
	cfg.S3PublicURL = getEnvString("S3_PUBLIC_URL", "")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitTrigger = getEnvInt("RATE_LIMIT_TRIGGER", 30)

	cfg.QueueWorkers = getEnvInt("QUEUE_WORKERS", 10)
	cfg.QueueSize = getEnvInt("QUEUE_SIZE", 256)
	cfg.QueueMaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", 5)
	cfg.QueueDrainTimeout = getEnvDuration("QUEUE_DRAIN_TIMEOUT", 20*time.Second)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 30)

	switch cfg.StorageType {
	case StorageLocal:
	case StorageS3:
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
			return nil, fmt.Errorf("STORAGE_TYPE=s3 requires S3_ENDPOINT and S3_BUCKET")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_TYPE: %q", cfg.StorageType)
	}

	return cfg, nil
}

// AIEnabled はAI分類と要約を使うかどうかを返す。
func (c *Config) AIEnabled() bool {
	return c.AIClassification && c.OpenAIAPIKey != ""
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
