package config

import (
	"log/slog"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	GinMode     string
	LogLevel    string
	TemplateDir string
	MaxUploadMB int

	// model artifacts
	ModelPath    string
	WordVecPath  string
	EmbeddingDim int

	// ocr
	OCREngine         string
	OCRTimeout        time.Duration
	OCRMaxConcurrency int
	OCRCacheTTL       time.Duration
	TesseractCmd      string
	TesseractLang     string
	YCOAuthToken      string
	YCFolderID        string
	GeminiAPIKey      string
	GeminiModel       string

	// optional storage
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FeedEnabled      bool
	FeedMaxItems     int
	FeedMaxBytes     int64
	FeedAllowPrivate bool

	HistoryRetention time.Duration

	// bot
	TelegramBotToken string
	WebhookURL       string
}

func mustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		slog.Error("missing required env", "key", k)
		os.Exit(1)
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("bad int env, using default", "key", k, "value", v, "default", def)
		return def
	}
	return n
}

func getBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("bad bool env, using default", "key", k, "value", v, "default", def)
		return def
	}
	return b
}

// getDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("bad duration env, using default", "key", k, "value", v, "default", def)
		return def
	}
	return d
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8000"),
		GinMode:     getEnv("GIN_MODE", "release"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		TemplateDir: getEnv("TEMPLATE_DIR", ""),
		MaxUploadMB: getInt("MAX_UPLOAD_MB", 10),

		ModelPath:    getEnv("MODEL_PATH", "xgboost_fake_news_model.json"),
		WordVecPath:  getEnv("WORDVEC_PATH", "wordvector.txt"),
		EmbeddingDim: getInt("EMBEDDING_DIM", 256),

		OCREngine:         strings.ToLower(getEnv("OCR_ENGINE", "tesseract")),
		OCRTimeout:        getDuration("OCR_TIMEOUT", 60*time.Second),
		OCRMaxConcurrency: getInt("OCR_MAX_CONCURRENCY", runtime.NumCPU()),
		OCRCacheTTL:       getDuration("OCR_CACHE_TTL", 24*time.Hour),
		TesseractCmd:      getEnv("TESSERACT_CMD", "tesseract"),
		TesseractLang:     getEnv("TESSERACT_LANG", "eng"),
		YCOAuthToken:      getEnv("YC_OAUTH_TOKEN", ""),
		YCFolderID:        getEnv("YC_FOLDER_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		DatabaseURL:   ResolveDSN(),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		FeedEnabled:      getBool("FEED_ENABLED", true),
		FeedMaxItems:     getInt("FEED_MAX_ITEMS", 20),
		FeedMaxBytes:     int64(getInt("FEED_MAX_BYTES", 5<<20)),
		FeedAllowPrivate: getBool("FEED_ALLOW_PRIVATE", false),

		HistoryRetention: getDuration("HISTORY_RETENTION", 0),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

// LoadBot is Load plus the settings only the Telegram front end needs.
func LoadBot() *Config {
	cfg := Load()
	cfg.TelegramBotToken = mustEnv("TELEGRAM_BOT_TOKEN")
	return cfg
}

// MaxUploadBytes is the request body cap for image uploads.
func (c *Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(c.MaxUploadMB) << 20
}

// ResolveDSN prefers DATABASE_URL and otherwise builds a DSN from the
// POSTGRES_* / PG* variables. It returns "" when none of them is set, which
// leaves history storage disabled.
func ResolveDSN() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	set := false
	for _, k := range []string{"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "PGHOST"} {
		if strings.TrimSpace(os.Getenv(k)) != "" {
			set = true
			break
		}
	}
	if !set {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "newscheck"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(getEnv("PGHOST", "db"), getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "newscheck"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
