package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinioConfig holds object-storage settings used when STORAGE_BACKEND=minio.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Config struct {
	Port        string
	DatabaseURL string

	WhisperURL     string
	WhisperTimeout time.Duration

	OpenAIKey         string
	ExtractionModel   string
	ExtractionTimeout time.Duration

	// Workers bounds concurrent pipeline jobs. Both AI engines are
	// single-instance and memory-heavy; more workers just thrash them.
	Workers   int
	QueueSize int

	// RetryAttempts caps automatic resubmission of retryable failures when a
	// caller opts into it.
	RetryAttempts int

	StorageBackend string // disk | minio
	UploadDir      string
	Minio          MinioConfig

	MaxUploadBytes  int64
	DefaultLanguage string
	AllowedFormats  []string
}

const (
	defaultPort              = "8080"
	defaultWhisperURL        = "http://localhost:8081"
	defaultWhisperTimeout    = 3 * time.Minute
	defaultExtractionModel   = "gpt-4o-mini"
	defaultExtractionTimeout = 2 * time.Minute
	defaultWorkers           = 2
	defaultQueueSize         = 16
	defaultRetryAttempts     = 3
	defaultUploadDir         = "uploads"
	defaultMaxUploadBytes    = 25 << 20 // 25 MiB
	defaultLanguage          = "ja"
	defaultAllowedFormats    = ".m4a,.mp3,.wav,.aac,.ogg,.caf,.aiff,.aif,.flac,.webm"
)

// Load reads configuration from environment variables with typed fallbacks.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", defaultPort),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		WhisperURL:     getEnv("WHISPER_URL", defaultWhisperURL),
		WhisperTimeout: parseDuration("WHISPER_TIMEOUT", defaultWhisperTimeout),

		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		ExtractionModel:   getEnv("EXTRACTION_MODEL", defaultExtractionModel),
		ExtractionTimeout: parseDuration("EXTRACTION_TIMEOUT", defaultExtractionTimeout),

		Workers:       parseInt("PIPELINE_WORKERS", defaultWorkers),
		QueueSize:     parseInt("PIPELINE_QUEUE_SIZE", defaultQueueSize),
		RetryAttempts: parseInt("PIPELINE_RETRY_ATTEMPTS", defaultRetryAttempts),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "disk")),
		UploadDir:      getEnv("UPLOAD_DIR", defaultUploadDir),
		Minio: MinioConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getEnv("MINIO_BUCKET", "verbumcare-audio"),
			UseSSL:    parseBool("MINIO_SSL", false),
		},

		MaxUploadBytes:  parseInt64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", defaultLanguage),
		AllowedFormats:  parseList("ALLOWED_AUDIO_FORMATS", defaultAllowedFormats),
	}

	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the extraction engine")
	}
	if cfg.StorageBackend == "minio" && cfg.Minio.Endpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND=minio")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseList(key, def string) []string {
	val := getEnv(key, def)
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.ToLower(strings.TrimSpace(out[i]))
	}
	return out
}
