// Package config handles voicetask configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const appName = "voicetask"

// Storage backends.
const (
	StorageFile  = "file"
	StorageMongo = "mongo"
)

type Config struct {
	HTTPAddr string

	OpenAIBaseURL      string
	TranscribeModel    string
	TranscribePrompt   string
	ExtractModel       string
	ExtractTemperature float64

	MaxRecording  time.Duration
	FlushInterval time.Duration
	AudioBitrate  int
	SampleRate    int
	ChannelCount  int
	StallTimeout  time.Duration
	// ExcludedDevices are substrings of input device names never recorded from.
	ExcludedDevices []string

	StorageBackend  string
	StateFile       string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	ArchiveBucket          string
	ArchiveRegion          string
	ArchiveEndpoint        string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string

	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// Load reads an optional .env file, then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", "127.0.0.1:8000"),

		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		TranscribeModel:    getEnv("TRANSCRIBE_MODEL", "whisper-1"),
		TranscribePrompt:   getEnv("TRANSCRIBE_PROMPT", "This recording may contain tasks, to-do items, and reminders in various languages."),
		ExtractModel:       getEnv("EXTRACT_MODEL", "gpt-4o"),
		ExtractTemperature: getEnvFloat("EXTRACT_TEMPERATURE", 0.3),

		MaxRecording:  getEnvDuration("MAX_RECORDING_DURATION", 5*time.Minute),
		FlushInterval: getEnvDuration("FLUSH_INTERVAL", time.Second),
		AudioBitrate:  getEnvInt("AUDIO_BITRATE", 128000),
		SampleRate:    getEnvInt("SAMPLE_RATE", 48000),
		ChannelCount:  getEnvInt("CHANNEL_COUNT", 1),
		StallTimeout:  getEnvDuration("STALL_TIMEOUT", 30*time.Second),

		ExcludedDevices: getEnvList("AUDIO_EXCLUDED_DEVICES", []string{"iphone", "airpods", "teams", "zoom"}),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
		StateFile:       getEnv("STATE_FILE", defaultStateFile()),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DATABASE", appName),
		MongoCollection: getEnv("MONGO_COLLECTION", "state"),

		InfluxURL:    getEnv("INFLUXDB_URL", ""),
		InfluxToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUXDB_ORG", ""),
		InfluxBucket: getEnv("INFLUXDB_BUCKET", appName),

		ArchiveBucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveRegion:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveEndpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchiveAccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		ArchiveSecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),

		BreakerThreshold:    getEnvInt("BREAKER_THRESHOLD", 3),
		BreakerResetTimeout: getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
	}
}

// TelemetryEnabled reports whether run reports should be written to InfluxDB.
func (c *Config) TelemetryEnabled() bool {
	return c.InfluxURL != "" && c.InfluxToken != ""
}

// ArchiveEnabled reports whether recordings should be uploaded to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

func defaultStateFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName, "state.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appName, "state.json")
	}
	return appName + "-state.json"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("90s") or bare milliseconds ("1000").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
