package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the reference deployment.
const (
	defaultPort           = "8080"
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultMurfVoiceID    = "en-US-ken"
	defaultLanguage       = "en-US"
	defaultSampleRate     = 16000
	defaultEncoding       = "WEBM_OPUS"
	defaultSilenceWindow  = 2 * time.Second
	defaultServiceTimeout = 30 * time.Second
	defaultSessionTTL     = 30 * time.Minute
)

// Config holds the process configuration, loaded from the environment
// (optionally seeded from a .env file).
type Config struct {
	Port string

	GeminiAPIKey string
	GeminiModel  string

	MurfAPIKey  string
	MurfVoiceID string

	// GoogleCredentials is the path Google client libraries read
	// credentials from; recorded here only for health reporting.
	GoogleCredentials string

	Language   string
	SampleRate int
	Encoding   string

	SilenceWindow  time.Duration
	ServiceTimeout time.Duration
	SessionTTL     time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", defaultPort),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", defaultGeminiModel),
		MurfAPIKey:        os.Getenv("MURF_API_KEY"),
		MurfVoiceID:       getEnv("MURF_VOICE_ID", defaultMurfVoiceID),
		GoogleCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Language:          getEnv("STT_LANGUAGE", defaultLanguage),
		SampleRate:        getEnvInt("STT_SAMPLE_RATE", defaultSampleRate),
		Encoding:          getEnv("STT_ENCODING", defaultEncoding),
		SilenceWindow:     getEnvMillis("SILENCE_WINDOW_MS", defaultSilenceWindow),
		ServiceTimeout:    getEnvSeconds("SERVICE_TIMEOUT_SEC", defaultServiceTimeout),
		SessionTTL:        getEnvMinutes("SESSION_TTL_MIN", defaultSessionTTL),
	}
}

// Validate reports which mandatory credentials are missing. The server
// still starts without them; affected stages degrade to fallbacks.
func (c *Config) Validate() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.MurfAPIKey == "" {
		missing = append(missing, "MURF_API_KEY")
	}
	if c.GoogleCredentials == "" {
		missing = append(missing, "GOOGLE_APPLICATION_CREDENTIALS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// APIStatus reports per-dependency configuration state for the health
// endpoint.
func (c *Config) APIStatus() map[string]string {
	status := func(ok bool) string {
		if ok {
			return "configured"
		}
		return "missing"
	}
	return map[string]string{
		"gemini":        status(c.GeminiAPIKey != ""),
		"murf":          status(c.MurfAPIKey != ""),
		"google_speech": status(c.GoogleCredentials != ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvMinutes(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return fallback
}
