// Package config provides centralized configuration for the retromag server.
// Values come from environment variables (optionally seeded from .env.local),
// an optional YAML file named by CONFIG_FILE, and built-in defaults, in that
// order of precedence.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string

	// LogMode selects the logger flavour: "dev" or "prod".
	LogMode string

	// Storage selects the durable storage backend: "sqlite" or "redis".
	Storage string

	// DBPath is the path to the SQLite database file.
	DBPath string

	// RedisAddr is the host:port of the Redis server.
	RedisAddr string

	// LLMProvider selects the generative backend: "gemini", "openai" or "stub".
	LLMProvider string

	// GeminiKey is the API key for Gemini and Imagen.
	GeminiKey string

	// GeminiModel is the fast text/plan model.
	GeminiModel string

	// GeminiDeepModel is used when deep planning is requested.
	GeminiDeepModel string

	// ImagenModel is the image model served by the Gemini API.
	ImagenModel string

	// OpenAIKey is the API key for the OpenAI service.
	OpenAIKey string

	// OpenAIBaseURL is the base URL of an OpenAI-compatible API.
	OpenAIBaseURL string

	// OpenAIModel is the chat model for plans and text.
	OpenAIModel string

	// OpenAIImageModel is the image generation model.
	OpenAIImageModel string

	// PacingDelay is the pause inserted between consecutive generation calls.
	PacingDelay time.Duration

	// RetryAttempts is the number of attempts made on rate-limited calls.
	RetryAttempts int

	// RetryBaseDelay is the first backoff; it doubles on each retry.
	RetryBaseDelay time.Duration

	// HTTPTimeout is the timeout for outgoing HTTP requests.
	HTTPTimeout time.Duration

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string
}

// fileConfig is the YAML overlay. Empty values leave the default in place.
type fileConfig struct {
	Storage string `yaml:"storage"`
	Models  struct {
		Gemini     string `yaml:"gemini"`
		GeminiDeep string `yaml:"gemini_deep"`
		Imagen     string `yaml:"imagen"`
		OpenAI     string `yaml:"openai"`
		OpenAIImg  string `yaml:"openai_image"`
	} `yaml:"models"`
	Pacing struct {
		Delay string `yaml:"delay"`
	} `yaml:"pacing"`
	Retry struct {
		Attempts  int    `yaml:"attempts"`
		BaseDelay string `yaml:"base_delay"`
	} `yaml:"retry"`
}

// Load reads configuration, applying defaults. It fails only when
// CONFIG_FILE names a file that cannot be read or parsed.
func Load() (Config, error) {
	loadEnvFile(".env.local")

	var f fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return Config{
		Port:             envOr("PORT", "8080"),
		LogMode:          envOr("LOG_MODE", "dev"),
		Storage:          envOr("STORAGE", pick(f.Storage, "sqlite")),
		DBPath:           envOr("DB_PATH", "retromag.db"),
		RedisAddr:        envOr("REDIS_ADDR", "localhost:6379"),
		LLMProvider:      envOr("LLM_PROVIDER", "gemini"),
		GeminiKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      envOr("GEMINI_MODEL", pick(f.Models.Gemini, "gemini-2.5-flash")),
		GeminiDeepModel:  envOr("GEMINI_DEEP_MODEL", pick(f.Models.GeminiDeep, "gemini-2.5-pro")),
		ImagenModel:      envOr("IMAGEN_MODEL", pick(f.Models.Imagen, "imagen-4.0-generate-001")),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      envOr("OPENAI_MODEL", pick(f.Models.OpenAI, "gpt-4o-mini")),
		OpenAIImageModel: envOr("OPENAI_IMAGE_MODEL", pick(f.Models.OpenAIImg, "gpt-image-1")),
		PacingDelay:      envDuration("PACING_DELAY", parseDuration(f.Pacing.Delay, 5*time.Second)),
		RetryAttempts:    envInt("RETRY_ATTEMPTS", pickInt(f.Retry.Attempts, 3)),
		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", parseDuration(f.Retry.BaseDelay, 2*time.Second)),
		HTTPTimeout:      envDuration("HTTP_TIMEOUT", 120*time.Second),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
	}, nil
}

// UseStubs returns true when the selected provider has no API key, or the
// stub provider is requested explicitly.
func (c Config) UseStubs() bool {
	switch c.LLMProvider {
	case "stub":
		return true
	case "openai":
		return c.OpenAIKey == ""
	default:
		return c.GeminiKey == ""
	}
}

// loadEnvFile sets variables from a KEY=VALUE file. Variables already in
// the environment win. A missing file is ignored.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, val)
	}
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	return parseDuration(os.Getenv(key), fallback)
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
