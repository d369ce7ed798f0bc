package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the roleplay agent service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	EngineProvider    string
	OpenAIAPIKey      string
	OpenAIRealtimeURL string
	JudgeModel        string
	JudgeMaxTokens    int

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	RecordingEnabled    bool
	RecordingPathPrefix string
	AWSBucketName       string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string

	NoiseCancellationEnabled bool
	AutoEndGrace             time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "rolecall"),
		LogLevel:         strings.ToUpper(envOrDefault("LOG_LEVEL", "INFO")),
		AllowAnyOrigin:   false,
		EngineProvider:   envOrDefault("ENGINE_PROVIDER", "auto"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		// The realtime model handles speech-to-speech directly; the query
		// string pins the model serving this agent.
		OpenAIRealtimeURL:        envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"),
		JudgeModel:               envOrDefault("JUDGE_MODEL", "gpt-4o"),
		JudgeMaxTokens:           2000,
		LiveKitURL:               stringsTrimSpace("LIVEKIT_URL"),
		LiveKitAPIKey:            stringsTrimSpace("LIVEKIT_API_KEY"),
		LiveKitAPISecret:         stringsTrimSpace("LIVEKIT_API_SECRET"),
		RecordingEnabled:         true,
		RecordingPathPrefix:      envOrDefault("RECORDING_PATH_PREFIX", "roleplays/recordings"),
		AWSBucketName:            stringsTrimSpace("AWS_BUCKET_NAME"),
		AWSRegion:                envOrDefault("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:           stringsTrimSpace("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:       stringsTrimSpace("AWS_SECRET_ACCESS_KEY"),
		NoiseCancellationEnabled: true,
		AutoEndGrace:             1500 * time.Millisecond,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoEndGrace, err = durationFromEnv("AUTO_END_GRACE", cfg.AutoEndGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordingEnabled, err = boolFromEnv("RECORDING_ENABLED", cfg.RecordingEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.NoiseCancellationEnabled, err = boolFromEnv("NOISE_CANCELLATION_ENABLED", cfg.NoiseCancellationEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.JudgeMaxTokens, err = intFromEnv("JUDGE_MAX_TOKENS", cfg.JudgeMaxTokens)
	if err != nil {
		return Config{}, err
	}

	if cfg.AutoEndGrace < 0 {
		return Config{}, fmt.Errorf("AUTO_END_GRACE must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.JudgeMaxTokens <= 0 {
		return Config{}, fmt.Errorf("JUDGE_MAX_TOKENS must be positive")
	}
	cfg.EngineProvider = strings.ToLower(strings.TrimSpace(cfg.EngineProvider))
	switch cfg.EngineProvider {
	case "auto", "realtime", "mock":
	default:
		return Config{}, fmt.Errorf("invalid ENGINE_PROVIDER: %q (expected auto|realtime|mock)", cfg.EngineProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
