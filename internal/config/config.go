// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the complete service configuration.
type Configuration struct {
	Service       ServiceConfig
	Recognition   RecognitionConfig
	Session       SessionConfig
	Analysis      AnalysisConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process identity and listener settings.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	MetricsPort string
}

// RecognitionConfig selects and configures the recognition source.
type RecognitionConfig struct {
	Provider        string // browser, google, mock
	Language        string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
	SampleRateHz    int
	AudioEncoding   string
	CredentialsFile string
	ScriptPath      string
}

// SessionConfig holds controller settings.
type SessionConfig struct {
	TickInterval      time.Duration
	RequestAIFeedback bool
}

// AnalysisConfig points at the analysis service.
type AnalysisConfig struct {
	BaseURL string
	Timeout time.Duration
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicSession    string
	Principal       string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	LogOutput string // stdout or stderr
}

// Load reads configuration from environment variables, falling back to
// defaults for unset or invalid values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-coach")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "3000"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Recognition: RecognitionConfig{
			Provider:        envOrDefault("RECOGNITION_PROVIDER", "browser"),
			Language:        envOrDefault("RECOGNITION_LANGUAGE", "ko-KR"),
			Continuous:      envOrDefaultBool("RECOGNITION_CONTINUOUS", true),
			InterimResults:  envOrDefaultBool("RECOGNITION_INTERIM_RESULTS", true),
			MaxAlternatives: envOrDefaultInt("RECOGNITION_MAX_ALTERNATIVES", 1),
			SampleRateHz:    envOrDefaultInt("RECOGNITION_SAMPLE_RATE_HZ", 16000),
			AudioEncoding:   envOrDefault("RECOGNITION_AUDIO_ENCODING", "LINEAR16"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			ScriptPath:      os.Getenv("RECOGNITION_SCRIPT"),
		},
		Session: SessionConfig{
			TickInterval:      envOrDefaultDuration("SESSION_TICK_INTERVAL", time.Second),
			RequestAIFeedback: envOrDefaultBool("SESSION_REQUEST_AI_FEEDBACK", true),
		},
		Analysis: AnalysisConfig{
			BaseURL: envOrDefault("ANALYSIS_BASE_URL", "http://localhost:5000"),
			Timeout: envOrDefaultDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "presentation.transcript.final"),
			TopicSession:    envOrDefault("KAFKA_TOPIC_SESSION", "presentation.session"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
			LogOutput: envOrDefault("LOG_OUTPUT", "stdout"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
