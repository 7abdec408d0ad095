package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/config"
	"speech-coach-service/internal/events"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/schema"
	"speech-coach-service/internal/service/analysis"
	"speech-coach-service/internal/service/recognition"
	"speech-coach-service/internal/service/recognition/browser"
	"speech-coach-service/internal/service/recognition/google"
	"speech-coach-service/internal/service/recognition/mock"
	"speech-coach-service/internal/service/session"
)

// Recognition providers.
const (
	ProviderBrowser = "browser"
	ProviderGoogle  = "google"
	ProviderMock    = "mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Publisher *events.Publisher
	Analysis  *analysis.Client
	Validator *schema.Validator
	Metrics   *metrics.Metrics
	IDs       *session.IDGenerator
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
		Output:     cfg.Observability.LogOutput,
		Service:    cfg.Service.Principal,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
		Publisher: events.New(&events.Config{
			Brokers:         cfg.Kafka.Brokers,
			TopicTranscript: cfg.Kafka.TopicTranscript,
			TopicSession:    cfg.Kafka.TopicSession,
			Principal:       cfg.Kafka.Principal,
			Enabled:         cfg.Kafka.Enabled,
		}),
		Analysis: analysis.New(analysis.Config{
			BaseURL: cfg.Analysis.BaseURL,
			Timeout: cfg.Analysis.Timeout,
		}),
		Validator: schema.New(),
		Metrics:   metrics.DefaultMetrics,
		IDs:       session.NewIDGenerator(),
	}

	a.Logger.Info().
		Str("logLevel", cfg.Observability.LogLevel).
		Str("recognitionProvider", cfg.Recognition.Provider).
		Str("analysisBaseUrl", a.Analysis.BaseURL()).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Msg("Speech coach application created")
	return a
}

// RecognitionConfig is the recognition configuration sent to browsers.
func (a *Application) RecognitionConfig() recognition.Config {
	r := a.Cfg.Recognition
	return recognition.Config{
		Language:        r.Language,
		Continuous:      r.Continuous,
		InterimResults:  r.InterimResults,
		MaxAlternatives: r.MaxAlternatives,
	}
}

// GoogleConfig maps recognition settings onto the Google source.
func (a *Application) GoogleConfig() google.Config {
	r := a.Cfg.Recognition
	cfg := google.DefaultConfig()
	cfg.LanguageCode = r.Language
	cfg.SampleRateHz = int32(r.SampleRateHz)
	cfg.InterimResults = r.InterimResults
	cfg.AudioEncoding = r.AudioEncoding
	cfg.MaxAlternatives = int32(r.MaxAlternatives)
	cfg.CredentialsFile = r.CredentialsFile
	return cfg
}

// SessionOptions returns controller options sharing the process-wide
// publisher, metrics and session ID generator.
func (a *Application) SessionOptions() session.Options {
	return session.Options{
		TickInterval:      a.Cfg.Session.TickInterval,
		RequestAIFeedback: a.Cfg.Session.RequestAIFeedback,
		IDs:               a.IDs,
		Publisher:         a.Publisher,
		Metrics:           a.Metrics,
	}
}

// NewController builds a controller analysing through the application's client.
func (a *Application) NewController(src recognition.Source, perm session.Permission, p session.Presenter) *session.Controller {
	return session.NewController(src, perm, a.Analysis, p, a.SessionOptions())
}

// NewBridgeSource returns the source for a browser-connected session. The
// browser relay is returned as well when events come from the browser; with
// the mock provider the server replays its own script and relay is nil.
func (a *Application) NewBridgeSource(sender browser.Sender) (recognition.Source, *browser.Source, error) {
	switch a.Cfg.Recognition.Provider {
	case ProviderMock:
		script, err := a.loadScript()
		if err != nil {
			return nil, nil, err
		}
		return mock.New(script), nil, nil
	case ProviderGoogle:
		a.Logger.Warn().Msg("Google recognition needs server-side audio; browser sessions use the Web Speech API")
		fallthrough
	default:
		relay := browser.New(a.RecognitionConfig(), sender)
		return relay, relay, nil
	}
}

// NewGoogleSource opens a Google source reading audio from r.
func (a *Application) NewGoogleSource(ctx context.Context, r io.Reader, sampleRateHz int) (*google.Source, error) {
	cfg := a.GoogleConfig()
	if sampleRateHz > 0 {
		cfg.SampleRateHz = int32(sampleRateHz)
		// 16-bit mono frames paced at 100ms
		cfg.ChunkBytes = sampleRateHz * 2 / 10
		cfg.ChunkInterval = 100 * time.Millisecond
	}
	src, err := google.New(ctx, cfg, r)
	if err != nil {
		return nil, fmt.Errorf("create google recognition client: %w", err)
	}
	return src, nil
}

func (a *Application) loadScript() (mock.Script, error) {
	if a.Cfg.Recognition.ScriptPath == "" {
		return mock.DefaultScript, nil
	}
	return mock.LoadScript(a.Cfg.Recognition.ScriptPath)
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Speech coach service starting")

	return nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Error().Err(err).Msg("Failed to close event publisher")
	}
	shutdownLogger.Info().Msg("Speech coach service shutting down")
}
