// Package google provides a Google Cloud Speech-to-Text recognition source.
package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/recognition"
)

// Config holds Google Speech-to-Text configuration.
type Config struct {
	LanguageCode    string
	SampleRateHz    int32
	InterimResults  bool
	AudioEncoding   string // LINEAR16, MULAW, FLAC, etc.
	MaxAlternatives int32
	CredentialsFile string // empty uses application default credentials

	// ChunkBytes is the size of each audio frame sent to the stream.
	ChunkBytes int
	// ChunkInterval paces audio frames; zero sends as fast as the stream accepts.
	ChunkInterval time.Duration
}

// DefaultConfig returns Korean 16kHz LINEAR16 with interim results, in 100ms frames.
func DefaultConfig() Config {
	return Config{
		LanguageCode:    "ko-KR",
		SampleRateHz:    16000,
		InterimResults:  true,
		AudioEncoding:   "LINEAR16",
		MaxAlternatives: 1,
		ChunkBytes:      3200,
	}
}

// stream is the subset of the streaming RPC client the source uses.
type stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type dialFunc func(ctx context.Context) (stream, error)

// Source implements recognition.Source over StreamingRecognize. Each pass
// opens a new stream and keeps reading from the same audio reader, so a
// restart after the stream duration limit continues where the audio left off.
// Once the reader is exhausted and the last stream has drained, further passes
// are no-ops and Drained is closed.
type Source struct {
	cfg    Config
	client *speech.Client
	dial   dialFunc
	logger zerolog.Logger

	audioMu sync.Mutex
	audio   io.Reader

	mu        sync.Mutex
	cancel    context.CancelFunc
	passDone  chan struct{}
	exhausted bool
	drained   chan struct{}
	drainOnce sync.Once
}

// New creates a Google source reading audio from r.
func New(ctx context.Context, cfg Config, r io.Reader) (*Source, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	s := newSource(cfg, r, func(ctx context.Context) (stream, error) {
		return c.StreamingRecognize(ctx)
	})
	s.client = c
	return s, nil
}

func newSource(cfg Config, r io.Reader, dial dialFunc) *Source {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultConfig().ChunkBytes
	}
	return &Source{
		cfg:     cfg,
		dial:    dial,
		logger:  logging.WithSource("google"),
		audio:   r,
		drained: make(chan struct{}),
	}
}

// Drained is closed once all audio has been sent and recognised.
func (s *Source) Drained() <-chan struct{} {
	return s.drained
}

// Start opens a streaming pass and sends the recognition config as the first message.
func (s *Source) Start(ctx context.Context, h recognition.Handler) error {
	s.mu.Lock()
	prev := s.passDone
	s.mu.Unlock()
	if prev != nil {
		<-prev
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted {
		s.logger.Debug().Msg("Audio exhausted, skipping recognition pass")
		return nil
	}

	passCtx, cancel := context.WithCancel(ctx)
	st, err := s.dial(passCtx)
	if err != nil {
		cancel()
		return &recognition.Error{Code: codeOf(err), Err: err}
	}

	if err := st.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(s.cfg.AudioEncoding),
					SampleRateHertz: s.cfg.SampleRateHz,
					LanguageCode:    s.cfg.LanguageCode,
					MaxAlternatives: s.cfg.MaxAlternatives,
				},
				InterimResults: s.cfg.InterimResults,
			},
		},
	}); err != nil {
		cancel()
		return &recognition.Error{Code: codeOf(err), Err: err}
	}

	done := make(chan struct{})
	s.cancel = cancel
	s.passDone = done

	pumpDone := make(chan struct{})
	go s.pump(passCtx, st, pumpDone)
	go s.listen(passCtx, cancel, st, h, pumpDone, done)

	s.logger.Debug().
		Str("language", s.cfg.LanguageCode).
		Int32("sampleRateHz", s.cfg.SampleRateHz).
		Msg("Google recognition pass started")
	return nil
}

// Stop cancels the current pass. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// Close stops the current pass and releases the client.
func (s *Source) Close() error {
	_ = s.Stop()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// pump sends audio frames until the reader is exhausted or the pass ends.
func (s *Source) pump(ctx context.Context, st stream, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, s.cfg.ChunkBytes)
	var ticker *time.Ticker
	if s.cfg.ChunkInterval > 0 {
		ticker = time.NewTicker(s.cfg.ChunkInterval)
		defer ticker.Stop()
	}

	for {
		if ctx.Err() != nil {
			return
		}

		s.audioMu.Lock()
		n, err := s.audio.Read(buf)
		s.audioMu.Unlock()

		if n > 0 {
			if sendErr := st.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: append([]byte(nil), buf[:n]...),
				},
			}); sendErr != nil {
				// Recv reports the stream's terminal status.
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Msg("Audio read failed, ending stream")
			}
			s.mu.Lock()
			s.exhausted = true
			s.mu.Unlock()
			_ = st.CloseSend()
			return
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// listen receives responses and forwards them to h in arrival order.
func (s *Source) listen(ctx context.Context, cancel context.CancelFunc, st stream, h recognition.Handler, pumpDone <-chan struct{}, done chan<- struct{}) {
	var final error
	for {
		resp, err := st.Recv()
		if err != nil {
			final = err
			break
		}
		if ev, ok := toEvent(resp); ok {
			h.OnResult(ev)
		}
	}

	stopped := ctx.Err() != nil
	cancel()
	<-pumpDone

	s.mu.Lock()
	exhausted := s.exhausted
	s.mu.Unlock()

	close(done)

	switch {
	case stopped && !errors.Is(final, io.EOF):
		// Stopped by the caller.
		h.OnEnd()
	case errors.Is(final, io.EOF), status.Code(final) == codes.OutOfRange:
		if exhausted {
			s.drainOnce.Do(func() { close(s.drained) })
		}
		h.OnEnd()
	default:
		h.OnError(&recognition.Error{Code: codeOf(final), Err: final})
	}
}

// toEvent maps one streaming response onto a recognition event.
func toEvent(resp *speechpb.StreamingRecognizeResponse) (models.RecognitionEvent, bool) {
	var ev models.RecognitionEvent
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		ev.Results = append(ev.Results, models.ResultCandidate{
			Text:    alts[0].GetTranscript(),
			IsFinal: r.GetIsFinal(),
		})
	}
	return ev, len(ev.Results) > 0
}

func codeOf(err error) string {
	if st, ok := status.FromError(err); ok {
		return st.Code().String()
	}
	return "engine"
}

// parseAudioEncoding converts a string encoding name to the Google Speech enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
