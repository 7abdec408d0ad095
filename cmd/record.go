package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"speech-coach-service/internal/app"
	"speech-coach-service/internal/config"
	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/recognition"
	"speech-coach-service/internal/service/recognition/mock"
	"speech-coach-service/internal/service/session"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

type recordOptions struct {
	audioPath  string
	scriptPath string
	duration   time.Duration
	noFeedback bool
}

func newRecordCommand() *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run one narration session locally and print the analysis",
		Long: `Run one narration session from the terminal.

With --audio, a 16-bit PCM WAV file is streamed to Google Cloud Speech in
real time (credentials from GOOGLE_APPLICATION_CREDENTIALS). With --script, a
YAML recognition script is replayed. Without either, a built-in script is used.

The session stops when the audio or script is exhausted, when --duration
elapses, or on Ctrl-C; the transcript is then sent for analysis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.audioPath != "" && opts.scriptPath != "" {
				return errors.New("--audio and --script are mutually exclusive")
			}
			return record(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.audioPath, "audio", "", "Path to WAV file (16-bit PCM mono)")
	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "Path to YAML recognition script")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop recording after this long (0 waits for the input to end)")
	cmd.Flags().BoolVar(&opts.noFeedback, "no-feedback", false, "Do not request AI feedback")

	return cmd
}

// drainer is a source that knows when its input is exhausted.
type drainer interface {
	recognition.Source
	Drained() <-chan struct{}
}

func record(parent context.Context, out io.Writer, opts recordOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	// stdout carries the live transcript
	cfg.Observability.LogOutput = "stderr"
	if opts.noFeedback {
		cfg.Session.RequestAIFeedback = false
	}
	application := app.New(cfg)
	defer application.Shutdown()

	src, closeSrc, err := recordSource(ctx, application, opts)
	if err != nil {
		return err
	}
	defer closeSrc()

	pres := newConsolePresenter(out)
	ctrl := application.NewController(src, session.Granted, pres)

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-src.Drained():
	case <-deadline:
	case <-ctx.Done():
	case <-pres.aborted:
		return errors.New("session aborted")
	}

	// Analysis outlives the interrupt that ended recording.
	analyzeCtx, cancel := context.WithTimeout(context.Background(), cfg.Analysis.Timeout+5*time.Second)
	defer cancel()

	if _, err := ctrl.Stop(analyzeCtx); err != nil {
		if errors.Is(err, session.ErrNotRecording) {
			return errors.New("session aborted")
		}
		printCaptured(out, ctrl.Fragments())
		return err
	}
	return nil
}

// printCaptured lists the fragments kept after a failed analysis.
func printCaptured(out io.Writer, fragments []string) {
	if len(fragments) == 0 {
		return
	}
	fmt.Fprintf(out, "\nCaptured %d fragment(s):\n", len(fragments))
	for i, f := range fragments {
		fmt.Fprintf(out, "  %d. %s\n", i+1, f)
	}
}

func recordSource(ctx context.Context, a *app.Application, opts recordOptions) (drainer, func(), error) {
	noop := func() {}

	switch {
	case opts.audioPath != "":
		f, err := os.Open(opts.audioPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audio file: %w", err)
		}
		sampleRate, err := readWAVHeader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		src, err := a.NewGoogleSource(ctx, f, sampleRate)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return src, func() {
			_ = src.Close()
			_ = f.Close()
		}, nil

	case opts.scriptPath != "":
		script, err := mock.LoadScript(opts.scriptPath)
		if err != nil {
			return nil, nil, err
		}
		return mock.New(script), noop, nil

	default:
		return mock.New(mock.DefaultScript), noop, nil
	}
}

// readWAVHeader validates a canonical PCM WAV header and returns the sample rate.
func readWAVHeader(r io.Reader) (int, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("read WAV header: %w", err)
	}

	// Validate it's a WAV file
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errors.New("not a valid WAV file")
	}

	// Extract audio format info
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	if audioFormat != 1 { // PCM
		return 0, errors.New("only PCM format supported")
	}
	if numChannels != 1 || bitsPerSample != 16 {
		return 0, fmt.Errorf("expected 16-bit mono audio, got %d channels at %d bits", numChannels, bitsPerSample)
	}
	return int(sampleRate), nil
}

// consolePresenter prints session updates to a terminal.
type consolePresenter struct {
	mu        sync.Mutex
	out       io.Writer
	last      string
	aborted   chan struct{}
	abortOnce sync.Once
}

func newConsolePresenter(out io.Writer) *consolePresenter {
	return &consolePresenter{out: out, aborted: make(chan struct{})}
}

func (p *consolePresenter) Status(sessionID, message string) {
	p.printf("[%s] %s\n", sessionID, message)
}

func (p *consolePresenter) Transcript(_ string, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.last || text == "" {
		return
	}
	p.last = text
	fmt.Fprintf(p.out, "  > %s\n", text)
}

func (p *consolePresenter) Elapsed(_ string, seconds int, ended bool) {
	if ended || (seconds > 0 && seconds%10 == 0) {
		p.printf("  ⏱ %s\n", session.FormatElapsed(seconds, ended))
	}
}

func (p *consolePresenter) Result(_ string, res *models.AnalysisResult) {
	a := res.Analysis
	var b strings.Builder
	fmt.Fprintf(&b, "\nTranscript: %s\n", a.FullText)
	fmt.Fprintf(&b, "Rate:       %.1f %s", a.Rate, a.RateUnit)
	if a.RateFeedback != "" {
		fmt.Fprintf(&b, " (%s)", a.RateFeedback)
	}
	fmt.Fprintf(&b, "\nDuration:   %.1fs\n", a.DurationSeconds)
	fmt.Fprintf(&b, "Fillers:    %d", a.TotalFillers)
	if len(a.FillerWords) > 0 {
		words := make([]string, 0, len(a.FillerWords))
		for w := range a.FillerWords {
			words = append(words, w)
		}
		sort.Strings(words)
		parts := make([]string, 0, len(words))
		for _, w := range words {
			parts = append(parts, fmt.Sprintf("%s×%d", w, a.FillerWords[w]))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
	if a.AIFeedback != "" {
		fmt.Fprintf(&b, "\nFeedback:\n%s\n", a.AIFeedback)
	}
	p.printf("%s", b.String())
}

func (p *consolePresenter) Failure(sessionID string, err error) {
	p.printf("[%s] error: %v\n", sessionID, err)
	var re *recognition.Error
	if errors.As(err, &re) || errors.Is(err, session.ErrPermissionDenied) {
		p.abortOnce.Do(func() { close(p.aborted) })
	}
}

func (p *consolePresenter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
