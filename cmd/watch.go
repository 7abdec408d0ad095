package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"speech-coach-service/internal/models"
)

type watchOptions struct {
	brokers         string
	topicTranscript string
	topicSession    string
	since           time.Duration
}

func newWatchCommand() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow committed transcript fragments and session events from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.brokers, "brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	cmd.Flags().StringVar(&opts.topicTranscript, "topic-transcript", "presentation.transcript.final", "Transcript fragment topic")
	cmd.Flags().StringVar(&opts.topicSession, "topic-session", "presentation.session", "Session lifecycle topic")
	cmd.Flags().DurationVar(&opts.since, "since", time.Hour, "Replay messages newer than this")

	return cmd
}

func watch(ctx context.Context, out io.Writer, opts watchOptions) error {
	brokers := strings.Split(opts.brokers, ",")
	printer := &eventPrinter{out: out}

	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range []string{opts.topicTranscript, opts.topicSession} {
		topic := topic
		g.Go(func() error {
			consume(ctx, brokers, topic, opts.since, printer.handle)
			return nil
		})
	}
	return g.Wait()
}

// consume reads partition 0 of a topic until ctx is done. A consumer group
// is not used so the watcher never moves committed offsets.
func consume(ctx context.Context, brokers []string, topic string, since time.Duration, handle func([]byte)) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from current offset")
	}

	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		handle(msg.Value)
	}
}

type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

// envelope carries the fields shared by every published event.
type envelope struct {
	EventType string `json:"eventType"`
}

func (p *eventPrinter) handle(payload []byte) {
	line, err := formatEvent(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping undecodable event")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func formatEvent(payload []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", err
	}

	if env.EventType == models.EventTranscriptFinal {
		var ev models.TranscriptFinal
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s #%d  %s", ev.SessionID, ev.Sequence, ev.Text), nil
	}

	var ev models.SessionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s %s", ev.SessionID, ev.EventType)
	switch ev.EventType {
	case models.EventSessionAnalyzed:
		line += fmt.Sprintf("  %.1f %s, %d fillers, %ds", ev.Rate, ev.RateUnit, ev.TotalFillers, ev.ElapsedSeconds)
	case models.EventSessionFailed, models.EventSessionAborted:
		line += "  " + ev.Error
	}
	return line, nil
}
