// Package events publishes narration session activity to Kafka: every
// fragment committed to a transcript, and every session lifecycle transition.
// Both streams are keyed by session id so a consumer sees one session's
// events in order.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/metrics"
)

// Header keys set on every published message.
const (
	HeaderEventType = "eventType"
	HeaderSessionID = "sessionId"
	HeaderPrincipal = "principal"
	HeaderSequence  = "sequence"
)

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// stream is one topic and the writer feeding it. w is nil in log-only mode.
type stream struct {
	topic string
	kind  string
	w     messageWriter
}

// Publisher publishes transcript fragments and session lifecycle events.
// A nil Publisher is valid and publishes nothing.
type Publisher struct {
	fragments stream
	lifecycle stream
	principal string
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicSession    string
	Principal       string
	Enabled         bool
}

// New creates a Kafka event publisher. A nil or disabled config, or one
// without brokers, yields a log-only publisher.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}

	p := &Publisher{
		fragments: stream{topic: cfg.TopicTranscript, kind: "transcript"},
		lifecycle: stream{topic: cfg.TopicSession, kind: "session"},
		principal: cfg.Principal,
		metrics:   metrics.DefaultMetrics,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().
			Str("topicTranscript", cfg.TopicTranscript).
			Str("topicSession", cfg.TopicSession).
			Msg("Kafka disabled, session events are logged only")
		return p
	}

	// Longer dial timeout for broker DNS resolution inside Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	p.fragments.w = newWriter(cfg.Brokers, cfg.TopicTranscript, transport)
	p.lifecycle.w = newWriter(cfg.Brokers, cfg.TopicSession, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// newWriter builds a writer for one topic. Messages are hashed by key so all
// events of a session land on the same partition.
func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishFragment publishes one committed transcript fragment.
func (p *Publisher) PublishFragment(ctx context.Context, ev models.TranscriptFinal) error {
	if p == nil {
		return nil
	}
	if ev.EventType == "" {
		ev.EventType = models.EventTranscriptFinal
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	seq := kafka.Header{Key: HeaderSequence, Value: []byte(strconv.Itoa(ev.Sequence))}
	return p.publish(ctx, p.fragments, ev.EventType, ev.SessionID, ev, seq)
}

// PublishLifecycle publishes a session lifecycle transition.
func (p *Publisher) PublishLifecycle(ctx context.Context, ev models.SessionEvent) error {
	if p == nil {
		return nil
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	return p.publish(ctx, p.lifecycle, ev.EventType, ev.SessionID, ev)
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p != nil && p.fragments.w != nil && p.lifecycle.w != nil
}

func (p *Publisher) publish(ctx context.Context, s stream, eventType, sessionID string, event any, extra ...kafka.Header) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", s.topic).Str("eventType", eventType).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("topic", s.topic).
		Str("eventType", eventType).
		Str("sessionId", sessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if s.w == nil {
		p.metrics.RecordKafkaPublish(s.topic, s.kind, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: append([]kafka.Header{
			{Key: HeaderEventType, Value: []byte(eventType)},
			{Key: HeaderSessionID, Value: []byte(sessionID)},
			{Key: HeaderPrincipal, Value: []byte(p.principal)},
		}, extra...),
	}

	err = s.w.WriteMessages(ctx, msg)
	p.metrics.RecordKafkaPublish(s.topic, s.kind, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", s.topic).
			Str("eventType", eventType).
			Str("sessionId", sessionID).
			Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Close closes both writers. Safe on a nil or log-only publisher.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	for _, s := range []stream{p.fragments, p.lifecycle} {
		if s.w == nil {
			continue
		}
		if e := s.w.Close(); e != nil {
			log.Error().Err(e).Str("topic", s.topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
