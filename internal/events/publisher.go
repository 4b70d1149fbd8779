// Package events publishes interview events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/jetbot/interview-gateway/internal/observability"
)

// Lifecycle event names.
const (
	SessionStarted   = "session_started"
	QuestionAsked    = "question_asked"
	SessionCompleted = "session_completed"
	SessionClosed    = "session_closed"
	ReportCreated    = "report_created"
)

// TranscriptEvent is published for every final transcript.
type TranscriptEvent struct {
	InterviewID   string    `json:"interview_id"`
	QuestionIndex int       `json:"question_index"`
	Text          string    `json:"text"`
	Final         bool      `json:"final"`
	Timestamp     time.Time `json:"timestamp"`
}

// LifecycleEvent marks session and report milestones.
type LifecycleEvent struct {
	InterviewID   string    `json:"interview_id"`
	Event         string    `json:"event"`
	QuestionIndex int       `json:"question_index,omitempty"`
	Question      string    `json:"question,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicLifecycle  string
	Enabled         bool
}

// Publisher writes transcript and lifecycle events to separate topics. When
// Kafka is disabled it only logs.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerLifecycle  *kafka.Writer
	topicTranscript  string
	topicLifecycle   string
	enabled          bool
	logger           zerolog.Logger
}

// New creates a publisher. A nil config or no brokers yields log-only mode.
func New(cfg *Config) *Publisher {
	logger := observability.WithComponent("events")

	if cfg == nil {
		logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{logger: logger}
	}

	p := &Publisher{
		topicTranscript: cfg.TopicTranscript,
		topicLifecycle:  cfg.TopicLifecycle,
		logger:          logger,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	p.writerTranscript = newWriter(cfg.Brokers, cfg.TopicTranscript, transport)
	p.writerLifecycle = newWriter(cfg.Brokers, cfg.TopicLifecycle, transport)
	p.enabled = true

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic_transcript", cfg.TopicTranscript).
		Str("topic_lifecycle", cfg.TopicLifecycle).
		Msg("Kafka publisher initialized")
	return p
}

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

// PublishTranscript publishes a transcript event keyed by interview id.
func (p *Publisher) PublishTranscript(ctx context.Context, ev TranscriptEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, "transcript", ev.InterviewID, ev)
}

// PublishLifecycle publishes a lifecycle event keyed by interview id.
func (p *Publisher) PublishLifecycle(ctx context.Context, ev LifecycleEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, p.writerLifecycle, p.topicLifecycle, ev.Event, ev.InterviewID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		observability.RecordEventPublish(topic, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Failed to write to Kafka")
		observability.RecordEventPublish(topic, err)
		return err
	}

	observability.RecordEventPublish(topic, nil)
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerTranscript, p.writerLifecycle} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			p.logger.Error().Err(e).Str("topic", w.Topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
