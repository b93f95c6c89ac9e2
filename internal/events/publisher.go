// Package events publishes score ticks and final score records to Kafka.
// Without brokers the publisher only logs, so sessions never depend on Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/observability/metrics"
)

// Header keys attached to every message.
const (
	HeaderEventType = "eventType"
	HeaderPrincipal = "principal"
	HeaderSessionID = "sessionId"
	HeaderClipID    = "clipId"
)

// Event type labels used in headers and metrics.
const (
	kindTick  = "tick"
	kindFinal = "final"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes ticks to one topic and final records to another. It is a
// tick sink and a score store for sessions at the same time.
type Publisher struct {
	writerTick  messageWriter
	writerFinal messageWriter
	principal   string
	topicTick   string
	topicFinal  string
	enabled     bool
	metrics     *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicTick  string
	TopicFinal string
	Principal  string
	Enabled    bool
}

// envelope is one outgoing message before encoding.
type envelope struct {
	topic     string
	kind      string
	key       string
	sessionID string
	clipID    string
	body      any
}

// New creates a publisher reporting to the default metrics.
func New(cfg *Config) *Publisher {
	return NewWithMetrics(cfg, metrics.DefaultMetrics)
}

// NewWithMetrics creates a publisher. A nil or disabled config, or one without
// brokers, yields a log-only publisher.
func NewWithMetrics(cfg *Config, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	p := &Publisher{
		principal:  cfg.Principal,
		topicTick:  cfg.TopicTick,
		topicFinal: cfg.TopicFinal,
		metrics:    m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	// Ticks are superseded by the next one: async, no acks.
	p.writerTick = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicTick,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireNone,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				m.RecordKafkaPublish(cfg.TopicTick, "tick_async", err, 0)
				log.Warn().Err(err).Int("messages", len(messages)).Msg("Async tick write failed")
			}
		},
	}

	// Final records are keyed by clip so a leaderboard consumer sees one
	// clip's scores in order. A failed write is reported, never retried.
	p.writerFinal = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFinal,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
		Transport:    transport,
	}
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTick", cfg.TopicTick).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// PublishTick publishes an evaluation tick keyed by session id.
func (p *Publisher) PublishTick(ctx context.Context, tick models.ScoreTick) error {
	if tick.EventType == "" {
		tick.EventType = models.EventTypeTick
	}
	return p.publish(ctx, p.writerTick, envelope{
		topic:     p.topicTick,
		kind:      kindTick,
		key:       tick.SessionID,
		sessionID: tick.SessionID,
		body:      tick,
	})
}

// SaveScore publishes the final record of a session. The message key is the
// clip id, or the session id for sessions without a clip.
func (p *Publisher) SaveScore(ctx context.Context, rec models.ScoreRecord) error {
	if rec.EventType == "" {
		rec.EventType = models.EventTypeFinal
	}
	key := rec.ClipID
	if key == "" {
		key = rec.SessionID
	}
	return p.publish(ctx, p.writerFinal, envelope{
		topic:     p.topicFinal,
		kind:      kindFinal,
		key:       key,
		sessionID: rec.SessionID,
		clipID:    rec.ClipID,
		body:      rec,
	})
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, ev envelope) error {
	start := time.Now()

	payload, err := json.Marshal(ev.body)
	if err != nil {
		log.Error().Err(err).Str("topic", ev.topic).Msg("Failed to marshal event")
		return fmt.Errorf("marshal %s event: %w", ev.kind, err)
	}

	log.Debug().
		Str("topic", ev.topic).
		Str("key", ev.key).
		Str("sessionId", ev.sessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(ev.topic, ev.kind, nil, time.Since(start).Seconds())
		return nil
	}

	if err := writer.WriteMessages(ctx, p.message(ev, payload)); err != nil {
		log.Error().
			Err(err).
			Str("topic", ev.topic).
			Str("sessionId", ev.sessionID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(ev.topic, ev.kind, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(ev.topic, ev.kind, nil, time.Since(start).Seconds())
	return nil
}

func (p *Publisher) message(ev envelope, payload []byte) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.kind)},
		{Key: HeaderPrincipal, Value: []byte(p.principal)},
		{Key: HeaderSessionID, Value: []byte(ev.sessionID)},
	}
	if ev.clipID != "" {
		headers = append(headers, kafka.Header{Key: HeaderClipID, Value: []byte(ev.clipID)})
	}
	return kafka.Message{
		Key:     []byte(ev.key),
		Value:   payload,
		Headers: headers,
	}
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	if p.writerTick != nil {
		if err := p.writerTick.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tick writer: %w", err))
		}
	}
	if p.writerFinal != nil {
		if err := p.writerFinal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close final writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
