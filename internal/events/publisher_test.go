package events

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/observability/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func enabledPublisher(tick, final *fakeWriter) *Publisher {
	return &Publisher{
		writerTick:  tick,
		writerFinal: final,
		principal:   "test-svc",
		topicTick:   "test.tick",
		topicFinal:  "test.final",
		enabled:     true,
		metrics:     testMetrics(),
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewWithMetrics(tt.cfg, testMetrics())
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTick != nil {
				t.Error("expected nil tick writer when disabled")
			}
			if p.writerFinal != nil {
				t.Error("expected nil final writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:    false,
		Brokers:    []string{"localhost:9092"},
		TopicTick:  "test.tick",
		TopicFinal: "test.final",
		Principal:  "test-principal",
	}

	p := NewWithMetrics(cfg, testMetrics())

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicTick != "test.tick" {
		t.Errorf("expected topic tick 'test.tick', got %s", p.topicTick)
	}
	if p.topicFinal != "test.final" {
		t.Errorf("expected topic final 'test.final', got %s", p.topicFinal)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := NewWithMetrics(&Config{
		Enabled:    true,
		Brokers:    []string{"localhost:9092"},
		TopicTick:  "t",
		TopicFinal: "f",
	}, testMetrics())
	defer p.Close()

	if !p.Enabled() || p.writerTick == nil || p.writerFinal == nil {
		t.Fatal("expected writers when enabled")
	}
	tw, ok := p.writerTick.(*kafka.Writer)
	if !ok || !tw.Async {
		t.Error("expected async tick writer")
	}
	fw, ok := p.writerFinal.(*kafka.Writer)
	if !ok || fw.Async || fw.RequiredAcks != kafka.RequireAll {
		t.Error("expected synchronous acknowledged final writer")
	}
	if ok && fw.MaxAttempts != 1 {
		t.Errorf("expected final writes attempted once, got MaxAttempts=%d", fw.MaxAttempts)
	}
}

func TestPublisher_Disabled(t *testing.T) {
	p := NewWithMetrics(&Config{Enabled: false}, testMetrics())

	if err := p.PublishTick(context.Background(), models.ScoreTick{SessionID: "s"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.SaveScore(context.Background(), models.ScoreRecord{SessionID: "s"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_UnencodableTick(t *testing.T) {
	tick := &fakeWriter{}
	p := enabledPublisher(tick, &fakeWriter{})

	err := p.PublishTick(context.Background(), models.ScoreTick{SessionID: "s", RawSimilarity: math.NaN()})
	if err == nil {
		t.Error("expected error for NaN similarity")
	}
	if len(tick.msgs) != 0 {
		t.Errorf("expected nothing written, got %d messages", len(tick.msgs))
	}
}

func TestPublisher_RoutesByTopic(t *testing.T) {
	tick, final := &fakeWriter{}, &fakeWriter{}
	p := enabledPublisher(tick, final)

	if err := p.PublishTick(context.Background(), models.ScoreTick{SessionID: "s-1", Sequence: 3}); err != nil {
		t.Fatalf("PublishTick: %v", err)
	}
	rec := models.ScoreRecord{SessionID: "s-1", Score: 88, History: []int{88}, Timestamp: "2024-05-01T12:00:00Z"}
	if err := p.SaveScore(context.Background(), rec); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}

	if len(tick.msgs) != 1 || len(final.msgs) != 1 {
		t.Fatalf("expected one message per topic, got %d/%d", len(tick.msgs), len(final.msgs))
	}
	if string(final.msgs[0].Key) != "s-1" {
		t.Errorf("expected session key, got %s", final.msgs[0].Key)
	}
	var got models.ScoreRecord
	if err := json.Unmarshal(final.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Score != 88 || got.SessionID != "s-1" {
		t.Errorf("unexpected payload %+v", got)
	}
	headers := map[string]string{}
	for _, h := range final.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers[HeaderEventType] != "final" || headers[HeaderPrincipal] != "test-svc" || headers[HeaderSessionID] != "s-1" {
		t.Errorf("unexpected headers %v", headers)
	}
	if _, ok := headers[HeaderClipID]; ok {
		t.Error("clip header set for a session without clip")
	}
	if got.EventType != models.EventTypeFinal {
		t.Errorf("expected event type %q, got %q", models.EventTypeFinal, got.EventType)
	}
}

func TestPublisher_FinalKeyedByClip(t *testing.T) {
	final := &fakeWriter{}
	p := enabledPublisher(&fakeWriter{}, final)

	rec := models.ScoreRecord{SessionID: "s-2", ClipID: "clip-7", Score: 70, History: []int{70}}
	if err := p.SaveScore(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	msg := final.msgs[0]
	if string(msg.Key) != "clip-7" {
		t.Errorf("expected clip key, got %s", msg.Key)
	}
	found := false
	for _, h := range msg.Headers {
		if h.Key == HeaderClipID && string(h.Value) == "clip-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing clip header in %v", msg.Headers)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	final := &fakeWriter{err: errors.New("broker down")}
	p := enabledPublisher(&fakeWriter{}, final)

	if err := p.SaveScore(context.Background(), models.ScoreRecord{SessionID: "s"}); err == nil {
		t.Error("expected write error to be returned")
	}
}

func TestPublisher_Close(t *testing.T) {
	tick, final := &fakeWriter{}, &fakeWriter{}
	p := enabledPublisher(tick, final)
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tick.closed || !final.closed {
		t.Error("expected both writers closed")
	}

	empty := &Publisher{}
	if err := empty.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
