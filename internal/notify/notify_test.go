package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"possale/backend/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func sampleSale() domain.Sale {
	return domain.Sale{ID: "sale-1", TotalCents: 1100, PaymentMethod: domain.PaymentCash, Status: domain.SaleStatusCompleted}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		d.Dispatch(NewEvent(EventSaleCommitted, sampleSale(), time.Now()))
	}
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 10, rec.count())
}

func TestDispatcherReportsFailures(t *testing.T) {
	rec := &recorder{err: errors.New("smtp down")}
	var mu sync.Mutex
	var failed []string
	d := NewDispatcher(rec, zap.NewNop(), WithFailureHook(func(event Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, event.Type)
	}))

	d.Dispatch(NewEvent(EventSaleVoided, sampleSale(), time.Now()))
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventSaleVoided}, failed)
}

func TestDispatcherSurvivesPanickingNotifier(t *testing.T) {
	var failures int
	var mu sync.Mutex
	n := NotifierFunc(func(context.Context, Event) error { panic("printer jammed") })
	d := NewDispatcher(n, zap.NewNop(), WithFailureHook(func(Event, error) {
		mu.Lock()
		failures++
		mu.Unlock()
	}))

	d.Dispatch(NewEvent(EventSaleCommitted, sampleSale(), time.Now()))
	d.Dispatch(NewEvent(EventSaleCommitted, sampleSale(), time.Now()))
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, failures)
}

func TestDispatchAfterCloseIsRejected(t *testing.T) {
	var got error
	d := NewDispatcher(&recorder{}, zap.NewNop(), WithFailureHook(func(_ Event, err error) { got = err }))
	require.NoError(t, d.Close(context.Background()))

	d.Dispatch(NewEvent(EventSaleCommitted, sampleSale(), time.Now()))
	assert.ErrorIs(t, got, ErrDispatcherClosed)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	rec := &recorder{err: errors.New("broker unreachable")}
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 2
	b := NewBreaker(rec, cfg, zap.NewNop())
	ctx := context.Background()
	event := NewEvent(EventSaleCommitted, sampleSale(), time.Now())

	assert.Error(t, b.Notify(ctx, event))
	assert.Error(t, b.Notify(ctx, event))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	assert.ErrorIs(t, b.Notify(ctx, event), ErrCircuitOpen)
	assert.Equal(t, 2, rec.count(), "open circuit must not reach the notifier")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("sms gateway down")}
	err := Multi{ok, bad}.Notify(context.Background(), NewEvent(EventSaleCommitted, sampleSale(), time.Now()))

	require.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "pos.sales"}

	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, p.Notify(context.Background(), NewEvent(EventSaleCommitted, sampleSale(), at)))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "sale-1", string(msg.Key))
	assert.Contains(t, string(msg.Value), `"type":"sale.committed"`)
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, EventSaleCommitted, string(msg.Headers[0].Value))
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &KafkaPublisher{writer: w, topic: "pos.sales"}

	err := p.Notify(context.Background(), NewEvent(EventSaleVoided, sampleSale(), time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pos.sales")
}
