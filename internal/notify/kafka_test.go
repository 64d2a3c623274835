package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/fieldsync/internal/engine"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
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

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func testConfig() KafkaConfig {
	return KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "fieldsync.runs", Acks: -1}
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(KafkaConfig{Topic: "t"}, quietLogger())
	assert.Error(t, err)

	_, err = NewPublisher(KafkaConfig{Brokers: []string{"b:9092"}, Topic: "  "}, quietLogger())
	assert.Error(t, err)

	p, err := NewPublisher(testConfig(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "kafka://localhost:9092/fieldsync.runs", p.String())
}

func TestPublisherDeliversKeyedByRun(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(testConfig(), quietLogger(), w)
	p.Start(context.Background())

	p.Notify(context.Background(), engine.Event{Type: engine.EventRunStarted, RunID: "run-7", Mode: engine.ModeInitial})
	p.Notify(context.Background(), engine.Event{Type: engine.EventSweepCompleted, Swept: 3})

	require.Eventually(t, func() bool { return w.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	assert.Equal(t, "run-7", string(w.msgs[0].Key))
	assert.Equal(t, engine.EventSweepCompleted, string(w.msgs[1].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var ev engine.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, engine.EventRunStarted, ev.Type)
	assert.Equal(t, engine.ModeInitial, ev.Mode)
}

func TestPublisherIgnoresEventsBeforeStart(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(testConfig(), quietLogger(), w)
	p.Notify(context.Background(), engine.Event{Type: engine.EventRunStarted})
	assert.Zero(t, w.count())
}

func TestPublisherCountsFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newPublisherWithWriter(testConfig(), quietLogger(), w)
	p.Start(context.Background())
	p.Notify(context.Background(), engine.Event{Type: engine.EventRunFailed, RunID: "r"})

	require.Eventually(t, func() bool {
		_, failed, _ := p.Stats()
		return failed == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
}
