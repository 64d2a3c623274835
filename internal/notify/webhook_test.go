package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/fieldsync/internal/engine"
)

type hookRecorder struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
	status  int
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.bodies = append(h.bodies, body)
	h.headers = append(h.headers, r.Header.Clone())
	status := h.status
	h.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func TestDispatchSignsBody(t *testing.T) {
	rec := &hookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	ev := engine.Event{Type: engine.EventRunCompleted, RunID: "run-1", Mode: engine.ModeInitial}
	require.NoError(t, Dispatch(context.Background(), srv.Client(), srv.URL, "s3cret", ev))

	require.Equal(t, 1, rec.count())
	h := rec.headers[0]
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, engine.EventRunCompleted, h.Get(HeaderEventType))

	ts := h.Get(HeaderTimestamp)
	require.NotEmpty(t, ts)
	assert.Equal(t, Sign("s3cret", ts, rec.bodies[0]), h.Get(HeaderSignature))

	var got engine.Event
	require.NoError(t, json.Unmarshal(rec.bodies[0], &got))
	assert.Equal(t, "run-1", got.RunID)
}

func TestDispatchUnsignedAndErrors(t *testing.T) {
	rec := &hookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	require.NoError(t, Dispatch(context.Background(), srv.Client(), srv.URL, "", engine.Event{Type: engine.EventRunStarted}))
	assert.Empty(t, rec.headers[0].Get(HeaderSignature))

	rec.status = http.StatusInternalServerError
	err := Dispatch(context.Background(), srv.Client(), srv.URL, "", engine.Event{Type: engine.EventRunStarted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSignIsStable(t *testing.T) {
	body := []byte(`{"type":"run_started"}`)
	a := Sign("k", "1700000000", body)
	assert.Equal(t, a, Sign("k", "1700000000", body))
	assert.NotEqual(t, a, Sign("k", "1700000001", body))
	assert.NotEqual(t, a, Sign("other", "1700000000", body))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, a)
}

func TestWebhookDeliversQueuedEventsOnClose(t *testing.T) {
	rec := &hookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	w, err := NewWebhook(srv.URL, "", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w.Notify(context.Background(), engine.Event{Type: engine.EventSweepCompleted, Swept: int64(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx), "close is idempotent")

	assert.Equal(t, 3, rec.count())
	delivered, failed, dropped := w.Stats()
	assert.Equal(t, int64(3), delivered)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)

	// Ignored after close.
	w.Notify(context.Background(), engine.Event{Type: engine.EventRunStarted})
	assert.Equal(t, 3, rec.count())
}

func TestNewWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhook("", "", nil)
	require.Error(t, err)
}
