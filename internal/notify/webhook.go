package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/fieldsync/internal/engine"
)

// Webhook headers. The signature is HMAC-SHA256 over "<timestamp>.<body>".
const (
	HeaderTimestamp = "X-Fieldsync-Timestamp"
	HeaderSignature = "X-Fieldsync-Signature"
	HeaderEventType = "X-Fieldsync-Event"
)

const webhookQueueSize = 64

// Webhook posts run and sweep events to an HTTP endpoint.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	log    *slog.Logger
	queue  chan engine.Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewWebhook starts a webhook notifier for url. An empty secret sends
// unsigned requests.
func NewWebhook(url, secret string, log *slog.Logger) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("webhook url must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With("component", "webhook"),
		queue:  make(chan engine.Event, webhookQueueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Notify implements engine.Notifier. Events are dropped when the queue is
// full or the webhook is closed.
func (w *Webhook) Notify(_ context.Context, ev engine.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.dropped.Add(1)
		w.log.Warn("webhook queue full, dropping event", "type", ev.Type, "run_id", ev.RunID)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (w *Webhook) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivered, failed and dropped counts.
func (w *Webhook) Stats() (delivered, failed, dropped int64) {
	return w.delivered.Load(), w.failed.Load(), w.dropped.Load()
}

func (w *Webhook) run() {
	defer close(w.done)
	for ev := range w.queue {
		if err := Dispatch(context.Background(), w.client, w.url, w.secret, ev); err != nil {
			w.failed.Add(1)
			w.log.Error("deliver webhook", "type", ev.Type, "run_id", ev.RunID, "err", err)
			continue
		}
		w.delivered.Add(1)
	}
}

// Sign returns the hex signature of body at unix timestamp ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch performs a synchronous HTTP POST of ev to url.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, client *http.Client, url, secret string, ev engine.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fieldsync-webhook/1")
	req.Header.Set(HeaderEventType, ev.Type)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)
	if secret != "" {
		req.Header.Set(HeaderSignature, Sign(secret, ts, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}
