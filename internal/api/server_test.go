package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/projector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProjector() *projector.Static {
	return &projector.Static{
		Types: []string{projector.Intervention, projector.Customer},
		IDs: map[string]map[string][]string{
			projector.Intervention: {"D1": {"I3", "I1", "I2"}, "D2": {"I9"}},
			projector.Customer:     {"D1": {"C1"}},
		},
	}
}

func testDirectory() projector.StaticDirectory {
	return projector.StaticDirectory{
		"D1": {TechnicianID: "T1"},
		"D2": {TechnicianID: "T2"},
	}
}

// newTestServer creates a Server over an in-memory ledger for testing.
func newTestServer(t *testing.T) (*Server, *ledger.Ledger) {
	return newTestServerWithConfig(t, nil, testProjector())
}

// newTestServerWithConfig creates a test server with a custom config modifier.
func newTestServerWithConfig(t *testing.T, modCfg func(*Config), proj projector.Projector) (*Server, *ledger.Ledger) {
	t.Helper()
	store, err := ledger.Open(":memory:")
	require.NoError(t, err, "open ledger")
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.ListenAddr = ":0"
	cfg.RateLimit = 100000
	if modCfg != nil {
		modCfg(&cfg)
	}

	srv, err := NewServer(cfg, Deps{Ledger: store, Projector: proj, Directory: testDirectory()})
	require.NoError(t, err, "create server")
	t.Cleanup(func() {
		srv.hub.Close()
		srv.rateLimiter.Stop()
	})
	return srv, store
}

func doRequest(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	body := w.Body.String()
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), "decode response %q", body)
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) APIError {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	require.Equal(t, code, resp.Error.Code)
	return resp.Error
}

func pendingIDs(t *testing.T, srv *Server, device string) []string {
	t.Helper()
	w := doRequest(srv, "POST", "/v1/sync/pending", "", PendingRequest{DeviceID: device})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entries := decode[[]ledger.Entry](t, w)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.EntityID
	}
	return ids
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestInitialSyncPendingAckFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "POST", "/v1/sync/initial-sync", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode[engine.RunSummary](t, w)
	assert.Equal(t, engine.ModeInitial, summary.Mode)
	assert.True(t, summary.Success)
	assert.False(t, summary.Partial)
	assert.EqualValues(t, 5, summary.TotalRecords)

	got := pendingIDs(t, srv, "D1")
	require.Len(t, got, 4)

	w = doRequest(srv, "POST", "/v1/sync/mark-synced", "", engine.Ack{
		EntityType: projector.Intervention, EntityID: "I1", DeviceID: "D1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode[AckResponse](t, w).Success)

	w = doRequest(srv, "POST", "/v1/sync/mark-failed", "", engine.Ack{
		EntityType: projector.Intervention, EntityID: "I2", DeviceID: "D1", ErrorMessage: "disk full",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got = pendingIDs(t, srv, "D1")
	assert.NotContains(t, got, "I1")
	assert.Len(t, got, 3)

	w = doRequest(srv, "GET", "/v1/sync/entry?entity_type=intervention&entity_id=I2&device_id=D1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := decode[ledger.Entry](t, w)
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, "disk full", entry.ErrorMessage)
}

func TestStatusAndRunsAfterSync(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/v1/sync/status", "", nil)
	st := decode[engine.Status](t, w)
	assert.False(t, st.InitialSyncCompleted)
	assert.False(t, st.SyncInProgress)

	w = doRequest(srv, "POST", "/v1/sync/full-sync", "", engine.RunRequest{DeviceID: "D1"})
	summary := decode[engine.RunSummary](t, w)

	w = doRequest(srv, "GET", "/v1/sync/status", "", nil)
	st = decode[engine.Status](t, w)
	assert.True(t, st.InitialSyncCompleted)
	assert.NotNil(t, st.LastSyncDate)
	assert.EqualValues(t, 4, st.TotalPending)
	assert.EqualValues(t, 0, st.TotalSynced)

	w = doRequest(srv, "GET", "/v1/sync/stats", "", nil)
	stats := decode[[]ledger.TableStats](t, w)
	assert.Len(t, stats, 2)

	w = doRequest(srv, "GET", "/v1/sync/runs?limit=5", "", nil)
	runs := decode[[]ledger.RunRecord](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, "D1", runs[0].DeviceID)

	w = doRequest(srv, "GET", "/v1/sync/runs/"+summary.RunID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownDeviceIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv, "POST", "/v1/sync/full-sync", "", engine.RunRequest{DeviceID: "nope"})
	expectError(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestNotFoundLookups(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/v1/sync/runs/missing", "", nil)
	expectError(t, w, http.StatusNotFound, ErrCodeNotFound)

	w = doRequest(srv, "GET", "/v1/sync/entry?entity_type=customer&entity_id=C1&device_id=D1", "", nil)
	expectError(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"pending without device", "/v1/sync/pending", PendingRequest{}},
		{"pending bad direction", "/v1/sync/pending", PendingRequest{DeviceID: "D1", Direction: "sideways"}},
		{"pending negative limit", "/v1/sync/pending", PendingRequest{DeviceID: "D1", Limit: -1}},
		{"mark-synced without entity", "/v1/sync/mark-synced", engine.Ack{DeviceID: "D1", EntityType: "customer"}},
		{"mark-failed without device", "/v1/sync/mark-failed", engine.Ack{EntityType: "customer", EntityID: "C1"}},
		{"unknown field", "/v1/sync/pending", map[string]any{"deviceId": "D1", "bogus": true}},
		{"empty batch", "/v1/sync/ack-batch", AckBatchRequest{}},
		{"negative sweep", "/v1/sync/sweep", SweepRequest{MaxAgeDays: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, "POST", tt.path, "", tt.body)
			expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
		})
	}

	req := httptest.NewRequest("POST", "/v1/sync/pending", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	w = doRequest(srv, "GET", "/v1/sync/runs?limit=abc", "", nil)
	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestAckBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "POST", "/v1/sync/initial-sync", "", nil)

	w := doRequest(srv, "POST", "/v1/sync/ack-batch", "", AckBatchRequest{Items: []engine.BatchItem{
		{Ack: engine.Ack{EntityType: projector.Intervention, EntityID: "I1", DeviceID: "D1"}, Outcome: engine.OutcomeSynced},
		{Ack: engine.Ack{EntityType: projector.Intervention, EntityID: "I2", DeviceID: "D1"}, Outcome: engine.OutcomeFailed},
		{Ack: engine.Ack{EntityType: projector.Intervention, EntityID: "I3", DeviceID: "D1"}, Outcome: "maybe"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[AckBatchResponse](t, w)
	assert.EqualValues(t, 2, resp.Applied)
	require.Len(t, resp.Results, 3)
	assert.False(t, resp.Results[2].Success, "third item should be rejected")
	assert.NotEmpty(t, resp.Results[2].Error)

	snap := srv.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.AcksSynced)
	assert.EqualValues(t, 1, snap.AcksFailed)
}

func TestDeadLetterWithRetryCap(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, func(c *Config) { c.MaxRetries = 2 }, testProjector())
	doRequest(srv, "POST", "/v1/sync/initial-sync", "", nil)

	fail := engine.Ack{EntityType: projector.Customer, EntityID: "C1", DeviceID: "D1", ErrorMessage: "boom"}
	doRequest(srv, "POST", "/v1/sync/mark-failed", "", fail)
	doRequest(srv, "POST", "/v1/sync/mark-failed", "", fail)

	assert.NotContains(t, pendingIDs(t, srv, "D1"), "C1", "row at the retry cap should leave the pending set")

	w := doRequest(srv, "GET", "/v1/sync/dead-letter?device_id=D1", "", nil)
	dead := decode[[]ledger.Entry](t, w)
	require.Len(t, dead, 1)
	assert.Equal(t, "C1", dead[0].EntityID)
	assert.Equal(t, 2, dead[0].RetryCount)
}

func TestSweepEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv, "POST", "/v1/sync/sweep", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[SweepResponse](t, w)
	assert.EqualValues(t, 0, resp.Deleted)
	assert.EqualValues(t, engine.DefaultRetentionDays, resp.MaxAgeDays)
}

func TestSweepRejectsHugeWindow(t *testing.T) {
	srv, store := newTestServer(t)
	w := doRequest(srv, "POST", "/v1/sync/mark-synced", "", engine.Ack{DeviceID: "D1", EntityType: "customer", EntityID: "C1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, "POST", "/v1/sync/sweep", "", SweepRequest{MaxAgeDays: 200000})
	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)

	entry, err := store.Get(context.Background(), ledger.Key{EntityType: "customer", EntityID: "C1", DeviceID: "D1", Direction: ledger.Down})
	require.NoError(t, err)
	assert.NotNil(t, entry, "synced row should survive")
}

func TestAdminTokenGuardsBulkEndpoints(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, func(c *Config) { c.AdminToken = "s3cret" }, testProjector())

	for _, path := range []string{"/v1/sync/initial-sync", "/v1/sync/full-sync", "/v1/sync/sweep"} {
		w := doRequest(srv, "POST", path, "", nil)
		expectError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)

		w = doRequest(srv, "POST", path, "wrong", nil)
		expectError(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)

		w = doRequest(srv, "POST", path, "s3cret", nil)
		require.Equal(t, http.StatusOK, w.Code, "%s with token: %s", path, w.Body.String())
	}

	// Device endpoints stay open.
	w := doRequest(srv, "POST", "/v1/sync/pending", "", PendingRequest{DeviceID: "D1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

// blockingProjector holds its first Project call until release is closed.
type blockingProjector struct {
	*projector.Static
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProjector) Project(ctx context.Context, entityType string, scope projector.Scope) ([]string, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return b.Static.Project(ctx, entityType, scope)
}

func TestConcurrentFullSyncConflict(t *testing.T) {
	proj := &blockingProjector{Static: testProjector(), entered: make(chan struct{}), release: make(chan struct{})}
	srv, _ := newTestServerWithConfig(t, nil, proj)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- doRequest(srv, "POST", "/v1/sync/full-sync", "", nil)
	}()
	<-proj.entered

	w := doRequest(srv, "POST", "/v1/sync/full-sync", "", nil)
	apiErr := expectError(t, w, http.StatusConflict, ErrCodeSyncInProgress)
	require.NotEmpty(t, apiErr.RunID, "expected conflicting run id in error")

	w = doRequest(srv, "GET", "/v1/sync/status", "", nil)
	st := decode[engine.Status](t, w)
	assert.True(t, st.SyncInProgress)
	if assert.NotNil(t, st.CurrentRun) {
		assert.Equal(t, apiErr.RunID, st.CurrentRun.RunID)
	}

	close(proj.release)
	first := <-done
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.EqualValues(t, 1, srv.metrics.Snapshot().RunConflicts)
}

func TestMetricsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(srv, "GET", "/healthz", "", nil)
	doRequest(srv, "POST", "/v1/sync/initial-sync", "", nil)
	doRequest(srv, "POST", "/v1/sync/pending", "", PendingRequest{})

	w := doRequest(srv, "GET", "/metricz", "", nil)
	snap := decode[MetricsSnapshot](t, w)
	assert.GreaterOrEqual(t, snap.Requests, int64(3))
	assert.GreaterOrEqual(t, snap.ClientErrors, int64(1))
	assert.EqualValues(t, 1, snap.RunsStarted)

	w = doRequest(srv, "GET", "/metrics", "", nil)
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		"fieldsync_http_requests_total",
		`route="GET /healthz"`,
		"fieldsync_run_duration_seconds",
		`fieldsync_projected_records_total{entity_type="intervention"} 4`,
	} {
		assert.Contains(t, string(body), want)
	}
}
