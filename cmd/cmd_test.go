package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/syncclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a fake server that captures requests and replies with a
// canned body.
type recorder struct {
	mu      sync.Mutex
	paths   []string
	bodies  []string
	headers []http.Header
	status  int
	reply   string
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	rec.paths = append(rec.paths, r.Method+" "+r.URL.RequestURI())
	rec.bodies = append(rec.bodies, string(body))
	rec.headers = append(rec.headers, r.Header.Clone())

	w.Header().Set("Content-Type", "application/json")
	if rec.status != 0 {
		w.WriteHeader(rec.status)
	}
	w.Write([]byte(rec.reply))
}

func runCLI(t *testing.T, rec *recorder, args ...string) error {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	globals = clientFlags{}
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.Execute()
}

func TestAckSyncedSendsAck(t *testing.T) {
	rec := &recorder{reply: `{"success":true}`}
	err := runCLI(t, rec, "ack", "synced", "D1", "customer", "C1", "--direction", "up", "--token", "s3cret")
	require.NoError(t, err)

	require.Equal(t, []string{"POST /v1/sync/mark-synced"}, rec.paths)
	var ack engine.Ack
	require.NoError(t, json.Unmarshal([]byte(rec.bodies[0]), &ack))
	assert.Equal(t, engine.Ack{DeviceID: "D1", EntityType: "customer", EntityID: "C1", Direction: ledger.Up}, ack)
	assert.Equal(t, "Bearer s3cret", rec.headers[0].Get("Authorization"))
}

func TestAckFailedManyIdsSendsBatch(t *testing.T) {
	rootCmd.SetIn(strings.NewReader("C2\nC3\n"))
	t.Cleanup(func() { rootCmd.SetIn(nil) })

	rec := &recorder{reply: `{"applied":3,"results":[{"index":0,"success":true},{"index":1,"success":true},{"index":2,"success":true}]}`}
	require.NoError(t, runCLI(t, rec, "ack", "failed", "D1", "customer", "C1", "-", "-e", "timeout"))
	require.NotEmpty(t, rec.paths)
	require.Equal(t, "POST /v1/sync/ack-batch", rec.paths[0])

	var body struct {
		Items []engine.BatchItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(rec.bodies[0]), &body))
	require.Len(t, body.Items, 3)
	assert.Equal(t, "C3", body.Items[2].EntityID)
	for _, item := range body.Items {
		assert.Equal(t, engine.OutcomeFailed, item.Outcome)
		assert.Equal(t, "timeout", item.ErrorMessage)
	}
}

func TestPendingSendsFilters(t *testing.T) {
	rec := &recorder{reply: `[]`}
	require.NoError(t, runCLI(t, rec, "pending", "D2", "--type", "intervention", "-n", "5", "--json"))
	var req syncclient.PendingRequest
	require.NoError(t, json.Unmarshal([]byte(rec.bodies[0]), &req))
	assert.Equal(t, "D2", req.DeviceID)
	assert.Equal(t, "intervention", req.EntityType)
	assert.Equal(t, 5, req.Limit)
	assert.Empty(t, req.Direction, "empty direction covers both")
	assert.Contains(t, pendingCmd.Flags().Lookup("direction").Usage, "both")
}

func TestInitialSyncConflict(t *testing.T) {
	rec := &recorder{
		status: http.StatusConflict,
		reply:  `{"error":{"code":"sync_in_progress","message":"initial sync run r-1 in progress","runId":"r-1"}}`,
	}
	err := runCLI(t, rec, "sync", "initial", "--force=false")
	require.ErrorIs(t, err, syncclient.ErrConflict)
	assert.Equal(t, "sync_in_progress", errorCode(err))
	assert.Equal(t, "POST /v1/sync/initial-sync", rec.paths[0])
}

func TestAckBatchReportsRejectedItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	items := `[{"entityType":"customer","entityId":"C1","deviceId":"D1","outcome":"synced"},
	           {"entityType":"customer","entityId":"","deviceId":"D1","outcome":"synced"}]`
	require.NoError(t, os.WriteFile(path, []byte(items), 0644))

	rec := &recorder{reply: `{"applied":1,"results":[{"index":0,"success":true},{"index":1,"success":false,"error":"entityId is required"}]}`}
	err := runCLI(t, rec, "ack", "batch", path)
	assert.ErrorContains(t, err, "1 of 2 items rejected")
}

func TestSweepRequiresConfirmationWithoutTerminal(t *testing.T) {
	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = orig })

	rec := &recorder{reply: `{"deleted":0,"maxAgeDays":30}`}
	err := runCLI(t, rec, "sweep", "--yes=false")
	require.ErrorContains(t, err, "--yes")
	assert.Empty(t, rec.paths, "no request expected")

	require.NoError(t, runCLI(t, rec, "sweep", "--days", "7", "--yes"))
	assert.Equal(t, `{"maxAgeDays":7}`, rec.bodies[0])
}

func TestRunSummaryFromRecord(t *testing.T) {
	results, _ := json.Marshal([]engine.TypeResult{
		{EntityType: "customer", Count: 3, Success: true},
		{EntityType: "project", Error: "boom"},
	})
	rec := &ledger.RunRecord{
		ID:           "run-9",
		Mode:         "full",
		StartedAt:    time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
		TotalRecords: 3,
		Success:      true,
		Partial:      true,
		Results:      results,
	}

	s := runSummary(rec)
	assert.Equal(t, engine.ModeFull, s.Mode)
	assert.Equal(t, "run-9", s.RunID)
	assert.True(t, s.Partial)
	assert.Equal(t, []string{"project"}, s.Failed())

	rec.Results = json.RawMessage(`not json`)
	assert.Empty(t, runSummary(rec).Results, "undecodable results should leave the table empty")
}

func TestUnknownFlagSuggestions(t *testing.T) {
	rec := &recorder{reply: `[]`}
	err := runCLI(t, rec, "pending", "D1", "--typ", "customer")
	require.ErrorContains(t, err, "did you mean --type?")

	err = runCLI(t, rec, "sweep", "--retention", "7")
	require.ErrorContains(t, err, "try --days")
	assert.Empty(t, rec.paths, "no request expected")
}

func TestErrorCodeFallback(t *testing.T) {
	assert.Equal(t, "cli_error", errorCode(errors.New("dial tcp: refused")))
}
