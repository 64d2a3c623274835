package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
)

const (
	defRunsLimit       = 20
	maxRunsLimit       = 200
	defDeadLetterLimit = 500
)

// PendingRequest is the JSON body for POST /v1/sync/pending.
type PendingRequest struct {
	DeviceID   string           `json:"deviceId"`
	EntityType string           `json:"entityType,omitempty"`
	Direction  ledger.Direction `json:"syncDirection,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// AckResponse is returned by mark-synced and mark-failed.
type AckResponse struct {
	Success bool `json:"success"`
}

// AckBatchRequest is the JSON body for POST /v1/sync/ack-batch.
type AckBatchRequest struct {
	Items []engine.BatchItem `json:"items"`
}

// AckBatchResponse reports per-item results of a batch acknowledgement.
type AckBatchResponse struct {
	Applied int                  `json:"applied"`
	Results []engine.BatchResult `json:"results"`
}

// SweepRequest is the JSON body for POST /v1/sync/sweep.
type SweepRequest struct {
	MaxAgeDays int `json:"maxAgeDays,omitempty"`
}

// SweepResponse reports how many rows a sweep removed.
type SweepResponse struct {
	Deleted    int64 `json:"deleted"`
	MaxAgeDays int   `json:"maxAgeDays"`
}

// decodeBody reads an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid json body: %v", err)
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// handleRun handles POST /v1/sync/initial-sync and /v1/sync/full-sync.
// The run is detached from the request so a disconnecting caller cannot
// cancel it halfway; SYNC_RUN_TIMEOUT bounds it instead.
func (s *Server) handleRun(mode engine.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req engine.RunRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}

		ctx := context.WithoutCancel(r.Context())
		if s.config.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
			defer cancel()
		}

		var (
			summary *engine.RunSummary
			err     error
		)
		if mode == engine.ModeFull {
			summary, err = s.orch.FullSync(ctx, req)
		} else {
			summary, err = s.orch.InitialSync(ctx, req)
		}
		if err != nil {
			var conflict *engine.ConflictError
			if errors.As(err, &conflict) {
				s.metrics.RecordConflict()
			}
			writeEngineError(w, r, err)
			return
		}

		logFor(r.Context()).Info("sync run finished",
			"run_id", summary.RunID,
			"mode", summary.Mode,
			"records", summary.TotalRecords,
			"success", summary.Success,
			"partial", summary.Partial,
		)
		writeJSON(w, http.StatusOK, summary)
	}
}

// handleStatus handles GET /v1/sync/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Status(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStats handles GET /v1/sync/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Stats(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if stats == nil {
		stats = []ledger.TableStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListRuns handles GET /v1/sync/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defRunsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	runs, err := s.orch.Runs(r.Context(), limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if runs == nil {
		runs = []ledger.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /v1/sync/runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handlePending handles POST /v1/sync/pending.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	var req PendingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	entries, err := s.pending.GetPending(r.Context(), engine.PendingQuery{
		DeviceID:   req.DeviceID,
		EntityType: req.EntityType,
		Direction:  req.Direction,
		Limit:      req.Limit,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDeadLetter handles GET /v1/sync/dead-letter.
func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defDeadLetterLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	entries, err := s.pending.DeadLetter(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetEntry handles GET /v1/sync/entry.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entry, err := s.acks.Lookup(r.Context(), engine.Ack{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		DeviceID:   q.Get("device_id"),
		Direction:  ledger.Direction(q.Get("sync_direction")),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleMarkSynced handles POST /v1/sync/mark-synced.
func (s *Server) handleMarkSynced(w http.ResponseWriter, r *http.Request) {
	var ack engine.Ack
	if err := decodeBody(r, &ack); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := s.acks.MarkSynced(r.Context(), ack); err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.metrics.RecordAck(engine.OutcomeSynced)
	writeJSON(w, http.StatusOK, AckResponse{Success: true})
}

// handleMarkFailed handles POST /v1/sync/mark-failed.
func (s *Server) handleMarkFailed(w http.ResponseWriter, r *http.Request) {
	var ack engine.Ack
	if err := decodeBody(r, &ack); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := s.acks.MarkFailed(r.Context(), ack); err != nil {
		writeEngineError(w, r, err)
		return
	}
	logFor(r.Context()).Debug("device reported failure",
		"device_id", ack.DeviceID,
		"entity_type", ack.EntityType,
		"entity_id", ack.EntityID,
	)
	s.metrics.RecordAck(engine.OutcomeFailed)
	writeJSON(w, http.StatusOK, AckResponse{Success: true})
}

// handleAckBatch handles POST /v1/sync/ack-batch.
func (s *Server) handleAckBatch(w http.ResponseWriter, r *http.Request) {
	var req AckBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	results, err := s.acks.Apply(r.Context(), req.Items)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	resp := AckBatchResponse{Results: results}
	for i, res := range results {
		if !res.Success {
			continue
		}
		resp.Applied++
		s.metrics.RecordAck(req.Items[i].Outcome)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSweep handles POST /v1/sync/sweep.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if req.MaxAgeDays < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "maxAgeDays must not be negative")
		return
	}

	n, err := s.sweeper.Sweep(r.Context(), req.MaxAgeDays)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	days := req.MaxAgeDays
	if days == 0 {
		days = s.sweeper.RetentionDays()
	}
	writeJSON(w, http.StatusOK, SweepResponse{Deleted: n, MaxAgeDays: days})
}
