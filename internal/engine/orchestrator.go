package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/projector"
)

// Mode distinguishes the two bulk operations.
type Mode string

const (
	// ModeInitial seeds missing rows and leaves synced rows alone.
	ModeInitial Mode = "initial"
	// ModeFull re-seeds every projected row as pending.
	ModeFull Mode = "full"
)

// RunRequest parameterizes a bulk run.
type RunRequest struct {
	Force bool `json:"force"`
	// DeviceID restricts the run to one device; empty runs every device.
	DeviceID string `json:"deviceId,omitempty"`
}

// TypeResult is the outcome of one entity type step.
type TypeResult struct {
	EntityType string `json:"entityType"`
	Count      int    `json:"count"`
	Seeded     int64  `json:"seeded"`
	Devices    int    `json:"devices"`
	DurationMs int64  `json:"durationMs"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// RunSummary aggregates one bulk run.
type RunSummary struct {
	RunID           string       `json:"runId"`
	Mode            Mode         `json:"mode"`
	DeviceID        string       `json:"deviceId,omitempty"`
	StartedAt       time.Time    `json:"startedAt"`
	Timestamp       time.Time    `json:"timestamp"`
	Results         []TypeResult `json:"results"`
	TotalRecords    int          `json:"totalRecords"`
	TotalDurationMs int64        `json:"totalDurationMs"`
	Success         bool         `json:"success"`
	Partial         bool         `json:"partial"`
	Superseded      bool         `json:"superseded"`
	SupersededRunID string       `json:"supersededRunId,omitempty"`
}

// Failed returns the entity types whose step failed.
func (s *RunSummary) Failed() []string {
	var out []string
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r.EntityType)
		}
	}
	return out
}

// Options configures an Orchestrator.
type Options struct {
	Lock     *RunLock
	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Orchestrator runs InitialSync and FullSync, one at a time.
type Orchestrator struct {
	store  Store
	proj   projector.Projector
	dir    ScopeResolver
	lock   *RunLock
	notify Notifier
	logger *slog.Logger
	now    func() time.Time
}

// NewOrchestrator wires an orchestrator. Zero options get process-local
// locking, no notifications and the default logger.
func NewOrchestrator(store Store, proj projector.Projector, dir ScopeResolver, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		proj:   proj,
		dir:    dir,
		lock:   opts.Lock,
		notify: opts.Notifier,
		logger: opts.Logger,
		now:    opts.Clock,
	}
	if o.lock == nil {
		o.lock = NewRunLock("")
	}
	if o.notify == nil {
		o.notify = nopNotifier{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// InitialSync projects every entity type and inserts missing ledger rows as
// pending. Rows that already exist, including synced ones, are untouched.
func (o *Orchestrator) InitialSync(ctx context.Context, req RunRequest) (*RunSummary, error) {
	return o.run(ctx, ModeInitial, req)
}

// FullSync projects every entity type and resets every projected row to
// pending.
func (o *Orchestrator) FullSync(ctx context.Context, req RunRequest) (*RunSummary, error) {
	return o.run(ctx, ModeFull, req)
}

// InProgress reports the run holding the lock, if any.
func (o *Orchestrator) InProgress() (RunHolder, bool) {
	return o.lock.Current()
}

func (o *Orchestrator) run(ctx context.Context, mode Mode, req RunRequest) (*RunSummary, error) {
	holder := RunHolder{RunID: uuid.NewString(), Mode: mode, StartedAt: o.now().UTC()}
	lease, err := o.lock.Acquire(holder, req.Force)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	log := o.logger.With("run_id", holder.RunID, "mode", string(mode))
	if req.DeviceID != "" {
		log = log.With("device_id", req.DeviceID)
	}
	summary := &RunSummary{
		RunID:     holder.RunID,
		Mode:      mode,
		DeviceID:  req.DeviceID,
		StartedAt: holder.StartedAt,
		Results:   []TypeResult{},
	}
	if prev := lease.Previous(); prev != nil {
		summary.SupersededRunID = prev.RunID
		log.Warn("forced run supersedes active run", "previous_run_id", prev.RunID)
	}
	log.Info("sync run started")
	o.notify.Notify(ctx, Event{Type: EventRunStarted, Timestamp: holder.StartedAt, RunID: holder.RunID, Mode: mode})

	began := time.Now()
	scopes, err := o.scopes(ctx, req.DeviceID)
	if err != nil {
		o.fail(ctx, log, summary, err)
		return nil, err
	}

	seedMode := ledger.SeedMissing
	if mode == ModeFull {
		seedMode = ledger.SeedReset
	}

	for _, entityType := range o.proj.EntityTypes() {
		res, err := o.syncType(ctx, log, entityType, scopes, seedMode)
		summary.Results = append(summary.Results, res)
		if err != nil {
			o.fail(ctx, log, summary, err)
			return nil, err
		}
	}

	summary.Timestamp = o.now().UTC()
	summary.TotalDurationMs = time.Since(began).Milliseconds()
	failed := 0
	for _, r := range summary.Results {
		summary.TotalRecords += r.Count
		if !r.Success {
			failed++
		}
	}
	summary.Success = failed == 0 || failed < len(summary.Results)
	summary.Partial = failed > 0 && failed < len(summary.Results)
	summary.Superseded = lease.Superseded()

	o.record(ctx, log, summary)
	log.Info("sync run completed",
		"total_records", summary.TotalRecords,
		"duration_ms", summary.TotalDurationMs,
		"failed_types", failed,
		"superseded", summary.Superseded)
	o.notify.Notify(ctx, Event{Type: EventRunCompleted, Timestamp: summary.Timestamp, RunID: summary.RunID, Mode: mode, Summary: summary})
	return summary, nil
}

// scopes resolves the projection scope of every target device, in device order.
func (o *Orchestrator) scopes(ctx context.Context, deviceID string) ([]projector.Scope, error) {
	if deviceID != "" {
		scope, err := o.dir.Scope(ctx, deviceID)
		if errors.Is(err, projector.ErrUnknownDevice) {
			return nil, &NotFoundError{Kind: "device", ID: deviceID}
		}
		if err != nil {
			return nil, storageErr("resolve device", err)
		}
		return []projector.Scope{scope}, nil
	}

	devices, err := o.dir.Devices(ctx)
	if err != nil {
		return nil, storageErr("list devices", err)
	}
	scopes := make([]projector.Scope, 0, len(devices))
	for _, id := range devices {
		scope, err := o.dir.Scope(ctx, id)
		if err != nil {
			return nil, storageErr("resolve device", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// syncType projects one entity type for every device, then seeds the
// ledger. A projection failure fails the step with a zero count and nothing
// seeded; a ledger failure aborts the run.
func (o *Orchestrator) syncType(ctx context.Context, log *slog.Logger, entityType string, scopes []projector.Scope, mode ledger.SeedMode) (TypeResult, error) {
	began := time.Now()
	res := TypeResult{EntityType: entityType}

	projected := make([][]string, len(scopes))
	for i, scope := range scopes {
		ids, err := o.proj.Project(ctx, entityType, scope)
		if err != nil {
			var perr *projector.ProjectionError
			if !errors.As(err, &perr) {
				perr = &projector.ProjectionError{EntityType: entityType, Err: err}
			}
			res.Error = perr.Error()
			res.DurationMs = time.Since(began).Milliseconds()
			log.Error("projection failed", "entity_type", entityType, "device_id", scope.DeviceID, "err", perr.Err)
			return res, nil
		}
		projected[i] = ids
	}

	for i, scope := range scopes {
		n, err := o.store.Seed(ctx, mode, entityType, scope.DeviceID, ledger.Down, projected[i])
		if err != nil {
			res.Error = err.Error()
			res.DurationMs = time.Since(began).Milliseconds()
			return res, storageErr("seed "+entityType, err)
		}
		res.Count += len(projected[i])
		res.Seeded += n
	}

	res.Devices = len(scopes)
	res.Success = true
	res.DurationMs = time.Since(began).Milliseconds()
	log.Debug("entity type synced", "entity_type", entityType, "count", res.Count, "seeded", res.Seeded, "duration_ms", res.DurationMs)
	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, summary *RunSummary, err error) {
	summary.Timestamp = o.now().UTC()
	summary.Success = false
	o.record(ctx, log, summary)
	log.Error("sync run failed", "err", err)
	o.notify.Notify(ctx, Event{Type: EventRunFailed, Timestamp: summary.Timestamp, RunID: summary.RunID, Mode: summary.Mode, Error: err.Error()})
}

// record persists the run summary. History is best effort: a failure is
// logged and does not change the run outcome.
func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, s *RunSummary) {
	results, err := json.Marshal(s.Results)
	if err != nil {
		log.Warn("encode run results", "err", err)
		results = []byte("[]")
	}
	rec := ledger.RunRecord{
		ID:           s.RunID,
		Mode:         string(s.Mode),
		DeviceID:     s.DeviceID,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.Timestamp,
		TotalRecords: s.TotalRecords,
		DurationMs:   s.TotalDurationMs,
		Success:      s.Success,
		Partial:      s.Partial,
		Superseded:   s.Superseded,
		Results:      results,
	}
	if err := o.store.InsertRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("record sync run", "err", err)
	}
}
