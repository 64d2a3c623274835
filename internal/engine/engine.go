// Package engine runs bulk projection into the sync ledger and serves the
// pending, acknowledgement and retention operations devices and operators
// call.
package engine

import (
	"context"
	"time"

	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/projector"
)

// Store is the ledger surface the engine needs.
type Store interface {
	Seed(ctx context.Context, mode ledger.SeedMode, entityType, deviceID string, dir ledger.Direction, ids []string) (int64, error)
	MarkSynced(ctx context.Context, k ledger.Key) error
	MarkFailed(ctx context.Context, k ledger.Key, errMsg string) error
	ApplyOutcomes(ctx context.Context, outcomes []ledger.Outcome) error
	Get(ctx context.Context, k ledger.Key) (*ledger.Entry, error)
	Pending(ctx context.Context, f ledger.PendingFilter) ([]ledger.Entry, error)
	DeadLetter(ctx context.Context, deviceID string, maxRetries, limit int) ([]ledger.Entry, error)
	Sweep(ctx context.Context, maxAgeDays int) (int64, error)
	Stats(ctx context.Context) ([]ledger.TableStats, error)
	InsertRun(ctx context.Context, r ledger.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error)
	GetRun(ctx context.Context, id string) (*ledger.RunRecord, error)
	LastSuccessfulRun(ctx context.Context) (*ledger.RunRecord, error)
}

// ScopeResolver lists devices and resolves their projection scopes.
type ScopeResolver interface {
	Devices(ctx context.Context) ([]string, error)
	Scope(ctx context.Context, deviceID string) (projector.Scope, error)
}

var _ Store = (*ledger.Ledger)(nil)
var _ ScopeResolver = (*projector.Directory)(nil)

// Event types published to notifiers.
const (
	EventRunStarted     = "run_started"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
	EventSweepCompleted = "sweep_completed"
)

// Event is a run or sweep lifecycle notification.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	RunID     string      `json:"runId,omitempty"`
	Mode      Mode        `json:"mode,omitempty"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Swept     int64       `json:"swept,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Notifiers fans an event out to each notifier in order.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
