package engine

import (
	"context"
	"time"

	"github.com/marcus/fieldsync/internal/ledger"
)

// Status is the operator view of the ledger and the run lock.
type Status struct {
	InitialSyncCompleted bool                `json:"initialSyncCompleted"`
	LastSyncDate         *time.Time          `json:"lastSyncDate"`
	SyncInProgress       bool                `json:"syncInProgress"`
	CurrentRun           *RunHolder          `json:"currentRun,omitempty"`
	PerTableStats        []ledger.TableStats `json:"perTableStats"`
	TotalSynced          int64               `json:"totalSynced"`
	TotalPending         int64               `json:"totalPending"`
}

// Stats returns per entity type ledger counts.
func (o *Orchestrator) Stats(ctx context.Context) ([]ledger.TableStats, error) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	return stats, nil
}

// Status combines ledger counts, run history and the lock state.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	stats, err := o.Stats(ctx)
	if err != nil {
		return nil, err
	}
	last, err := o.store.LastSuccessfulRun(ctx)
	if err != nil {
		return nil, storageErr("last run", err)
	}

	st := &Status{PerTableStats: stats}
	st.TotalSynced, st.TotalPending = ledger.Totals(stats)
	if last != nil {
		st.InitialSyncCompleted = true
		finished := last.FinishedAt
		st.LastSyncDate = &finished
	}
	if holder, ok := o.lock.Current(); ok {
		st.SyncInProgress = true
		st.CurrentRun = &holder
	}
	return st, nil
}

// Runs returns the most recent bulk runs, newest first.
func (o *Orchestrator) Runs(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	runs, err := o.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	return runs, nil
}

// Run returns one recorded run.
func (o *Orchestrator) Run(ctx context.Context, id string) (*ledger.RunRecord, error) {
	r, err := o.store.GetRun(ctx, id)
	if err != nil {
		return nil, storageErr("get run", err)
	}
	if r == nil {
		return nil, &NotFoundError{Kind: "run", ID: id}
	}
	return r, nil
}
