package engine

import (
	"context"
	"fmt"

	"github.com/marcus/fieldsync/internal/ledger"
)

// defaultFailureMessage is stored when a device reports a failure without
// a reason.
const defaultFailureMessage = "unknown error"

// MaxBatchSize caps one batch acknowledgement.
const MaxBatchSize = 1000

// Ack is one client-reported outcome.
type Ack struct {
	EntityType   string           `json:"entityType"`
	EntityID     string           `json:"entityId"`
	DeviceID     string           `json:"deviceId"`
	Direction    ledger.Direction `json:"syncDirection,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

func (a Ack) key() (ledger.Key, error) {
	switch {
	case a.EntityType == "":
		return ledger.Key{}, invalidf("entityType is required")
	case a.EntityID == "":
		return ledger.Key{}, invalidf("entityId is required")
	case a.DeviceID == "":
		return ledger.Key{}, invalidf("deviceId is required")
	}
	dir := a.Direction
	if dir == "" {
		dir = ledger.Down
	}
	if !dir.Valid() {
		return ledger.Key{}, invalidf("syncDirection must be %q or %q", ledger.Down, ledger.Up)
	}
	return ledger.Key{EntityType: a.EntityType, EntityID: a.EntityID, DeviceID: a.DeviceID, Direction: dir}, nil
}

func (a Ack) failureMessage() string {
	if a.ErrorMessage == "" {
		return defaultFailureMessage
	}
	return a.ErrorMessage
}

// AckService records delivery outcomes. Both operations are upserts: an
// untracked tuple is created in the reported state.
type AckService struct {
	store Store
}

// NewAckService creates an acknowledgement service.
func NewAckService(store Store) *AckService {
	return &AckService{store: store}
}

// MarkSynced marks the tuple synced, stamps last sync and clears the error.
// The retry count is left as is.
func (s *AckService) MarkSynced(ctx context.Context, a Ack) error {
	k, err := a.key()
	if err != nil {
		return err
	}
	return storageErr("mark synced", s.store.MarkSynced(ctx, k))
}

// MarkFailed marks the tuple failed and increments its retry count. The row
// stays visible to pending queries.
func (s *AckService) MarkFailed(ctx context.Context, a Ack) error {
	k, err := a.key()
	if err != nil {
		return err
	}
	return storageErr("mark failed", s.store.MarkFailed(ctx, k, a.failureMessage()))
}

// Outcome values of a batch item.
const (
	OutcomeSynced = "synced"
	OutcomeFailed = "failed"
)

// BatchItem is one acknowledgement inside a batch.
type BatchItem struct {
	Ack
	Outcome string `json:"outcome"`
}

// BatchResult reports what happened to one batch item.
type BatchResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Apply validates every item and writes the valid ones in one transaction.
// Invalid items are reported per index and do not block the rest.
func (s *AckService) Apply(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	if len(items) == 0 {
		return nil, invalidf("items must not be empty")
	}
	if len(items) > MaxBatchSize {
		return nil, invalidf("at most %d items per batch", MaxBatchSize)
	}

	results := make([]BatchResult, len(items))
	outcomes := make([]ledger.Outcome, 0, len(items))
	for i, item := range items {
		results[i].Index = i
		k, err := item.key()
		if err == nil && item.Outcome != OutcomeSynced && item.Outcome != OutcomeFailed {
			err = invalidf("outcome must be %q or %q", OutcomeSynced, OutcomeFailed)
		}
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		o := ledger.Outcome{Key: k}
		if item.Outcome == OutcomeFailed {
			o.Failed = true
			o.ErrorMessage = item.failureMessage()
		}
		outcomes = append(outcomes, o)
		results[i].Success = true
	}

	if err := s.store.ApplyOutcomes(ctx, outcomes); err != nil {
		return nil, storageErr("apply batch", err)
	}
	return results, nil
}

// Lookup returns the ledger row of a tuple.
func (s *AckService) Lookup(ctx context.Context, a Ack) (*ledger.Entry, error) {
	k, err := a.key()
	if err != nil {
		return nil, err
	}
	e, err := s.store.Get(ctx, k)
	if err != nil {
		return nil, storageErr("get entry", err)
	}
	if e == nil {
		return nil, &NotFoundError{Kind: "ledger entry", ID: fmt.Sprint(k)}
	}
	return e, nil
}
