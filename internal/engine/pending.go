package engine

import (
	"context"

	"github.com/marcus/fieldsync/internal/ledger"
)

// MaxPendingLimit is the largest explicit page size. A zero limit is not
// paged and returns every pending row.
const MaxPendingLimit = 5000

// PendingQuery selects what one device still needs.
type PendingQuery struct {
	DeviceID   string
	EntityType string
	// Direction is optional; empty matches both directions.
	Direction ledger.Direction
	// Limit caps the result; 0 returns everything.
	Limit int
}

// PendingService answers pending and dead-letter reads. It never writes.
type PendingService struct {
	store      Store
	maxRetries int
}

// NewPendingService creates a pending service. maxRetries > 0 hides failed
// rows that reached the cap; 0 retries forever.
func NewPendingService(store Store, maxRetries int) *PendingService {
	return &PendingService{store: store, maxRetries: maxRetries}
}

// MaxRetries returns the configured retry cap (0 means unlimited).
func (s *PendingService) MaxRetries() int { return s.maxRetries }

// GetPending returns pending and failed rows for a device, least recently
// updated first.
func (s *PendingService) GetPending(ctx context.Context, q PendingQuery) ([]ledger.Entry, error) {
	if q.DeviceID == "" {
		return nil, invalidf("deviceId is required")
	}
	if q.Direction != "" && !q.Direction.Valid() {
		return nil, invalidf("syncDirection must be %q or %q", ledger.Down, ledger.Up)
	}
	if q.Limit < 0 || q.Limit > MaxPendingLimit {
		return nil, invalidf("limit must be between 0 and %d", MaxPendingLimit)
	}

	entries, err := s.store.Pending(ctx, ledger.PendingFilter{
		DeviceID:   q.DeviceID,
		EntityType: q.EntityType,
		Direction:  q.Direction,
		MaxRetries: s.maxRetries,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, storageErr("get pending", err)
	}
	return entries, nil
}

// DeadLetter lists rows that exhausted the retry cap. With no cap it is
// always empty. An empty deviceID lists every device.
func (s *PendingService) DeadLetter(ctx context.Context, deviceID string, limit int) ([]ledger.Entry, error) {
	if limit < 0 {
		return nil, invalidf("limit must not be negative")
	}
	entries, err := s.store.DeadLetter(ctx, deviceID, s.maxRetries, limit)
	if err != nil {
		return nil, storageErr("dead letter", err)
	}
	return entries, nil
}
