package engine

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultRetentionDays is how long synced rows are kept.
	DefaultRetentionDays = 30
	// MaxRetentionDays bounds any sweep window (100 years).
	MaxRetentionDays = 36500
)

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	RetentionDays int
	Interval      time.Duration
	Notifier      Notifier
	Logger        *slog.Logger
}

// Sweeper deletes synced rows older than the retention window. Pending and
// failed rows are never deleted.
type Sweeper struct {
	store         Store
	retentionDays int
	interval      time.Duration
	notify        Notifier
	logger        *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(store Store, opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		store:         store,
		retentionDays: opts.RetentionDays,
		interval:      opts.Interval,
		notify:        opts.Notifier,
		logger:        opts.Logger,
	}
	if s.retentionDays <= 0 {
		s.retentionDays = DefaultRetentionDays
	}
	if s.interval <= 0 {
		s.interval = time.Hour
	}
	if s.notify == nil {
		s.notify = nopNotifier{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RetentionDays returns the configured retention window.
func (s *Sweeper) RetentionDays() int { return s.retentionDays }

// Sweep deletes synced rows last updated more than maxAgeDays ago and
// returns how many were deleted. maxAgeDays <= 0 uses the configured window.
func (s *Sweeper) Sweep(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = s.retentionDays
	}
	if maxAgeDays > MaxRetentionDays {
		return 0, invalidf("maxAgeDays must be at most %d", MaxRetentionDays)
	}
	n, err := s.store.Sweep(ctx, maxAgeDays)
	if err != nil {
		return 0, storageErr("sweep", err)
	}
	s.notify.Notify(ctx, Event{Type: EventSweepCompleted, Timestamp: time.Now().UTC(), Swept: n})
	return n, nil
}

// Run sweeps every interval until ctx is done. A panicking sweep is logged
// and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweeper panic", "panic", r)
		}
	}()
	n, err := s.Sweep(ctx, 0)
	if err != nil {
		s.logger.Error("sweep ledger", "err", err)
	} else if n > 0 {
		s.logger.Info("swept synced ledger rows", "count", n, "retention_days", s.retentionDays)
	}
}
