package engine

import (
	"sync"
	"time"
)

// RunHolder describes the run currently owning the lock.
type RunHolder struct {
	RunID     string    `json:"runId"`
	Mode      Mode      `json:"mode"`
	StartedAt time.Time `json:"startedAt"`
}

// RunLock serializes bulk runs. A forced acquisition supersedes the current
// holder without stopping it; each acquisition gets a new generation and only
// the current generation's release frees the lock.
type RunLock struct {
	mu     sync.Mutex
	gen    uint64
	held   bool
	holder RunHolder
	active int
	host   *hostLock
}

// NewRunLock creates a process-local lock. When lockFile is non-empty the
// lock is also held as an OS file lock while any run of this process is active.
func NewRunLock(lockFile string) *RunLock {
	l := &RunLock{}
	if lockFile != "" {
		l.host = newHostLock(lockFile)
	}
	return l
}

// Lease is one successful acquisition of a RunLock.
type Lease struct {
	lock     *RunLock
	gen      uint64
	holder   RunHolder
	once     sync.Once
	previous *RunHolder
}

// Acquire takes the lock for holder. If the lock is held and force is false
// it returns a *ConflictError describing the current holder.
func (l *RunLock) Acquire(holder RunHolder, force bool) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var previous *RunHolder
	if l.held {
		if !force {
			return nil, &ConflictError{RunID: l.holder.RunID, Mode: l.holder.Mode, StartedAt: l.holder.StartedAt}
		}
		prev := l.holder
		previous = &prev
	}

	if l.active == 0 && l.host != nil {
		if err := l.host.acquire(holder.RunID); err != nil {
			return nil, err
		}
	}

	l.gen++
	l.held = true
	l.holder = holder
	l.active++
	return &Lease{lock: l, gen: l.gen, holder: holder, previous: previous}, nil
}

// Current returns the holder of the lock, if any.
func (l *RunLock) Current() (RunHolder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.held
}

// Release frees the lock if this lease is still the current one. It is safe
// to call more than once.
func (s *Lease) Release() {
	s.once.Do(func() {
		l := s.lock
		l.mu.Lock()
		defer l.mu.Unlock()

		if l.gen == s.gen {
			l.held = false
			l.holder = RunHolder{}
		}
		l.active--
		if l.active == 0 && l.host != nil {
			l.host.release()
		}
	})
}

// Superseded reports whether a forced run has taken the lock since this
// lease was acquired.
func (s *Lease) Superseded() bool {
	s.lock.mu.Lock()
	defer s.lock.mu.Unlock()
	return s.lock.gen != s.gen
}

// Previous returns the holder this lease superseded, or nil.
func (s *Lease) Previous() *RunHolder { return s.previous }
