package lockwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const waitHistory = 100

// ErrAcquireTimeout is returned by LockTimeout when the guard stays held past the deadline.
var ErrAcquireTimeout = errors.New("lock acquisition timed out")

// Mutex is a mutual exclusion lock that records how long callers wait for it
// and how long it stays held. The zero value is not usable; call New.
type Mutex struct {
	name string
	sem  chan struct{}

	waiters atomic.Int64

	mu         sync.Mutex
	waits      [waitHistory]time.Duration
	waitCount  int
	waitNext   int
	maxWait    time.Duration
	acquiredAt time.Time
}

// Snapshot is a point-in-time view of a Mutex's contention counters.
type Snapshot struct {
	Name         string        `json:"name"`
	Locked       bool          `json:"locked"`
	MaxWait      time.Duration `json:"max_wait"`
	MeanWait     time.Duration `json:"mean_wait"`
	Waiters      int           `json:"waiters"`
	HoldDuration time.Duration `json:"hold_duration"`
}

// New returns an unlocked Mutex identified by name in snapshots and warnings.
func New(name string) *Mutex {
	return &Mutex{name: name, sem: make(chan struct{}, 1)}
}

// Name returns the diagnostic name.
func (m *Mutex) Name() string { return m.name }

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	start := time.Now()
	m.waiters.Add(1)
	m.sem <- struct{}{}
	m.waiters.Add(-1)
	m.acquired(start)
}

// LockContext acquires the mutex or returns ctx.Err() if ctx ends first.
func (m *Mutex) LockContext(ctx context.Context) error {
	start := time.Now()
	m.waiters.Add(1)
	select {
	case m.sem <- struct{}{}:
		m.waiters.Add(-1)
		m.acquired(start)
		return nil
	case <-ctx.Done():
		m.waiters.Add(-1)
		return ctx.Err()
	}
}

// LockTimeout acquires the mutex or fails with ErrAcquireTimeout after d.
func (m *Mutex) LockTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := m.LockContext(ctx); err != nil {
		return fmt.Errorf("%s: %w after %s", m.name, ErrAcquireTimeout, d)
	}
	return nil
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock() bool {
	select {
	case m.sem <- struct{}{}:
		m.acquired(time.Now())
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unlocked Mutex panics.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	m.acquiredAt = time.Time{}
	m.mu.Unlock()
	select {
	case <-m.sem:
	default:
		panic("lockwatch: unlock of unlocked mutex " + m.name)
	}
}

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool {
	return len(m.sem) == 1
}

func (m *Mutex) acquired(start time.Time) {
	now := time.Now()
	waited := now.Sub(start)
	m.mu.Lock()
	m.waits[m.waitNext] = waited
	m.waitNext = (m.waitNext + 1) % waitHistory
	if m.waitCount < waitHistory {
		m.waitCount++
	}
	if waited > m.maxWait {
		m.maxWait = waited
	}
	m.acquiredAt = now
	m.mu.Unlock()
}

// Snapshot captures the current counters without acquiring the lock itself.
func (m *Mutex) Snapshot() Snapshot {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Name:    m.name,
		Locked:  m.Locked(),
		MaxWait: m.maxWait,
		Waiters: int(m.waiters.Load()),
	}
	if m.waitCount > 0 {
		var total time.Duration
		for i := 0; i < m.waitCount; i++ {
			total += m.waits[i]
		}
		snap.MeanWait = total / time.Duration(m.waitCount)
	}
	if !m.acquiredAt.IsZero() {
		snap.HoldDuration = now.Sub(m.acquiredAt)
	}
	return snap
}
