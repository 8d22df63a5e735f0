package lockwatch

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry collects the mutexes whose contention should be reported by
// health checks. Each daemon owns its own Registry.
type Registry struct {
	mu      sync.Mutex
	mutexes map[string]*Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mutexes: make(map[string]*Mutex)}
}

// Register adds m, replacing any mutex previously registered under the same name.
func (r *Registry) Register(m *Mutex) {
	if r == nil || m == nil {
		return
	}
	r.mu.Lock()
	r.mutexes[m.Name()] = m
	r.mu.Unlock()
}

// NewMutex creates a Mutex and registers it in one step.
func (r *Registry) NewMutex(name string) *Mutex {
	m := New(name)
	r.Register(m)
	return m
}

// Snapshots returns one snapshot per registered mutex, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	mutexes := make([]*Mutex, 0, len(r.mutexes))
	for _, m := range r.mutexes {
		mutexes = append(mutexes, m)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(mutexes))
	for _, m := range mutexes {
		snaps = append(snaps, m.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Warnings describes every mutex whose worst wait exceeds waitThreshold or
// that is currently held longer than holdThreshold.
func (r *Registry) Warnings(waitThreshold, holdThreshold time.Duration) []string {
	var warnings []string
	for _, snap := range r.Snapshots() {
		if snap.MaxWait > waitThreshold {
			warnings = append(warnings, fmt.Sprintf("%s wait exceeded %.2fs (max %.2fs)",
				snap.Name, waitThreshold.Seconds(), snap.MaxWait.Seconds()))
		}
		if snap.Locked && snap.HoldDuration > holdThreshold {
			warnings = append(warnings, fmt.Sprintf("%s held for %.2fs", snap.Name, snap.HoldDuration.Seconds()))
		}
	}
	return warnings
}
