// Package jobstore implements the job store (spec §4.B): a key-value store
// over strings with per-key TTL reset on every write, and atomic
// read-then-write under the assumption of no concurrent writers per key.
//
// Keys are namespaced ("job:<id>", "query:<id>") to preserve the
// externally-visible split the status endpoint checks, even though both
// namespaces are backed by the same in-memory map.
package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/lakeflow/control-plane/internal/domain"
)

// entry pairs a stored job with its absolute expiry time.
type entry struct {
	job      domain.Job
	expireAt time.Time
}

// Store is an in-memory, mutex-guarded job store with TTL eviction,
// grounded on the teacher's internal/compute/cache.go map+RWMutex pattern.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration

	stopSweep chan struct{}
}

// New creates a Store with the given TTL and starts its background sweep.
func New(ttl time.Duration) *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		ttl:       ttl,
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background eviction sweep.
func (s *Store) Close() {
	close(s.stopSweep)
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expireAt) {
			delete(s.entries, k)
		}
	}
}

// namespacedKey builds the externally-visible "job:<id>" / "query:<id>" key.
func namespacedKey(kind domain.JobKind, id string) string {
	if kind == domain.JobKindQuery {
		return "query:" + id
	}
	return "job:" + id
}

// Create writes the initial queued record for a new job.
func (s *Store) Create(_ context.Context, kind domain.JobKind, id string, payload interface{}) (domain.Job, error) {
	now := time.Now()
	job := domain.Job{
		ID:        id,
		Kind:      kind,
		Status:    domain.JobStatusQueued,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[namespacedKey(kind, id)] = &entry{job: job, expireAt: now.Add(s.ttl)}
	return job, nil
}

// Get returns the job record for id, checking both namespaces, or
// domain.NotFoundError if absent or expired.
func (s *Store) Get(_ context.Context, id string) (domain.Job, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range []string{"job:" + id, "query:" + id} {
		if e, ok := s.entries[key]; ok {
			if now.After(e.expireAt) {
				continue
			}
			return e.job, nil
		}
	}
	return domain.Job{}, domain.ErrNotFound("job %q not found", id)
}

// StatusUpdate is the set of mutable fields a status update may change.
type StatusUpdate struct {
	Status     domain.JobStatus
	Message    string
	Result     interface{}
	DurationMS int64
}

// Update performs an atomic read-merge-write against the job's record,
// resetting its TTL. It is a no-op (logged, not fatal) if the key has
// already expired — callers are expected to log that case themselves,
// since this package has no logger of its own.
func (s *Store) Update(_ context.Context, id string, upd StatusUpdate) (domain.Job, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	var e *entry
	for _, k := range []string{"job:" + id, "query:" + id} {
		if candidate, ok := s.entries[k]; ok && !now.After(candidate.expireAt) {
			key, e = k, candidate
			break
		}
	}
	if e == nil {
		return domain.Job{}, domain.ErrNotFound("job %q not found or expired", id)
	}

	job := e.job
	job.Status = upd.Status
	job.Message = upd.Message
	if upd.Status == domain.JobStatusCompleted {
		job.Result = upd.Result
	}
	if upd.Status.Terminal() {
		job.DurationMS = upd.DurationMS
	}
	job.UpdatedAt = now

	s.entries[key] = &entry{job: job, expireAt: now.Add(s.ttl)}
	return job, nil
}

// IncrementAttempt bumps the attempt counter on redelivery, without
// otherwise altering status. Safe to call even if the current status is
// already processing (redeliveries revisit the same job).
func (s *Store) IncrementAttempt(_ context.Context, id string) (domain.Job, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	var e *entry
	for _, k := range []string{"job:" + id, "query:" + id} {
		if candidate, ok := s.entries[k]; ok && !now.After(candidate.expireAt) {
			key, e = k, candidate
			break
		}
	}
	if e == nil {
		return domain.Job{}, domain.ErrNotFound("job %q not found or expired", id)
	}

	job := e.job
	job.Attempt++
	job.UpdatedAt = now
	s.entries[key] = &entry{job: job, expireAt: now.Add(s.ttl)}
	return job, nil
}
