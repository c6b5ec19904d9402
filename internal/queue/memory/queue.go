// Package memory provides an in-process queue for tests and single-node
// development. It honors the same lifecycle contract as the Postgres queue.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Queue is a mutex-guarded in-memory implementation of pipeline.Queue.
type Queue struct {
	mu         sync.Mutex
	entries    map[string]*pipeline.QueueEntry
	maxRetries int
	clock      pipeline.Clock
}

// NewQueue constructs an empty queue.
func NewQueue(maxRetries int, clock pipeline.Clock) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{
		entries:    make(map[string]*pipeline.QueueEntry),
		maxRetries: maxRetries,
		clock:      clock,
	}
}

// Enqueue registers a document for processing. Completed entries are left
// alone unless force is set.
func (q *Queue) Enqueue(_ context.Context, packageID, sourceURL string, priority int, force bool) error {
	if packageID == "" {
		return fmt.Errorf("package id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	existing, ok := q.entries[packageID]
	if ok {
		switch existing.Status {
		case pipeline.StatusCompleted:
			if !force {
				return nil
			}
		case pipeline.StatusFailed:
		default:
			// Already queued or in flight.
			return nil
		}
		existing.SourceURL = sourceURL
		existing.Priority = priority
		existing.Status = pipeline.StatusPending
		existing.RetryCount = 0
		existing.LastError = ""
		existing.WorkerID = ""
		existing.StartedAt = nil
		existing.CompletedAt = nil
		existing.UpdatedAt = now
		return nil
	}

	q.entries[packageID] = &pipeline.QueueEntry{
		PackageID: packageID,
		SourceURL: sourceURL,
		Status:    pipeline.StatusPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// ClaimBatch moves up to max pending entries to downloading, ordered by
// priority desc then creation time asc.
func (q *Queue) ClaimBatch(_ context.Context, max int, workerID string) ([]pipeline.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*pipeline.QueueEntry
	for _, e := range q.entries {
		if e.Status == pipeline.StatusPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > max {
		pending = pending[:max]
	}

	now := q.clock.Now()
	claimed := make([]pipeline.QueueEntry, 0, len(pending))
	for _, e := range pending {
		e.Status = pipeline.StatusDownloading
		e.WorkerID = workerID
		started := now
		e.StartedAt = &started
		e.UpdatedAt = now
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

// MarkProcessing advances a claimed entry from downloading to processing.
func (q *Queue) MarkProcessing(_ context.Context, packageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[packageID]
	if !ok || e.Status != pipeline.StatusDownloading {
		return fmt.Errorf("mark processing %s: entry not in downloading state", packageID)
	}
	e.Status = pipeline.StatusProcessing
	e.UpdatedAt = q.clock.Now()
	return nil
}

// MarkResult records the outcome of one document.
func (q *Queue) MarkResult(_ context.Context, packageID string, outcome pipeline.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[packageID]
	if !ok || (e.Status != pipeline.StatusDownloading && e.Status != pipeline.StatusProcessing) {
		return fmt.Errorf("mark result %s: entry not claimed", packageID)
	}

	now := q.clock.Now()
	e.UpdatedAt = now
	if outcome.Succeeded() {
		e.Status = pipeline.StatusCompleted
		completed := now
		e.CompletedAt = &completed
		e.LastError = ""
		return nil
	}

	e.LastError = outcome.Err.Error()
	e.WorkerID = ""
	e.StartedAt = nil
	// Only failures that return to the queue consume budget. Terminal
	// failures leave retry_count untouched, so a permanent failure keeps
	// retry_count 0 and the count never exceeds maxRetries.
	if outcome.Class.Retryable() && e.RetryCount < q.maxRetries {
		e.RetryCount++
		e.Status = pipeline.StatusPending
	} else {
		e.Status = pipeline.StatusFailed
	}
	return nil
}

// Requeue resets a failed entry to pending. Operator action only.
func (q *Queue) Requeue(_ context.Context, packageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[packageID]
	if !ok || e.Status != pipeline.StatusFailed {
		return fmt.Errorf("requeue %s: entry not in failed state", packageID)
	}
	e.Status = pipeline.StatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.WorkerID = ""
	e.StartedAt = nil
	e.CompletedAt = nil
	e.UpdatedAt = q.clock.Now()
	return nil
}

// SweepStale resets claimed entries whose lease expired back to pending.
func (q *Queue) SweepStale(_ context.Context, leaseTimeout time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	recovered := 0
	for _, e := range q.entries {
		if e.Status != pipeline.StatusDownloading && e.Status != pipeline.StatusProcessing {
			continue
		}
		if e.StartedAt == nil || now.Sub(*e.StartedAt) <= leaseTimeout {
			continue
		}
		e.Status = pipeline.StatusPending
		e.WorkerID = ""
		e.StartedAt = nil
		e.UpdatedAt = now
		recovered++
	}
	return recovered, nil
}

// Depth counts entries per lifecycle state.
func (q *Queue) Depth(_ context.Context) (pipeline.QueueDepth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var depth pipeline.QueueDepth
	for _, e := range q.entries {
		switch e.Status {
		case pipeline.StatusPending:
			depth.Pending++
		case pipeline.StatusDownloading:
			depth.Downloading++
		case pipeline.StatusProcessing:
			depth.Processing++
		case pipeline.StatusCompleted:
			depth.Completed++
		case pipeline.StatusFailed:
			depth.Failed++
		}
	}
	return depth, nil
}

// Get fetches one entry by package id.
func (q *Queue) Get(_ context.Context, packageID string) (pipeline.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[packageID]
	if !ok {
		return pipeline.QueueEntry{}, fmt.Errorf("entry %s not found", packageID)
	}
	return *e, nil
}
