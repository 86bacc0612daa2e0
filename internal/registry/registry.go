// Package registry provides the concurrency-safe in-memory store of
// generation job records. Each record's mutation is serialized under a single
// mutex; reads return fully-formed snapshots, never live references. Once a
// job reaches a terminal status the record is frozen and further updates are
// silently dropped.
package registry

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/calder/mirage/internal/model"
)

// ErrNotFound is returned when a job id is unknown to the registry.
var ErrNotFound = errors.New("generation not found")

// Patch describes a partial update to a job record. Nil fields are left
// untouched.
type Patch struct {
	Status        *string
	Progress      *float64
	Message       *string
	EstimatedTime *int
	Result        *model.GenerationRecord
}

// Registry is the shared store of job records keyed by job id.
type Registry struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	onChange func(model.Job)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		jobs: make(map[string]*model.Job),
	}
}

// OnChange registers a callback invoked with a snapshot after every effective
// update (including Create). Used to wake progress stream subscribers. Must be
// set before the registry is shared; the callback must not block.
func (r *Registry) OnChange(fn func(model.Job)) {
	r.onChange = fn
}

// Create allocates a fresh job id, inserts the record, and returns the id.
func (r *Registry) Create(userID, status string, progress float64, message string, estimatedTime *int) string {
	job := &model.Job{
		ID:            model.NewID(),
		UserID:        userID,
		Status:        status,
		Progress:      progress,
		Message:       message,
		EstimatedTime: cloneInt(estimatedTime),
		CreatedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	snap := snapshot(job)
	r.mu.Unlock()

	r.notify(snap)
	return job.ID
}

// Get returns a snapshot of the job record, or ErrNotFound.
func (r *Registry) Get(id string) (model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return snapshot(job), nil
}

// Update atomically merges the patch into the record and returns the
// resulting snapshot. Terminal records are frozen, and a patch carrying a
// status the transition table forbids is dropped the same way: unchanged
// current snapshot back, no error. Progress never decreases while the job is
// non-terminal; a patch carrying a lower value is clamped to the current one.
func (r *Registry) Update(id string, p Patch) (model.Job, error) {
	r.mu.Lock()

	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return model.Job{}, ErrNotFound
	}
	if model.Terminal(job.Status) {
		snap := snapshot(job)
		r.mu.Unlock()
		return snap, nil
	}
	if p.Status != nil && *p.Status != job.Status && !model.ValidTransition(job.Status, *p.Status) {
		snap := snapshot(job)
		r.mu.Unlock()
		return snap, nil
	}

	toTerminal := p.Status != nil && model.Terminal(*p.Status)

	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Progress != nil {
		if toTerminal || *p.Progress > job.Progress {
			job.Progress = *p.Progress
		}
	}
	if p.Message != nil {
		job.Message = *p.Message
	}
	if p.EstimatedTime != nil {
		job.EstimatedTime = cloneInt(p.EstimatedTime)
	}
	if p.Result != nil {
		job.Result = cloneRecord(p.Result)
	}

	snap := snapshot(job)
	r.mu.Unlock()

	r.notify(snap)
	return snap, nil
}

// Remove deletes the record. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *Registry) notify(snap model.Job) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}

// snapshot deep-copies a record so callers never share memory with the
// stored one. Caller must hold r.mu.
func snapshot(job *model.Job) model.Job {
	snap := *job
	snap.EstimatedTime = cloneInt(job.EstimatedTime)
	snap.Result = cloneRecord(job.Result)
	return snap
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneRecord(rec *model.GenerationRecord) *model.GenerationRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	c.ImageURLs = slices.Clone(rec.ImageURLs)
	return &c
}
