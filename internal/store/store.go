package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CZERTAINLY/Jobber/internal/model"

	"github.com/google/uuid"
)

// Store is an in-memory registry of jobs. Callers only ever receive
// detached copies, the stored records are mutated through Update alone.
type Store struct {
	mx   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func New() *Store {
	return &Store{
		jobs: make(map[string]*model.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores job under a fresh id with status pending and returns
// the stored copy. Any id or status on the argument is ignored.
func (s *Store) Create(ctx context.Context, job model.Job) (model.Job, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return model.Job{}, fmt.Errorf("generating job id: %w", err)
	}

	stored := job.Clone()
	stored.ID = id.String()
	stored.Status = model.StatusPending
	stored.Created = s.now()

	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.jobs[stored.ID]; ok {
		return model.Job{}, fmt.Errorf("job id %s already used", stored.ID)
	}
	s.jobs[stored.ID] = &stored
	slog.DebugContext(ctx, "job stored", slog.String("job_id", stored.ID))
	return stored.Clone(), nil
}

// Get returns the job identified by 'id' on success,
// ErrNotFound when it does not exist.
func (s *Store) Get(_ context.Context, id string) (model.Job, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return job.Clone(), nil
}

// Update applies transform to a working copy of the job identified by 'id'
// and stores the result when transform returns nil. The job is left untouched
// if transform fails. Concurrent updates and reads never interleave.
func (s *Store) Update(_ context.Context, id string, transform func(*model.Job) error) (model.Job, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}

	work := job.Clone()
	if err := transform(&work); err != nil {
		return model.Job{}, err
	}
	// id and creation time are immutable
	work.ID = job.ID
	work.Created = job.Created
	s.jobs[id] = &work
	return work.Clone(), nil
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return len(s.jobs)
}
