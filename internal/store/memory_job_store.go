package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixeltensor/internal/domain"
)

// MemoryJobStore keeps jobs and usage logs in process memory. It backs the
// API when no database is configured and the tests.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status, outputKey, failure string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
		job.Failure = failure
		if outputKey != "" {
			job.OutputKey = outputKey
		}
	})
}

func (s *MemoryJobStore) update(id string, apply func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	apply(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of the recorded usage for one user.
func (s *MemoryJobStore) UsageLogs(userID string) []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.UsageLog
	for _, u := range s.usage {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	return out
}
