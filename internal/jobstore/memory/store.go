// Package memory provides an in-memory jobstore.Store for development,
// tests, and single-process deployments with no durability requirement.
package memory

import (
	"context"
	"sync"

	"github.com/fieldcrawl/crawler/internal/jobstore"
	"github.com/fieldcrawl/crawler/internal/progress"
)

// Store is a jobstore.Store backed by a guarded map.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]jobstore.Job
}

// New constructs an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]jobstore.Job)}
}

// CreateJob implements jobstore.Store.
func (s *Store) CreateJob(_ context.Context, job jobstore.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.CrawlID]; exists {
		return jobstore.ErrJobExists
	}
	s.jobs[job.CrawlID] = job
	return nil
}

// UpdateJobStatus implements jobstore.Store.
func (s *Store) UpdateJobStatus(_ context.Context, crawlID string, status jobstore.Status, errText string, counters progress.StatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[crawlID]
	if !ok {
		return jobstore.ErrJobNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	s.jobs[crawlID] = job
	return nil
}

// GetJob implements jobstore.Store.
func (s *Store) GetJob(_ context.Context, crawlID string) (jobstore.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[crawlID]
	if !ok {
		return jobstore.Job{}, jobstore.ErrJobNotFound
	}
	return job, nil
}

// ListJobs implements jobstore.Store.
func (s *Store) ListJobs(_ context.Context) ([]jobstore.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobstore.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}
