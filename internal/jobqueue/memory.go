package jobqueue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process JobQueue test double that records pushed
// jobs in order, used by reactor/registry/dispatcher tests that assert
// on retry/orphan-recovery behavior without a Redis dependency.
type Memory struct {
	mu   sync.Mutex
	jobs []Job
}

// NewMemory returns an empty in-process job queue.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Push(_ context.Context, job Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.JID == "" {
		job.JID = uuid.NewString()
	}
	m.jobs = append(m.jobs, job)
	return job.JID, nil
}

// Jobs returns a snapshot of every job pushed so far, in push order.
func (m *Memory) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, len(m.jobs))
	copy(out, m.jobs)
	return out
}

// Len reports how many jobs have been pushed.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
