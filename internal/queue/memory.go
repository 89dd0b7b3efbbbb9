package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"horse.fit/zeke/internal/globaltime"
)

// Memory is a single-process Queue used by tests and local runs.
type Memory struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	order      []string
	schedules  map[string]Schedule
	retryLimit int
	retryDelay time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		jobs:       make(map[string]*Job),
		schedules:  make(map[string]Schedule),
		retryLimit: DefaultRetryLimit,
		retryDelay: DefaultRetryDelay,
	}
}

// WithRetry overrides the default retry limit and base delay.
func (m *Memory) WithRetry(limit int, delay time.Duration) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryLimit = limit
	m.retryDelay = delay
	return m
}

func (m *Memory) Enqueue(_ context.Context, topic string, payload map[string]any, opts EnqueueOptions) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := globaltime.UTC()
	job := &Job{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    copyMap(payload),
		State:      StateCreated,
		Ref:        opts.Ref,
		RetryLimit: m.retryLimit,
		RetryDelay: m.retryDelay,
		StartAfter: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if opts.RetryLimit != nil {
		job.RetryLimit = *opts.RetryLimit
	}
	if opts.RetryDelay > 0 {
		job.RetryDelay = opts.RetryDelay
	}
	if !opts.StartAfter.IsZero() {
		job.StartAfter = opts.StartAfter.UTC()
	}

	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return job.ID, nil
}

func (m *Memory) Schedule(_ context.Context, s Schedule) error {
	if strings.TrimSpace(s.Topic) == "" || strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("schedule requires topic, name and cron")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Payload = copyMap(s.Payload)
	m.schedules[s.Topic+"/"+s.Name] = s
	return nil
}

func (m *Memory) Schedules(_ context.Context) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) FetchBatch(_ context.Context, topic string, n int) ([]Job, error) {
	if n <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := globaltime.UTC()
	out := make([]Job, 0, n)
	for _, id := range m.order {
		if len(out) == n {
			break
		}
		job := m.jobs[id]
		if job.Topic != topic {
			continue
		}
		if job.State != StateCreated && job.State != StateRetry {
			continue
		}
		if job.StartAfter.After(now) {
			continue
		}
		started := now
		job.State = StateActive
		job.StartedAt = &started
		job.UpdatedAt = now
		out = append(out, cloneJob(job))
	}
	return out, nil
}

func (m *Memory) Complete(_ context.Context, id string, output map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return fmt.Errorf("complete job %s: state is %s", id, job.State)
	}
	now := globaltime.UTC()
	job.State = StateCompleted
	job.CompletedAt = &now
	job.Output = copyMap(output)
	job.UpdatedAt = now
	return nil
}

func (m *Memory) Fail(_ context.Context, id string, cause error, output map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return fmt.Errorf("fail job %s: state is %s", id, job.State)
	}
	now := globaltime.UTC()
	job.LastError = errorText(cause)
	job.Output = copyMap(output)
	job.UpdatedAt = now
	if job.RetryCount < job.RetryLimit {
		job.StartAfter = now.Add(retryBackoff(job.RetryDelay, job.RetryCount))
		job.RetryCount++
		job.State = StateRetry
		return nil
	}
	job.State = StateFailed
	job.CompletedAt = &now
	return nil
}

func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State.Terminal() {
		return nil
	}
	now := globaltime.UTC()
	job.State = StateCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) LatestByRef(_ context.Context, ref string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]]
		if job.Ref == ref {
			return cloneJob(job), nil
		}
	}
	return Job{}, ErrJobNotFound
}

func (m *Memory) RequeueStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := globaltime.UTC()
	for _, job := range m.jobs {
		if job.State != StateActive || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		job.State = StateRetry
		job.StartAfter = now
		job.UpdatedAt = now
		count++
	}
	return count, nil
}

// Delete drops a job entirely. Tests use it to simulate a purged row.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Jobs returns a snapshot of all jobs on a topic in enqueue order.
func (m *Memory) Jobs(topic string) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0)
	for _, id := range m.order {
		if job := m.jobs[id]; job.Topic == topic {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

func cloneJob(job *Job) Job {
	c := *job
	c.Payload = copyMap(job.Payload)
	c.Output = copyMap(job.Output)
	return c
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
