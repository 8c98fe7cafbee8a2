package processor

import (
	"context"
	"sync"
	"time"
)

// jobRunner schedules named interval jobs. Scheduling a job under an
// existing id replaces the old one, and each job runs at most one pass at
// a time.
type jobRunner struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func newJobRunner() *jobRunner {
	return &jobRunner{jobs: make(map[string]context.CancelFunc)}
}

// Schedule starts a job. When immediate is set the first run fires right
// away instead of after the first interval.
func (j *jobRunner) Schedule(id string, interval time.Duration, immediate bool, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	j.mu.Lock()
	if old, ok := j.jobs[id]; ok {
		old()
	}
	j.jobs[id] = cancel
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if immediate {
			fn(ctx)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Remove cancels one job.
func (j *jobRunner) Remove(id string) {
	j.mu.Lock()
	if cancel, ok := j.jobs[id]; ok {
		cancel()
		delete(j.jobs, id)
	}
	j.mu.Unlock()
}

// RemoveAll cancels every job and waits for in-flight runs to finish.
func (j *jobRunner) RemoveAll() {
	j.mu.Lock()
	for id, cancel := range j.jobs {
		cancel()
		delete(j.jobs, id)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

// RemoveAllWithin cancels every job and waits up to the deadline for
// in-flight runs to finish, reporting whether they quiesced in time.
func (j *jobRunner) RemoveAllWithin(d time.Duration) bool {
	j.mu.Lock()
	for id, cancel := range j.jobs {
		cancel()
		delete(j.jobs, id)
	}
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Active returns the scheduled job ids.
func (j *jobRunner) Active() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]string, 0, len(j.jobs))
	for id := range j.jobs {
		ids = append(ids, id)
	}
	return ids
}
