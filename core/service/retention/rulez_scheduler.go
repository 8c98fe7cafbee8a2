package retention

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/config"
	"mailrulez/core/domain"
	"mailrulez/pkg/apperr"
)

const (
	schedulerCheckInterval = 5 * time.Minute
	schedulerErrorBackoff  = 5 * time.Minute
	schedulerSleepSlice    = 60 * time.Second
	schedulerWorkers       = 3
)

// SchedulerStats accumulates over the scheduler's lifetime.
type SchedulerStats struct {
	TotalExecutions          int     `json:"total_executions"`
	SuccessfulExecutions     int     `json:"successful_executions"`
	FailedExecutions         int     `json:"failed_executions"`
	EmailsMovedToTrash       int     `json:"emails_moved_to_trash"`
	EmailsPermanentlyDeleted int     `json:"emails_permanently_deleted"`
	LastDurationSeconds      float64 `json:"last_duration_seconds"`
}

// Scheduler runs retention for all accounts once a day at the configured
// hour, fanning account work out over a bounded worker pool.
type Scheduler struct {
	cfg      *config.Config
	store    *PolicyStore
	executor *Executor
	audit    *AuditLogger

	mu            sync.Mutex
	running       bool
	stop          chan struct{}
	wg            sync.WaitGroup
	lastExecution *time.Time
	stats         SchedulerStats

	log zerolog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg *config.Config, store *PolicyStore, executor *Executor, audit *AuditLogger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		executor: executor,
		audit:    audit,
		log:      log.With().Str("component", "retention-scheduler").Logger(),
	}
}

// Start launches the scheduler loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop()
	s.log.Info().Int("hour", s.store.Global().SchedulerHour).Msg("retention scheduler started")
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("retention scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		wait := schedulerCheckInterval
		if s.shouldRun(time.Now()) {
			if err := s.runScheduled(); err != nil {
				s.log.Error().Err(err).Msg("scheduled retention run failed")
				wait = schedulerErrorBackoff
			}
		}
		if !s.sleep(wait) {
			return
		}
	}
}

// sleep waits in short slices so Stop interrupts promptly. Returns false
// when the scheduler is stopping.
func (s *Scheduler) sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := remaining
		if slice > schedulerSleepSlice {
			slice = schedulerSleepSlice
		}
		select {
		case <-s.stop:
			return false
		case <-time.After(slice):
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	global := s.store.Global()
	if !global.SchedulerEnabled {
		return false
	}
	if now.Hour() != global.SchedulerHour {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExecution != nil {
		last := *s.lastExecution
		if last.Year() == now.Year() && last.YearDay() == now.YearDay() {
			return false
		}
	}
	return true
}

type accountWorker struct {
	s  *Scheduler
	mu sync.Mutex
	// per-run accumulators
	succeeded int
	failed    int
	moved     int
	deleted   int
}

// Do implements pool.Worker.
func (w *accountWorker) Do(ctx context.Context, account *domain.Account) error {
	results, err := w.s.executor.ExecuteForAccount(ctx, account, false)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.failed++
		return err
	}
	w.succeeded++
	for _, r := range results {
		if !r.Success {
			continue
		}
		switch r.Stage {
		case domain.StageMoveToTrash:
			w.moved += r.EmailsAffected
		case domain.StagePermanentDelete:
			w.deleted += r.EmailsAffected
		}
	}
	return nil
}

func (s *Scheduler) runScheduled() error {
	start := time.Now()
	now := start
	s.mu.Lock()
	s.lastExecution = &now
	s.mu.Unlock()

	var accounts []*domain.Account
	for _, a := range s.cfg.AllAccounts() {
		// Accounts injected from the environment are transient and excluded
		// from scheduled maintenance.
		if a.Name == domain.EnvAccountName {
			continue
		}
		accounts = append(accounts, a)
	}
	s.log.Info().Int("accounts", len(accounts)).Msg("running scheduled retention")

	worker := &accountWorker{s: s}
	grp := pool.New[*domain.Account](schedulerWorkers, worker).WithContinueOnError()
	ctx := context.Background()
	if err := grp.Go(ctx); err != nil {
		return err
	}
	for _, account := range accounts {
		grp.Submit(account)
	}
	if err := grp.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("some account executions failed")
	}

	duration := time.Since(start)
	s.mu.Lock()
	s.stats.TotalExecutions++
	s.stats.SuccessfulExecutions += worker.succeeded
	s.stats.FailedExecutions += worker.failed
	s.stats.EmailsMovedToTrash += worker.moved
	s.stats.EmailsPermanentlyDeleted += worker.deleted
	s.stats.LastDurationSeconds = duration.Seconds()
	s.mu.Unlock()

	s.audit.LogEvent(OpScheduledSummary, worker.failed == 0, map[string]any{
		"accounts_total":             len(accounts),
		"accounts_succeeded":         worker.succeeded,
		"accounts_failed":            worker.failed,
		"emails_moved_to_trash":      worker.moved,
		"emails_permanently_deleted": worker.deleted,
		"duration_seconds":           duration.Seconds(),
	})
	s.log.Info().
		Int("succeeded", worker.succeeded).
		Int("failed", worker.failed).
		Int("moved", worker.moved).
		Int("deleted", worker.deleted).
		Dur("duration", duration).
		Msg("scheduled retention finished")
	return nil
}

// RunManual executes retention for one account, optionally scoped to one
// policy, optionally as a dry run.
func (s *Scheduler) RunManual(ctx context.Context, email, policyID string, dryRun bool) ([]*domain.RetentionResult, error) {
	account := s.cfg.FindAccount(email)
	if account == nil {
		return nil, apperr.NotFound("account " + email)
	}
	if policyID == "" {
		return s.executor.ExecuteForAccount(ctx, account, dryRun)
	}

	policy, err := s.store.PolicyByID(policyID)
	if err != nil {
		return nil, err
	}
	mbox, err := s.executor.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}
	defer mbox.Close()

	var results []*domain.RetentionResult
	if policy.FolderPattern != "" {
		result, err := s.executor.ExecuteStage1(ctx, mbox, account, policy, "", dryRun)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	result, err := s.executor.ExecuteStage2(ctx, mbox, account, policy.TrashRetentionDays, dryRun)
	results = append(results, result)
	return results, err
}

// SchedulerStatus is the control-plane view of the scheduler.
type SchedulerStatus struct {
	Running       bool           `json:"running"`
	Enabled       bool           `json:"enabled"`
	ExecutionHour int            `json:"execution_hour"`
	LastExecution *time.Time     `json:"last_execution,omitempty"`
	NextExecution *time.Time     `json:"next_execution,omitempty"`
	Stats         SchedulerStats `json:"stats"`
}

// Status reports the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	global := s.store.Global()
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SchedulerStatus{
		Running:       s.running,
		Enabled:       global.SchedulerEnabled,
		ExecutionHour: global.SchedulerHour,
		LastExecution: s.lastExecution,
		Stats:         s.stats,
	}
	if global.SchedulerEnabled {
		next := s.estimateNext(time.Now(), global.SchedulerHour)
		status.NextExecution = &next
	}
	return status
}

func (s *Scheduler) estimateNext(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	ranToday := s.lastExecution != nil &&
		s.lastExecution.Year() == now.Year() && s.lastExecution.YearDay() == now.YearDay()
	if !next.After(now) || ranToday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// UpdateSchedule changes the execution hour and enablement.
func (s *Scheduler) UpdateSchedule(hour int, enabled bool) error {
	if hour < 0 || hour > 23 {
		return apperr.InvalidInput("scheduler_hour", "must be between 0 and 23")
	}
	global := s.store.Global()
	global.SchedulerHour = hour
	global.SchedulerEnabled = enabled
	return s.store.UpdateGlobal(global)
}

// Report proxies the audit report for the control plane.
func (s *Scheduler) Report(daysBack int) (*AuditReport, error) {
	return s.audit.Report(daysBack)
}
