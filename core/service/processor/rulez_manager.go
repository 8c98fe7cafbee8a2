package processor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/config"
	"mailrulez/core/domain"
	"mailrulez/core/port/out"
	"mailrulez/core/service/pipeline"
	"mailrulez/pkg/apperr"
)

const (
	transitionCheckInterval = time.Hour
	maxTaskHistory          = 1000
)

// Task history event names.
const (
	EventAccountAdded     = "account_added"
	EventAccountRemoved   = "account_removed"
	EventServiceStarted   = "service_started"
	EventServiceStopped   = "service_stopped"
	EventServiceRestarted = "service_restarted"
	EventModeSwitched     = "mode_switched"
	EventAutoTransition   = "auto_transition"
)

// TaskEvent is one entry in the bounded task history.
type TaskEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	AccountEmail string    `json:"account_email,omitempty"`
	Event        string    `json:"event"`
	Details      string    `json:"details,omitempty"`
}

// Manager owns the processor registry, the task history and the hourly
// auto-transition check. It is container-owned; there is no package
// singleton.
type Manager struct {
	cfg      *config.Config
	dialer   out.MailboxDialer
	pipeline *pipeline.Service

	mu                  sync.RWMutex
	processors          map[string]*Processor
	history             []TaskEvent
	startupTime         time.Time
	lastTransitionCheck time.Time
	initialized         bool

	stop chan struct{}
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg *config.Config, dialer out.MailboxDialer, pipe *pipeline.Service) *Manager {
	return &Manager{
		cfg:         cfg,
		dialer:      dialer,
		pipeline:    pipe,
		processors:  make(map[string]*Processor),
		startupTime: time.Now().UTC(),
		stop:        make(chan struct{}),
		log:         log.With().Str("component", "task-manager").Logger(),
	}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *Manager) record(email, event, details string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, TaskEvent{
		Timestamp:    time.Now().UTC(),
		AccountEmail: email,
		Event:        event,
		Details:      details,
	})
	if len(m.history) > maxTaskHistory {
		m.history = m.history[len(m.history)-maxTaskHistory:]
	}
}

// Run starts the hourly auto-transition loop.
func (m *Manager) Run() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(transitionCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.checkAutoTransitions()
			}
		}
	}()
}

// Shutdown stops the loop and every processor.
func (m *Manager) Shutdown() {
	close(m.stop)
	m.wg.Wait()
	m.StopAll()
	m.log.Info().Msg("task manager shut down")
}

// LoadAccountsFromConfig registers a processor for every configured
// account. The manager counts as initialized even when some accounts fail.
func (m *Manager) LoadAccountsFromConfig() {
	for _, account := range m.cfg.AllAccounts() {
		m.AddAccount(account)
	}
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
}

// RefreshAccountsFromConfig reconciles the registry against the config by
// set difference: new accounts are added, vanished ones removed.
func (m *Manager) RefreshAccountsFromConfig() RefreshResult {
	want := make(map[string]*domain.Account)
	for _, account := range m.cfg.AllAccounts() {
		want[key(account.Email)] = account
	}

	m.mu.RLock()
	have := make(map[string]bool, len(m.processors))
	for k := range m.processors {
		have[k] = true
	}
	m.mu.RUnlock()

	result := RefreshResult{Before: len(have)}
	for k, account := range want {
		if !have[k] {
			m.AddAccount(account)
			result.Added++
		}
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			m.RemoveAccount(k)
			result.Removed++
		}
	}
	result.After = m.AccountCount()
	return result
}

// AddAccount registers a processor for an account. Existing registrations
// are left untouched.
func (m *Manager) AddAccount(account *domain.Account) {
	k := key(account.Email)
	m.mu.Lock()
	if _, ok := m.processors[k]; ok {
		m.mu.Unlock()
		return
	}
	m.processors[k] = NewProcessor(account, m.cfg, m.dialer, m.pipeline)
	m.mu.Unlock()
	m.record(account.Email, EventAccountAdded, "")
	m.log.Info().Str("account", account.Email).Msg("account registered")
}

// RemoveAccount stops and drops a processor.
func (m *Manager) RemoveAccount(email string) {
	k := key(email)
	m.mu.Lock()
	proc, ok := m.processors[k]
	if ok {
		delete(m.processors, k)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := proc.Stop(); err != nil {
		m.log.Warn().Err(err).Str("account", email).Msg("stop on removal timed out")
	}
	m.record(email, EventAccountRemoved, "")
}

// RefreshResult reports a registry reconciliation.
type RefreshResult struct {
	Before  int `json:"accounts_before"`
	After   int `json:"accounts_after"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// AccountCount returns the number of registered processors.
func (m *Manager) AccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processors)
}

// processor looks a registration up, refreshing from config once on a
// miss so accounts added behind the manager's back still resolve.
func (m *Manager) processor(email string) (*Processor, error) {
	k := key(email)
	m.mu.RLock()
	proc, ok := m.processors[k]
	m.mu.RUnlock()
	if ok {
		return proc, nil
	}

	m.RefreshAccountsFromConfig()
	m.mu.RLock()
	proc, ok = m.processors[k]
	m.mu.RUnlock()
	if ok {
		return proc, nil
	}
	return nil, apperr.NotFound("account " + email)
}

// StartAccount starts one processor. A non-empty mode switches the
// processor to that mode before starting.
func (m *Manager) StartAccount(ctx context.Context, email string, mode domain.ProcessingMode) error {
	proc, err := m.processor(email)
	if err != nil {
		return err
	}
	if mode != "" && mode != proc.Mode() {
		proc.SwitchMode(mode)
		m.record(email, EventModeSwitched, string(mode))
	}
	if err := proc.Start(ctx); err != nil {
		return err
	}
	m.record(email, EventServiceStarted, string(proc.Mode()))
	return nil
}

// StopAccount stops one processor. A stop deadline overrun surfaces as
// an error after the processor has still landed in STOPPED.
func (m *Manager) StopAccount(email string) error {
	proc, err := m.processor(email)
	if err != nil {
		return err
	}
	stopErr := proc.Stop()
	m.record(email, EventServiceStopped, "")
	return stopErr
}

// RestartAccount restarts one processor preserving its mode.
func (m *Manager) RestartAccount(ctx context.Context, email string) error {
	proc, err := m.processor(email)
	if err != nil {
		return err
	}
	if err := proc.Restart(ctx); err != nil {
		return err
	}
	m.record(email, EventServiceRestarted, "")
	return nil
}

// SwitchMode changes one processor's mode.
func (m *Manager) SwitchMode(email string, mode domain.ProcessingMode) error {
	proc, err := m.processor(email)
	if err != nil {
		return err
	}
	proc.SwitchMode(mode)
	m.record(email, EventModeSwitched, string(mode))
	return nil
}

// ProcessManualBatch runs a manual batch for one account. limit zero
// means the default batch size.
func (m *Manager) ProcessManualBatch(ctx context.Context, email string, limit int) (*domain.BatchResult, error) {
	proc, err := m.processor(email)
	if err != nil {
		return nil, err
	}
	return proc.ProcessManualBatch(ctx, limit)
}

// FolderStatus reports folder provisioning for one account.
func (m *Manager) FolderStatus(ctx context.Context, email string) (*FolderStatus, error) {
	proc, err := m.processor(email)
	if err != nil {
		return nil, err
	}
	return proc.FolderStatus(ctx)
}

// CreateFolders provisions missing folders for one account.
func (m *Manager) CreateFolders(ctx context.Context, email string) ([]string, error) {
	proc, err := m.processor(email)
	if err != nil {
		return nil, err
	}
	return proc.CreateFolders(ctx)
}

// InboxCount returns one account's live inbox count.
func (m *Manager) InboxCount(ctx context.Context, email string) (int, error) {
	proc, err := m.processor(email)
	if err != nil {
		return 0, err
	}
	return proc.InboxCount(ctx)
}

// AccountStatus returns one processor's status.
func (m *Manager) AccountStatus(email string) (*Status, error) {
	proc, err := m.processor(email)
	if err != nil {
		return nil, err
	}
	status := proc.Status()
	return &status, nil
}

// ManagerStatus is the registry-level status block.
type ManagerStatus struct {
	StartupTime         time.Time  `json:"startup_time"`
	TotalAccounts       int        `json:"total_accounts"`
	RunningAccounts     int        `json:"running_accounts"`
	ErrorAccounts       int        `json:"error_accounts"`
	LastTransitionCheck *time.Time `json:"last_transition_check,omitempty"`
}

// StatusAll reports every processor plus the manager block.
func (m *Manager) StatusAll() (map[string]Status, ManagerStatus) {
	m.mu.RLock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	startup := m.startupTime
	lastCheck := m.lastTransitionCheck
	m.mu.RUnlock()

	statuses := make(map[string]Status, len(procs))
	mgr := ManagerStatus{StartupTime: startup, TotalAccounts: len(procs)}
	if !lastCheck.IsZero() {
		mgr.LastTransitionCheck = &lastCheck
	}
	for _, p := range procs {
		st := p.Status()
		statuses[st.AccountEmail] = st
		switch st.State {
		case domain.StateRunningStartup, domain.StateRunningMaintenance:
			mgr.RunningAccounts++
		case domain.StateError:
			mgr.ErrorAccounts++
		}
	}
	return statuses, mgr
}

// AggregateStats sums counters across processors. Before initialization
// it reports zeros except the registered account count.
type AggregateStats struct {
	TotalAccounts     int     `json:"total_accounts"`
	RunningAccounts   int     `json:"running_accounts"`
	EmailsProcessed   int     `json:"emails_processed"`
	EmailsPending     int     `json:"emails_pending"`
	TotalErrors       int     `json:"total_errors"`
	ErrorRate         float64 `json:"error_rate"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

// Aggregate computes fleet-wide statistics.
func (m *Manager) Aggregate() AggregateStats {
	m.mu.RLock()
	initialized := m.initialized
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.RUnlock()

	agg := AggregateStats{TotalAccounts: len(procs)}
	if !initialized {
		return agg
	}
	var totalAvg float64
	running := 0
	for _, p := range procs {
		stats := p.StatsSnapshot()
		agg.EmailsProcessed += stats.EmailsProcessed
		agg.EmailsPending += stats.EmailsPending
		agg.TotalErrors += stats.Errors
		totalAvg += stats.AvgProcessingTime
		switch p.State() {
		case domain.StateRunningStartup, domain.StateRunningMaintenance:
			running++
		}
	}
	agg.RunningAccounts = running
	processed := agg.EmailsProcessed
	if processed < 1 {
		processed = 1
	}
	agg.ErrorRate = float64(agg.TotalErrors) / float64(processed)
	if len(procs) > 0 {
		agg.AvgProcessingTime = totalAvg / float64(len(procs))
	}
	return agg
}

// StartAll starts every processor, returning a per-account result map. A
// non-empty mode switches each processor before starting it.
func (m *Manager) StartAll(ctx context.Context, mode domain.ProcessingMode) map[string]string {
	results := make(map[string]string)
	m.mu.RLock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.RUnlock()

	for _, p := range procs {
		email := p.Account().Email
		if mode != "" && mode != p.Mode() {
			p.SwitchMode(mode)
			m.record(email, EventModeSwitched, string(mode))
		}
		if err := p.Start(ctx); err != nil {
			results[email] = err.Error()
			continue
		}
		results[email] = "started"
		m.record(email, EventServiceStarted, string(p.Mode()))
	}
	return results
}

// StopAll stops every processor.
func (m *Manager) StopAll() map[string]string {
	results := make(map[string]string)
	m.mu.RLock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.RUnlock()

	for _, p := range procs {
		if err := p.Stop(); err != nil {
			results[p.Account().Email] = err.Error()
			continue
		}
		results[p.Account().Email] = "stopped"
	}
	return results
}

// History returns a copy of the task history, newest last. A positive
// limit keeps only the most recent entries.
func (m *Manager) History(limit int) []TaskEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.history
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]TaskEvent, len(events))
	copy(out, events)
	return out
}

// Initialized reports whether accounts have been loaded.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// checkAutoTransitions switches eligible startup processors to
// maintenance mode.
func (m *Manager) checkAutoTransitions() {
	now := time.Now().UTC()
	m.mu.Lock()
	m.lastTransitionCheck = now
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		if !p.ShouldTransitionToMaintenance(now) {
			continue
		}
		email := p.Account().Email
		p.SwitchMode(domain.ModeMaintenance)
		m.record(email, EventAutoTransition, "startup -> maintenance")
		m.log.Info().Str("account", email).Msg("auto-transitioned to maintenance mode")
	}
}
