package processor

import (
	"context"
	"fmt"
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
	inboxJobID       = "inbox"
	trainingJobID    = "training"
	inboxInterval    = 5 * time.Minute
	trainingInterval = 4 * time.Minute

	maintenanceBatchSize = 200
	manualBatchSize      = 100
	maxManualBatchSize   = 500

	stopTimeout = 10 * time.Second
)

// Folder roles a processor validates or creates on start. The inbox is
// assumed to exist.
var requiredFolderRoles = []string{
	domain.FolderPending,
	domain.FolderProcessed,
	domain.FolderJunk,
	domain.FolderApprovedAds,
	domain.FolderHeadHunt,
	domain.FolderWhitelist,
	domain.FolderBlacklist,
	domain.FolderVendor,
	domain.FolderHeadhunter,
}

// Processor is the per-account state machine. Startup mode processes mail
// only on manual batches; maintenance mode runs periodic inbox and
// training jobs.
type Processor struct {
	account  *domain.Account
	cfg      *config.Config
	dialer   out.MailboxDialer
	pipeline *pipeline.Service

	mu    sync.Mutex
	state domain.ServiceState
	mode  domain.ProcessingMode
	stats domain.ProcessorStats
	jobs  *jobRunner

	log zerolog.Logger
}

// NewProcessor creates a stopped processor in startup mode.
func NewProcessor(account *domain.Account, cfg *config.Config, dialer out.MailboxDialer, pipe *pipeline.Service) *Processor {
	return &Processor{
		account:  account,
		cfg:      cfg,
		dialer:   dialer,
		pipeline: pipe,
		state:    domain.StateStopped,
		mode:     domain.ModeStartup,
		jobs:     newJobRunner(),
		log: log.With().
			Str("component", "processor").
			Str("account", account.Email).
			Logger(),
	}
}

// Account returns the processor's account.
func (p *Processor) Account() *domain.Account {
	return p.account
}

// Start transitions STOPPED -> STARTING -> RUNNING_*: connection test,
// folder validation, then the mode's jobs.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != domain.StateStopped {
		state := p.state
		p.mu.Unlock()
		return apperr.Conflict(fmt.Sprintf("cannot start from state %s", state))
	}
	p.state = domain.StateStarting
	mode := p.mode
	p.mu.Unlock()

	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		p.mu.Lock()
		p.state = domain.StateError
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		return err
	}
	err = p.validateFolders(ctx, mbox)
	mbox.Close()
	if err != nil {
		p.mu.Lock()
		p.state = domain.StateError
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if p.stats.ModeStartTime.IsZero() {
		p.stats.ModeStartTime = time.Now().UTC()
	}
	p.state = domain.StateForMode(mode)
	p.mu.Unlock()

	p.scheduleJobs(mode)
	p.log.Info().Str("mode", string(mode)).Msg("processor started")
	return nil
}

// validateFolders ensures every required folder exists. Individual
// failures are recorded and skipped; only a wholesale failure, where no
// folder could be validated at all, aborts the start.
func (p *Processor) validateFolders(ctx context.Context, mbox out.Mailbox) error {
	attempted, failed := 0, 0
	for _, folder := range p.requiredFolders() {
		attempted++
		if err := mbox.EnsureFolder(ctx, folder); err != nil {
			failed++
			p.log.Warn().Err(err).Str("folder", folder).Msg("folder validation failed")
		}
	}
	if attempted > 0 && failed == attempted {
		return apperr.FolderValidation(p.account.Email,
			fmt.Errorf("all %d folder validations failed", failed))
	}
	return nil
}

// requiredFolders maps the required roles to concrete folder names,
// excluding the inbox.
func (p *Processor) requiredFolders() []string {
	folders := make([]string, 0, len(requiredFolderRoles))
	seen := make(map[string]bool, len(requiredFolderRoles))
	for _, role := range requiredFolderRoles {
		folder := p.account.Folder(role)
		if folder == "" || strings.EqualFold(folder, "INBOX") || seen[folder] {
			continue
		}
		seen[folder] = true
		folders = append(folders, folder)
	}
	return folders
}

// FolderStatus is the read-only folder provisioning report.
type FolderStatus struct {
	Required []string `json:"required"`
	Existing []string `json:"existing"`
	Missing  []string `json:"missing"`
}

// FolderStatus reports which required folders exist on the server.
func (p *Processor) FolderStatus(ctx context.Context) (*FolderStatus, error) {
	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		return nil, err
	}
	defer mbox.Close()

	listed, err := mbox.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(listed))
	for _, name := range listed {
		have[name] = true
	}
	status := &FolderStatus{Required: p.requiredFolders()}
	for _, folder := range status.Required {
		if have[folder] {
			status.Existing = append(status.Existing, folder)
		} else {
			status.Missing = append(status.Missing, folder)
		}
	}
	return status, nil
}

// CreateFolders provisions every missing required folder, returning the
// names created. Individual failures are tolerated unless every attempt
// fails.
func (p *Processor) CreateFolders(ctx context.Context) ([]string, error) {
	status, err := p.FolderStatus(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Missing) == 0 {
		return nil, nil
	}

	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		return nil, err
	}
	defer mbox.Close()

	var created []string
	failed := 0
	for _, folder := range status.Missing {
		if err := mbox.EnsureFolder(ctx, folder); err != nil {
			failed++
			p.log.Warn().Err(err).Str("folder", folder).Msg("folder creation failed")
			continue
		}
		created = append(created, folder)
	}
	if failed == len(status.Missing) {
		return nil, apperr.FolderValidation(p.account.Email,
			fmt.Errorf("all %d folder creations failed", failed))
	}
	return created, nil
}

// InboxCount returns the account's current inbox message count.
func (p *Processor) InboxCount(ctx context.Context) (int, error) {
	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		return 0, err
	}
	defer mbox.Close()
	return mbox.CountMessages(ctx, p.account.Folder(domain.FolderInbox))
}

func (p *Processor) scheduleJobs(mode domain.ProcessingMode) {
	if mode != domain.ModeMaintenance {
		// Startup mode schedules nothing; mail moves on manual batches.
		return
	}
	p.jobs.Schedule(inboxJobID, inboxInterval, true, func(ctx context.Context) {
		p.runInboxPass(ctx)
	})
	p.jobs.Schedule(trainingJobID, trainingInterval, false, func(ctx context.Context) {
		p.runTrainingPass(ctx)
	})
}

func (p *Processor) runInboxPass(ctx context.Context) {
	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		p.recordError(err)
		return
	}
	defer mbox.Close()
	result, err := p.pipeline.ProcessInbox(ctx, mbox, p.account, maintenanceBatchSize, true)
	if err != nil {
		p.recordError(err)
		return
	}
	p.recordResult(result)
}

func (p *Processor) runTrainingPass(ctx context.Context) {
	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		p.recordError(err)
		return
	}
	defer mbox.Close()
	results := p.pipeline.ProcessTrainingFolders(ctx, mbox, p.account, false)
	for _, r := range results {
		if r.Error != "" {
			p.recordError(fmt.Errorf("training folder %s: %s", r.Folder, r.Error))
			return
		}
	}
	p.mu.Lock()
	p.stats.ConsecutiveErrors = 0
	now := time.Now().UTC()
	p.stats.LastRun = &now
	p.mu.Unlock()
}

// ProcessManualBatch is the "Process Next 100" operation, allowed only in
// RUNNING_STARTUP: training folders first, then one rule-aware inbox
// batch. limit bounds the inbox batch; zero means the default of 100,
// anything outside 1..500 is rejected.
func (p *Processor) ProcessManualBatch(ctx context.Context, limit int) (*domain.BatchResult, error) {
	if limit == 0 {
		limit = manualBatchSize
	}
	if limit < 1 || limit > maxManualBatchSize {
		return nil, apperr.BadRequest(fmt.Sprintf("batch limit %d out of range 1..%d", limit, maxManualBatchSize))
	}

	p.mu.Lock()
	if p.state != domain.StateRunningStartup {
		state := p.state
		p.mu.Unlock()
		return nil, apperr.Conflict(fmt.Sprintf("manual batch requires running startup mode, state is %s", state))
	}
	p.mu.Unlock()

	start := time.Now()
	mbox, err := p.dialer.Dial(ctx, p.account)
	if err != nil {
		p.recordError(err)
		return nil, err
	}
	defer mbox.Close()

	training := p.pipeline.ProcessTrainingFolders(ctx, mbox, p.account, true)
	result, err := p.pipeline.ProcessInboxBatch(ctx, mbox, p.account, limit)
	if err != nil {
		p.recordError(err)
		return result, err
	}
	for _, t := range training {
		result.EmailsProcessed += t.EmailsMoved
	}
	result.ProcessingTime = time.Since(start).Seconds()
	p.recordResult(result)
	return result, nil
}

// Stop cancels jobs and transitions to STOPPED. In-flight passes get up
// to ten seconds to quiesce; past the deadline the processor still lands
// in STOPPED, since every job context is already cancelled, and the
// timeout is reported to the caller.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if p.state == domain.StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = domain.StateStopping
	p.mu.Unlock()

	clean := p.jobs.RemoveAllWithin(stopTimeout)

	p.mu.Lock()
	p.state = domain.StateStopped
	p.mu.Unlock()

	if !clean {
		p.log.Warn().Dur("timeout", stopTimeout).Msg("jobs did not quiesce before deadline")
		return apperr.Timeout(fmt.Sprintf("stop timed out after %s with passes still in flight", stopTimeout))
	}
	p.log.Info().Msg("processor stopped")
	return nil
}

// Restart stops, pauses briefly and starts again preserving the mode.
func (p *Processor) Restart(ctx context.Context) error {
	if err := p.Stop(); err != nil {
		return err
	}
	time.Sleep(time.Second)
	return p.Start(ctx)
}

// SwitchMode replaces the job set and resets the mode clock.
func (p *Processor) SwitchMode(mode domain.ProcessingMode) {
	p.jobs.RemoveAll()

	p.mu.Lock()
	p.mode = mode
	p.stats.ModeStartTime = time.Now().UTC()
	running := p.state == domain.StateRunningStartup || p.state == domain.StateRunningMaintenance
	if running {
		p.state = domain.StateForMode(mode)
	}
	p.mu.Unlock()

	if running {
		p.scheduleJobs(mode)
	}
	p.log.Info().Str("mode", string(mode)).Msg("mode switched")
}

// State returns the current lifecycle state.
func (p *Processor) State() domain.ServiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Mode returns the current processing mode.
func (p *Processor) Mode() domain.ProcessingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// StatsSnapshot returns a copy of the counters.
func (p *Processor) StatsSnapshot() domain.ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Status is the control-plane view of one processor.
type Status struct {
	AccountEmail string                `json:"account_email"`
	State        domain.ServiceState   `json:"state"`
	Mode         domain.ProcessingMode `json:"mode"`
	Stats        domain.ProcessorStats `json:"stats"`
	ActiveJobs   []string              `json:"active_jobs,omitempty"`
}

// Status reports state, mode, stats and scheduled jobs.
func (p *Processor) Status() Status {
	p.mu.Lock()
	status := Status{
		AccountEmail: p.account.Email,
		State:        p.state,
		Mode:         p.mode,
		Stats:        p.stats,
	}
	p.mu.Unlock()
	status.ActiveJobs = p.jobs.Active()
	return status
}

// ShouldTransitionToMaintenance applies the auto-transition predicate.
// Only a processor running in startup mode is eligible.
func (p *Processor) ShouldTransitionToMaintenance(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.StateRunningStartup {
		return false
	}
	return p.stats.ReadyForMaintenance(now)
}

func (p *Processor) recordResult(result *domain.BatchResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.ConsecutiveErrors = 0
	p.stats.EmailsProcessed += result.EmailsProcessed
	p.stats.EmailsPending = result.InboxRemaining
	if p.stats.AvgProcessingTime == 0 {
		p.stats.AvgProcessingTime = result.ProcessingTime
	} else {
		p.stats.AvgProcessingTime = (p.stats.AvgProcessingTime + result.ProcessingTime) / 2
	}
	now := time.Now().UTC()
	p.stats.LastRun = &now
}

// recordError counts the failure and trips the ERROR state after too many
// consecutive failures.
func (p *Processor) recordError(err error) {
	p.mu.Lock()
	p.stats.Errors++
	p.stats.ConsecutiveErrors++
	p.stats.LastError = err.Error()
	tripped := p.stats.ConsecutiveErrors >= domain.MaxConsecutiveErrors
	if tripped {
		p.state = domain.StateError
	}
	p.mu.Unlock()

	p.log.Error().Err(err).Int("consecutive", p.StatsSnapshot().ConsecutiveErrors).Msg("processing error")
	if tripped {
		// Cancel jobs from outside the job goroutine; RemoveAll waits for
		// in-flight runs, which may include the caller.
		go p.jobs.RemoveAll()
		p.log.Error().Msg("too many consecutive errors, processor entered error state")
	}
}
