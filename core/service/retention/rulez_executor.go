package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/core/domain"
	"mailrulez/core/port/out"
	"mailrulez/pkg/apperr"
)

// Executor runs retention stages against live mailboxes.
type Executor struct {
	store  *PolicyStore
	trash  *TrashManager
	audit  *AuditLogger
	dialer out.MailboxDialer
	log    zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(store *PolicyStore, trash *TrashManager, audit *AuditLogger, dialer out.MailboxDialer) *Executor {
	return &Executor{
		store:  store,
		trash:  trash,
		audit:  audit,
		dialer: dialer,
		log:    log.With().Str("component", "retention").Logger(),
	}
}

// ExecuteStage1 moves messages older than the policy's retention window
// into the trash. Dry runs count candidates without touching anything.
// The per-run volume is capped by max_emails_per_operation.
func (e *Executor) ExecuteStage1(ctx context.Context, mbox out.Mailbox, account *domain.Account, policy *domain.RetentionPolicy, folderOverride string, dryRun bool) (*domain.RetentionResult, error) {
	start := time.Now()
	result := &domain.RetentionResult{
		Stage:    domain.StageMoveToTrash,
		PolicyID: policy.ID,
		DryRun:   dryRun,
	}

	folder := folderOverride
	if folder == "" {
		folder = policy.FolderPattern
	}
	if folder == "" {
		err := apperr.RetentionExecution(policy.ID, string(domain.StageMoveToTrash), "no folder to process")
		result.ErrorMessage = err.Message
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		e.audit.LogRetention(policy, result, account.Email)
		return result, err
	}
	result.Folder = folder

	maxPerOp := e.store.Global().MaxEmailsPerOperation
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
	messages, err := mbox.FetchOlderThan(ctx, folder, cutoff, maxPerOp)
	if err != nil {
		result.ErrorMessage = err.Error()
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		e.audit.LogRetention(policy, result, account.Email)
		return result, apperr.RetentionExecution(policy.ID, string(domain.StageMoveToTrash), err.Error()).WithError(err)
	}
	result.EmailsProcessed = len(messages)

	if dryRun {
		result.EmailsAffected = len(messages)
		result.Success = true
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		e.audit.LogRetention(policy, result, account.Email)
		return result, nil
	}

	if len(messages) > 0 {
		moveResult, err := e.trash.MoveToTrash(ctx, mbox, account, folder, messages, policy.ID)
		if err != nil {
			result.ErrorMessage = err.Error()
			result.ExecutionTimeSeconds = time.Since(start).Seconds()
			e.audit.LogRetention(policy, result, account.Email)
			return result, apperr.RetentionExecution(policy.ID, string(domain.StageMoveToTrash), err.Error()).WithError(err)
		}
		result.EmailsAffected = moveResult.Moved
		if err := e.store.MarkApplied(policy.ID, moveResult.Moved); err != nil {
			e.log.Warn().Err(err).Str("policy_id", policy.ID).Msg("failed to update policy counters")
		}
	}
	result.Success = true
	result.ExecutionTimeSeconds = time.Since(start).Seconds()
	e.audit.LogRetention(policy, result, account.Email)

	e.log.Info().
		Str("account", account.Email).
		Str("policy_id", policy.ID).
		Str("folder", folder).
		Int("moved", result.EmailsAffected).
		Bool("dry_run", dryRun).
		Msg("stage 1 retention executed")
	return result, nil
}

// stage2Policy is the synthetic policy stage 2 reports under.
func stage2Policy(trashDays int) *domain.RetentionPolicy {
	return &domain.RetentionPolicy{
		ID:                 "trash-cleanup",
		Name:               "Trash Cleanup",
		FolderPattern:      "trash",
		RetentionDays:      trashDays,
		TrashRetentionDays: trashDays,
	}
}

// ExecuteStage2 permanently deletes trash items whose recovery window of
// trashDays has lapsed.
func (e *Executor) ExecuteStage2(ctx context.Context, mbox out.Mailbox, account *domain.Account, trashDays int, dryRun bool) (*domain.RetentionResult, error) {
	start := time.Now()
	policy := stage2Policy(trashDays)
	result := &domain.RetentionResult{
		Stage:    domain.StagePermanentDelete,
		PolicyID: policy.ID,
		Folder:   "trash",
		DryRun:   dryRun,
	}

	if dryRun {
		candidates, err := e.trash.CandidatesOlderThan(ctx, mbox, account, trashDays)
		if err != nil {
			result.ErrorMessage = err.Error()
			result.ExecutionTimeSeconds = time.Since(start).Seconds()
			e.audit.LogRetention(policy, result, account.Email)
			return result, err
		}
		result.EmailsProcessed = len(candidates)
		result.EmailsAffected = len(candidates)
		result.Success = true
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		e.audit.LogRetention(policy, result, account.Email)
		return result, nil
	}

	deleted, err := e.trash.PurgeOlderThan(ctx, mbox, account, trashDays, 0)
	if err != nil {
		result.ErrorMessage = err.Error()
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		e.audit.LogRetention(policy, result, account.Email)
		return result, apperr.RetentionExecution(policy.ID, string(domain.StagePermanentDelete), err.Error()).WithError(err)
	}
	result.EmailsProcessed = deleted
	result.EmailsAffected = deleted
	result.Success = true
	result.ExecutionTimeSeconds = time.Since(start).Seconds()
	e.audit.LogRetention(policy, result, account.Email)

	e.log.Info().
		Str("account", account.Email).
		Int("deleted", deleted).
		Bool("dry_run", dryRun).
		Msg("stage 2 retention executed")
	return result, nil
}

// ExecuteForAccount runs every active folder policy's stage 1 and then one
// stage 2 pass with the default trash retention window.
func (e *Executor) ExecuteForAccount(ctx context.Context, account *domain.Account, dryRun bool) ([]*domain.RetentionResult, error) {
	mbox, err := e.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}
	defer mbox.Close()

	var results []*domain.RetentionResult
	for _, policy := range e.store.ActiveFolderPolicies() {
		result, err := e.ExecuteStage1(ctx, mbox, account, policy, "", dryRun)
		results = append(results, result)
		if err != nil {
			e.log.Error().Err(err).
				Str("account", account.Email).
				Str("policy_id", policy.ID).
				Msg("stage 1 failed, continuing with next policy")
		}
	}

	trashDays := e.store.Global().DefaultTrashRetentionDays
	result, err := e.ExecuteStage2(ctx, mbox, account, trashDays, dryRun)
	results = append(results, result)
	if err != nil {
		e.log.Error().Err(err).Str("account", account.Email).Msg("stage 2 failed")
	}
	return results, nil
}

// TrashContents dials the account and lists its trash folder.
func (e *Executor) TrashContents(ctx context.Context, account *domain.Account) ([]domain.TrashItem, error) {
	mbox, err := e.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}
	defer mbox.Close()
	return e.trash.Contents(ctx, mbox, account)
}

// RestoreTrash dials the account and moves the given trash messages back
// into dest. An empty dest restores to the inbox.
func (e *Executor) RestoreTrash(ctx context.Context, account *domain.Account, uids []uint32, dest string) error {
	if len(uids) == 0 {
		return apperr.MissingField("uids")
	}
	if dest == "" {
		dest = account.Folder(domain.FolderInbox)
	}
	mbox, err := e.dialer.Dial(ctx, account)
	if err != nil {
		return err
	}
	defer mbox.Close()
	return e.trash.Restore(ctx, mbox, account, uids, dest)
}

// PreviewResult summarizes what a live run would do.
type PreviewResult struct {
	AccountEmail    string                    `json:"account_email"`
	Policies        []*domain.RetentionResult `json:"policies"`
	Trash           *domain.RetentionResult   `json:"trash"`
	EmailsToTrash   int                       `json:"emails_to_trash"`
	EmailsToDelete  int                       `json:"emails_to_delete"`
	FoldersAffected []string                  `json:"folders_affected"`
}

// Preview dry-runs every policy plus the trash purge for one account.
func (e *Executor) Preview(ctx context.Context, account *domain.Account) (*PreviewResult, error) {
	mbox, err := e.dialer.Dial(ctx, account)
	if err != nil {
		return nil, err
	}
	defer mbox.Close()

	preview := &PreviewResult{AccountEmail: account.Email}
	seenFolders := make(map[string]bool)
	for _, policy := range e.store.ActiveFolderPolicies() {
		result, _ := e.ExecuteStage1(ctx, mbox, account, policy, "", true)
		preview.Policies = append(preview.Policies, result)
		preview.EmailsToTrash += result.EmailsAffected
		if result.EmailsAffected > 0 && !seenFolders[result.Folder] {
			seenFolders[result.Folder] = true
			preview.FoldersAffected = append(preview.FoldersAffected, result.Folder)
		}
	}

	trashDays := e.store.Global().DefaultTrashRetentionDays
	trashResult, _ := e.ExecuteStage2(ctx, mbox, account, trashDays, true)
	preview.Trash = trashResult
	preview.EmailsToDelete = trashResult.EmailsAffected
	return preview, nil
}
