package retention

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/core/domain"
	"mailrulez/core/port/out"
	"mailrulez/pkg/apperr"
)

// Provider trash folder candidates, tried in order.
var providerTrashPatterns = map[string][]string{
	"gmail":   {"[Gmail]/Trash", "[Google Mail]/Trash"},
	"outlook": {"Deleted Items", "INBOX.Deleted Items"},
	"yahoo":   {"Trash", "INBOX.Trash"},
	"icloud":  {"INBOX.Trash"},
	"default": {"INBOX.Trash", "Trash", "INBOX.Deleted Items"},
}

func detectProvider(email string) string {
	domainPart := domain.AddressDomain(email)
	switch domainPart {
	case "gmail.com", "googlemail.com":
		return "gmail"
	case "outlook.com", "hotmail.com", "live.com":
		return "outlook"
	case "yahoo.com", "yahoo.co.uk":
		return "yahoo"
	case "icloud.com", "me.com", "mac.com":
		return "icloud"
	default:
		return "default"
	}
}

// TrashManager locates trash folders and runs the second lifecycle stage.
type TrashManager struct {
	store *PolicyStore
	audit *AuditLogger
	meta  out.TrashMetaStore
	log   zerolog.Logger
}

// NewTrashManager creates a TrashManager. meta may be nil, in which case
// recovery windows fall back to message dates.
func NewTrashManager(store *PolicyStore, audit *AuditLogger, meta out.TrashMetaStore) *TrashManager {
	return &TrashManager{
		store: store,
		audit: audit,
		meta:  meta,
		log:   log.With().Str("component", "trash").Logger(),
	}
}

func (t *TrashManager) configuredPattern(provider string) string {
	cfg := t.store.TrashFolders()
	switch provider {
	case "gmail":
		return cfg.GmailPattern
	case "outlook":
		return cfg.OutlookPattern
	case "icloud":
		return cfg.ICloudPattern
	default:
		return cfg.Default
	}
}

// TrashFolder resolves the trash folder for an account: explicit account
// override first, then provider patterns intersected with the listed
// folders, then the defaults, then the provider's first pattern.
func (t *TrashManager) TrashFolder(ctx context.Context, mbox out.Mailbox, account *domain.Account) (string, error) {
	if account.Folders != nil {
		if name, ok := account.Folders[domain.FolderTrash]; ok && name != "" {
			return name, nil
		}
	}

	provider := detectProvider(account.Email)
	patterns := make([]string, 0, 4)
	if configured := t.configuredPattern(provider); configured != "" {
		patterns = append(patterns, configured)
	}
	patterns = append(patterns, providerTrashPatterns[provider]...)

	listed, err := mbox.ListFolders(ctx)
	if err != nil {
		return "", apperr.TrashFolderNotFound(account.Email).WithError(err)
	}
	exists := make(map[string]bool, len(listed))
	for _, name := range listed {
		exists[name] = true
	}
	for _, pattern := range patterns {
		if exists[pattern] {
			return pattern, nil
		}
	}
	for _, pattern := range providerTrashPatterns["default"] {
		if exists[pattern] {
			return pattern, nil
		}
	}
	return patterns[0], nil
}

// MoveToTrash moves messages from a folder into the trash, records the
// move metadata and audits the operation.
func (t *TrashManager) MoveToTrash(ctx context.Context, mbox out.Mailbox, account *domain.Account, folder string, messages []domain.MessageMeta, policyID string) (*out.MoveResult, error) {
	if len(messages) == 0 {
		return &out.MoveResult{}, nil
	}
	trashFolder, err := t.TrashFolder(ctx, mbox, account)
	if err != nil {
		return nil, err
	}
	uids := make([]uint32, len(messages))
	for i, m := range messages {
		uids[i] = m.UID
	}

	result, err := mbox.MoveWithLabels(ctx, folder, uids, trashFolder)
	if err != nil {
		t.audit.LogTrashOperation("move_to_trash", account.Email, folder, uids, false, err.Error())
		return nil, apperr.TrashOperation("move_to_trash", folder, err.Error()).WithError(err)
	}
	t.audit.LogTrashOperation("move_to_trash", account.Email, folder, uids, true, "")

	if t.meta != nil {
		now := time.Now().UTC()
		records := make([]out.TrashRecord, len(messages))
		for i, m := range messages {
			records[i] = out.TrashRecord{
				Account:        strings.ToLower(account.Email),
				Folder:         trashFolder,
				UID:            m.UID,
				MovedAt:        now,
				OriginalFolder: folder,
				PolicyID:       policyID,
			}
		}
		if err := t.meta.RecordMoves(ctx, records); err != nil {
			t.log.Warn().Err(err).Msg("failed to record trash move metadata")
		}
	}
	return result, nil
}

// Contents lists the trash folder as TrashItems. Recovery windows count
// from recorded move times, falling back to message dates.
func (t *TrashManager) Contents(ctx context.Context, mbox out.Mailbox, account *domain.Account) ([]domain.TrashItem, error) {
	trashFolder, err := t.TrashFolder(ctx, mbox, account)
	if err != nil {
		return nil, err
	}
	messages, err := mbox.FetchHeaders(ctx, trashFolder, 0)
	if err != nil {
		return nil, apperr.TrashOperation("list", trashFolder, err.Error()).WithError(err)
	}
	retentionDays := t.store.Global().DefaultTrashRetentionDays

	items := make([]domain.TrashItem, 0, len(messages))
	for _, m := range messages {
		item := domain.TrashItem{
			UID:           m.UID,
			Sender:        m.Sender,
			Subject:       m.Subject,
			MovedAt:       m.Date,
			RetentionDays: retentionDays,
		}
		if t.meta != nil {
			rec, err := t.meta.Lookup(ctx, strings.ToLower(account.Email), trashFolder, m.UID)
			if err == nil && rec != nil {
				item.MovedAt = rec.MovedAt
				item.OriginalFolder = rec.OriginalFolder
				item.PolicyID = rec.PolicyID
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Restore moves messages out of the trash back into a folder.
func (t *TrashManager) Restore(ctx context.Context, mbox out.Mailbox, account *domain.Account, uids []uint32, dest string) error {
	trashFolder, err := t.TrashFolder(ctx, mbox, account)
	if err != nil {
		return err
	}
	if err := mbox.Move(ctx, trashFolder, uids, dest); err != nil {
		t.audit.LogTrashOperation("restore", account.Email, trashFolder, uids, false, err.Error())
		return apperr.TrashOperation("restore", trashFolder, err.Error()).WithError(err)
	}
	t.audit.LogTrashOperation("restore", account.Email, trashFolder, uids, true, "")
	t.dropMeta(ctx, account, trashFolder, uids)
	return nil
}

// PermanentDelete removes specific messages from the trash for good.
func (t *TrashManager) PermanentDelete(ctx context.Context, mbox out.Mailbox, account *domain.Account, uids []uint32) (int, error) {
	trashFolder, err := t.TrashFolder(ctx, mbox, account)
	if err != nil {
		return 0, err
	}
	if err := mbox.Delete(ctx, trashFolder, uids); err != nil {
		t.audit.LogTrashOperation("permanent_delete", account.Email, trashFolder, uids, false, err.Error())
		return 0, apperr.TrashOperation("permanent_delete", trashFolder, err.Error()).WithError(err)
	}
	t.audit.LogTrashOperation("permanent_delete", account.Email, trashFolder, uids, true, "")
	t.dropMeta(ctx, account, trashFolder, uids)
	return len(uids), nil
}

// CandidatesOlderThan returns trash items whose recovery window of
// daysOld has lapsed.
func (t *TrashManager) CandidatesOlderThan(ctx context.Context, mbox out.Mailbox, account *domain.Account, daysOld int) ([]domain.TrashItem, error) {
	items, err := t.Contents(ctx, mbox, account)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var expired []domain.TrashItem
	for _, item := range items {
		if item.DaysInTrash(now) >= daysOld {
			expired = append(expired, item)
		}
	}
	return expired, nil
}

// PurgeOlderThan permanently deletes trash items older than daysOld,
// capped at max when max > 0.
func (t *TrashManager) PurgeOlderThan(ctx context.Context, mbox out.Mailbox, account *domain.Account, daysOld, max int) (int, error) {
	expired, err := t.CandidatesOlderThan(ctx, mbox, account, daysOld)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if max > 0 && len(expired) > max {
		expired = expired[:max]
	}
	uids := make([]uint32, len(expired))
	for i, item := range expired {
		uids[i] = item.UID
	}
	return t.PermanentDelete(ctx, mbox, account, uids)
}

func (t *TrashManager) dropMeta(ctx context.Context, account *domain.Account, trashFolder string, uids []uint32) {
	if t.meta == nil {
		return
	}
	if err := t.meta.DeleteRecords(ctx, strings.ToLower(account.Email), trashFolder, uids); err != nil {
		t.log.Warn().Err(err).Msg("failed to drop trash metadata")
	}
}
