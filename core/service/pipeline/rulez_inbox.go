package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/config"
	"mailrulez/core/domain"
	"mailrulez/core/port/out"
	"mailrulez/core/service/lists"
	"mailrulez/core/service/retention"
	"mailrulez/core/service/rules"
)

// Service classifies inbox mail against rules and sender lists and
// processes the training folders.
type Service struct {
	cfg      *config.Config
	lists    *lists.Store
	rules    *rules.Engine
	policies *retention.PolicyStore
	log      zerolog.Logger
}

// NewService creates the pipeline service.
func NewService(cfg *config.Config, listStore *lists.Store, ruleEngine *rules.Engine, policies *retention.PolicyStore) *Service {
	return &Service{
		cfg:      cfg,
		lists:    listStore,
		rules:    ruleEngine,
		policies: policies,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessInbox runs one classification pass over the inbox. In startup
// mode whitelisted mail moves to the processed folder; in maintenance
// mode it stays in the inbox. Returns per-category and per-folder counts.
func (s *Service) ProcessInbox(ctx context.Context, mbox out.Mailbox, account *domain.Account, limit int, maintenance bool) (*domain.BatchResult, error) {
	start := time.Now()
	result := &domain.BatchResult{
		Categories: make(map[string]int),
		Folders:    make(map[string]int),
	}

	// Retention-bearing rules get their policies before any moves happen.
	if _, err := s.policies.EnsureRulePolicies(s.rules.RetentionBearingRules()); err != nil {
		s.log.Warn().Err(err).Msg("failed to ensure rule retention policies")
	}

	inbox := account.Folder(domain.FolderInbox)
	messages, err := mbox.FetchHeaders(ctx, inbox, limit)
	if err != nil {
		result.Error = err.Error()
		result.ProcessingTime = time.Since(start).Seconds()
		return result, err
	}

	// Stored rules run first; rule-handled messages skip list dispatch.
	handled, ruleCounts, err := s.applyRules(ctx, mbox, account, inbox, messages)
	if err != nil {
		s.log.Warn().Err(err).Msg("rule application finished with errors")
	}
	for folder, n := range ruleCounts {
		result.Folders[folder] += n
		result.Categories["rules"] += n
	}

	white, err := s.lists.ContainsSet("white")
	if err != nil {
		return result, err
	}
	black, err := s.lists.ContainsSet("black")
	if err != nil {
		return result, err
	}
	vendor, err := s.lists.ContainsSet("vendor")
	if err != nil {
		return result, err
	}

	byDest := make(map[string][]uint32)
	processedFolder := account.Folder(domain.FolderProcessed)
	junkFolder := account.Folder(domain.FolderJunk)
	adsFolder := account.Folder(domain.FolderApprovedAds)
	pendingFolder := account.Folder(domain.FolderPending)

	for _, msg := range messages {
		if handled[msg.UID] {
			continue
		}
		sender := msg.SenderAddress()
		switch {
		case white[sender]:
			result.Categories["whitelisted"]++
			if maintenance {
				// Whitelisted mail stays in the inbox during maintenance.
				continue
			}
			byDest[processedFolder] = append(byDest[processedFolder], msg.UID)
		case black[sender]:
			result.Categories["blacklisted"]++
			byDest[junkFolder] = append(byDest[junkFolder], msg.UID)
		case vendor[sender]:
			result.Categories["vendor"]++
			byDest[adsFolder] = append(byDest[adsFolder], msg.UID)
		default:
			result.Categories["pending"]++
			byDest[pendingFolder] = append(byDest[pendingFolder], msg.UID)
		}
	}

	moved := 0
	for dest, uids := range byDest {
		moveResult, err := mbox.MoveWithLabels(ctx, inbox, uids, dest)
		if err != nil {
			s.log.Error().Err(err).Str("dest", dest).Int("count", len(uids)).Msg("move failed")
			result.Error = err.Error()
			continue
		}
		moved += moveResult.Moved
		result.Folders[dest] += moveResult.Moved
	}

	if !maintenance {
		// Vendor mail ages out of approved ads on the legacy schedule.
		s.legacyPurge(ctx, mbox, adsFolder, s.cfg.GetRetentionSetting(domain.FolderApprovedAds))
	}

	remaining, err := mbox.CountMessages(ctx, inbox)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to count remaining inbox messages")
		remaining = 0
	}

	result.Success = result.Error == ""
	result.EmailsProcessed = len(messages)
	result.InboxRemaining = remaining
	result.HasMore = remaining > 0
	result.ProcessingTime = time.Since(start).Seconds()

	s.log.Info().
		Str("account", account.Email).
		Int("fetched", len(messages)).
		Int("moved", moved).
		Int("remaining", remaining).
		Bool("maintenance", maintenance).
		Msg("inbox pass finished")
	return result, nil
}

// ProcessInboxBatch is the manual "process next N" startup operation,
// reporting before and after inbox counts.
func (s *Service) ProcessInboxBatch(ctx context.Context, mbox out.Mailbox, account *domain.Account, limit int) (*domain.BatchResult, error) {
	inbox := account.Folder(domain.FolderInbox)
	before, err := mbox.CountMessages(ctx, inbox)
	if err != nil {
		return nil, err
	}
	result, err := s.ProcessInbox(ctx, mbox, account, limit, false)
	if err != nil {
		return result, err
	}
	result.EmailsProcessed = before - result.InboxRemaining
	if result.EmailsProcessed < 0 {
		result.EmailsProcessed = 0
	}
	return result, nil
}

// applyRules evaluates stored rules against the fetched messages and
// executes their actions. Returns the set of rule-handled UIDs and the
// per-folder move counts.
func (s *Service) applyRules(ctx context.Context, mbox out.Mailbox, account *domain.Account, folder string, messages []domain.MessageMeta) (map[uint32]bool, map[string]int, error) {
	handled := make(map[uint32]bool)
	counts := make(map[string]int)
	byDest := make(map[string][]uint32)
	var markRead []uint32
	var firstErr error

	for i := range messages {
		msg := &messages[i]
		actions := s.rules.MatchedActions(msg, account.Email, s.lists)
		for _, action := range actions {
			switch action.Type {
			case domain.ActionMoveToFolder:
				if action.TargetFolder != "" && !handled[msg.UID] {
					byDest[action.TargetFolder] = append(byDest[action.TargetFolder], msg.UID)
					handled[msg.UID] = true
				}
			case domain.ActionAddToList:
				if action.ListName != "" {
					if err := s.lists.Add(action.ListName, msg.SenderAddress()); err != nil && firstErr == nil {
						firstErr = err
					}
				}
			case domain.ActionCreateList:
				if action.ListName != "" {
					if err := s.lists.CreateList(action.ListName); err != nil && firstErr == nil {
						firstErr = err
					}
				}
			case domain.ActionMarkRead:
				markRead = append(markRead, msg.UID)
			case domain.ActionSetRetention:
				// Retention actions take effect through their auto-created
				// policies, not at classification time.
			}
		}
	}

	if len(markRead) > 0 {
		if err := mbox.MarkRead(ctx, folder, markRead); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for dest, uids := range byDest {
		moveResult, err := mbox.MoveWithLabels(ctx, folder, uids, dest)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[dest] += moveResult.Moved
	}
	return handled, counts, firstErr
}

// legacyPurge deletes messages older than days from a folder, the
// pre-policy retention behavior kept for the startup pipeline.
func (s *Service) legacyPurge(ctx context.Context, mbox out.Mailbox, folder string, days int) {
	if days < 1 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	old, err := mbox.FetchOlderThan(ctx, folder, cutoff, 0)
	if err != nil {
		s.log.Warn().Err(err).Str("folder", folder).Msg("legacy purge fetch failed")
		return
	}
	if len(old) == 0 {
		return
	}
	uids := make([]uint32, len(old))
	for i, m := range old {
		uids[i] = m.UID
	}
	if err := mbox.Delete(ctx, folder, uids); err != nil {
		s.log.Warn().Err(err).Str("folder", folder).Msg("legacy purge delete failed")
		return
	}
	s.log.Info().Str("folder", folder).Int("deleted", len(uids)).Msg("legacy retention purge")
}
