package pipeline

import (
	"context"

	"mailrulez/core/domain"
	"mailrulez/core/port/out"
)

// trainingFolder binds a training folder to its sender list and the
// destination its mail drains to.
type trainingFolder struct {
	folderRole string
	listName   string
	destRole   string
}

// Training folder wiring: dropping a message into one of these folders
// teaches the engine the sender and files the message. The whitelist
// destination depends on the invocation path: a manual startup batch
// files trained mail straight into the processed folder, while the
// periodic maintenance pass returns it to the inbox for the next
// classification run.
var trainingFolders = []trainingFolder{
	{folderRole: domain.FolderWhitelist, listName: "white", destRole: domain.FolderInbox},
	{folderRole: domain.FolderBlacklist, listName: "black", destRole: domain.FolderJunk},
	{folderRole: domain.FolderVendor, listName: "vendor", destRole: domain.FolderApprovedAds},
}

// TrainingResult reports one training folder pass.
type TrainingResult struct {
	Folder       string `json:"folder"`
	List         string `json:"list"`
	SendersAdded int    `json:"senders_added"`
	EmailsMoved  int    `json:"emails_moved"`
	Error        string `json:"error,omitempty"`
}

// ProcessTrainingFolders drains each training folder: unseen senders are
// added to the folder's list, then every message moves to the
// destination, which finally gets the legacy retention purge. manual
// selects the manual-batch whitelist destination (processed).
func (s *Service) ProcessTrainingFolders(ctx context.Context, mbox out.Mailbox, account *domain.Account, manual bool) []TrainingResult {
	results := make([]TrainingResult, 0, len(trainingFolders))
	for _, tf := range trainingFolders {
		if manual && tf.folderRole == domain.FolderWhitelist {
			tf.destRole = domain.FolderProcessed
		}
		results = append(results, s.processTrainingFolder(ctx, mbox, account, tf))
	}
	return results
}

func (s *Service) processTrainingFolder(ctx context.Context, mbox out.Mailbox, account *domain.Account, tf trainingFolder) TrainingResult {
	folder := account.Folder(tf.folderRole)
	dest := account.Folder(tf.destRole)
	result := TrainingResult{Folder: folder, List: tf.listName}

	messages, err := mbox.FetchHeaders(ctx, folder, 0)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if len(messages) == 0 {
		return result
	}

	senders := make([]string, 0, len(messages))
	uids := make([]uint32, 0, len(messages))
	for _, msg := range messages {
		if addr := msg.SenderAddress(); addr != "" {
			senders = append(senders, addr)
		}
		uids = append(uids, msg.UID)
	}

	added, err := s.lists.AddAll(tf.listName, senders)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.SendersAdded = added

	moveResult, err := mbox.MoveWithLabels(ctx, folder, uids, dest)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.EmailsMoved = moveResult.Moved

	if tf.destRole != domain.FolderInbox {
		s.legacyPurge(ctx, mbox, dest, s.cfg.GetRetentionSetting(tf.destRole))
	}

	s.log.Info().
		Str("account", account.Email).
		Str("folder", folder).
		Int("senders_added", added).
		Int("moved", moveResult.Moved).
		Msg("training folder processed")
	return result
}
