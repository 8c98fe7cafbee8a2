package imapmail

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/core/domain"
	"mailrulez/core/port/out"
)

const (
	socketTimeout  = 30 * time.Second
	fetchChunkSize = 500
)

// mailboxClient wraps one go-imap session and implements out.Mailbox.
type mailboxClient struct {
	c        *client.Client
	account  *domain.Account
	selected string
	log      zerolog.Logger
}

func newMailboxClient(c *client.Client, account *domain.Account) *mailboxClient {
	return &mailboxClient{
		c:       c,
		account: account,
		log: log.With().
			Str("component", "imap").
			Str("account", account.Email).
			Logger(),
	}
}

func (m *mailboxClient) selectFolder(folder string) (*imap.MailboxStatus, error) {
	status, err := m.c.Select(folder, false)
	if err != nil {
		m.selected = ""
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	m.selected = folder
	return status, nil
}

func (m *mailboxClient) ensureSelected(folder string) (*imap.MailboxStatus, error) {
	return m.selectFolder(folder)
}

// SelectFolder opens a folder and returns its message count.
func (m *mailboxClient) SelectFolder(ctx context.Context, folder string) (int, error) {
	status, err := m.selectFolder(folder)
	if err != nil {
		return 0, err
	}
	return int(status.Messages), nil
}

// ListFolders returns all selectable folders.
func (m *mailboxClient) ListFolders(ctx context.Context) ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- m.c.List("", "*", mailboxes)
	}()

	var names []string
	for mbox := range mailboxes {
		selectable := true
		for _, attr := range mbox.Attributes {
			if attr == imap.NoSelectAttr {
				selectable = false
				break
			}
		}
		if selectable {
			names = append(names, mbox.Name)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// FetchHeaders returns up to limit messages, newest first. Envelope-level
// fetches never mark messages seen.
func (m *mailboxClient) FetchHeaders(ctx context.Context, folder string, limit int) ([]domain.MessageMeta, error) {
	status, err := m.ensureSelected(folder)
	if err != nil {
		return nil, err
	}
	total := int(status.Messages)
	if total == 0 {
		return nil, nil
	}

	from := uint32(1)
	if limit > 0 && total > limit {
		from = uint32(total - limit + 1)
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, uint32(total))

	metas, err := m.fetch(seqset, folder, false)
	if err != nil {
		return nil, err
	}
	// Newest first
	for i, j := 0, len(metas)-1; i < j; i, j = i+1, j-1 {
		metas[i], metas[j] = metas[j], metas[i]
	}
	return metas, nil
}

// FetchOlderThan returns messages whose internal date is before the cutoff.
func (m *mailboxClient) FetchOlderThan(ctx context.Context, folder string, cutoff time.Time, max int) ([]domain.MessageMeta, error) {
	if _, err := m.ensureSelected(folder); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.Before = cutoff
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s before %s: %w", folder, cutoff.Format("2006-01-02"), err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	// Newest first
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if max > 0 && len(uids) > max {
		uids = uids[:max]
	}

	var metas []domain.MessageMeta
	for start := 0; start < len(uids); start += fetchChunkSize {
		end := start + fetchChunkSize
		if end > len(uids) {
			end = len(uids)
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uids[start:end]...)
		chunk, err := m.fetch(seqset, folder, true)
		if err != nil {
			return nil, err
		}
		metas = append(metas, chunk...)
	}
	return metas, nil
}

func (m *mailboxClient) fetch(seqset *imap.SeqSet, folder string, byUID bool) ([]domain.MessageMeta, error) {
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate}
	messages := make(chan *imap.Message, 64)
	done := make(chan error, 1)
	go func() {
		if byUID {
			done <- m.c.UidFetch(seqset, items, messages)
		} else {
			done <- m.c.Fetch(seqset, items, messages)
		}
	}()

	var metas []domain.MessageMeta
	for msg := range messages {
		meta := domain.MessageMeta{
			UID:    msg.Uid,
			Date:   msg.InternalDate,
			Folder: folder,
		}
		if env := msg.Envelope; env != nil {
			meta.Subject = env.Subject
			if !env.Date.IsZero() {
				meta.Date = env.Date
			}
			if len(env.From) > 0 && env.From[0] != nil {
				meta.Sender = env.From[0].Address()
			}
		}
		metas = append(metas, meta)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return metas, nil
}

// Move relocates messages by UID.
func (m *mailboxClient) Move(ctx context.Context, folder string, uids []uint32, dest string) error {
	if len(uids) == 0 {
		return nil
	}
	if _, err := m.ensureSelected(folder); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	if err := m.c.UidMove(seqset, dest); err != nil {
		return fmt.Errorf("move %d messages to %s: %w", len(uids), dest, err)
	}
	return nil
}

// sourceLabelForMove decides whether a move out of folder needs Gmail
// label surgery and which label to strip. MOVE already clears the \Inbox
// label, and non-Gmail servers have no label bookkeeping at all.
func sourceLabelForMove(account *domain.Account, folder string) (string, bool) {
	if !account.IsGmail() || strings.EqualFold(folder, "INBOX") {
		return "", false
	}
	return strings.TrimPrefix(folder, "INBOX."), true
}

// MoveWithLabels performs a gmail-aware move. On Gmail a folder is a
// label, so the move is COPY (adds the destination label) followed by a
// per-UID `-X-GM-LABELS` store stripping the source label, both issued
// while the source folder is still selected: UIDs are per-mailbox and
// only remain valid there. Everything else gets a plain MOVE. Label
// removal failures never fail the move.
func (m *mailboxClient) MoveWithLabels(ctx context.Context, folder string, uids []uint32, dest string) (*out.MoveResult, error) {
	result := &out.MoveResult{}
	if len(uids) == 0 {
		return result, nil
	}

	label, surgery := sourceLabelForMove(m.account, folder)
	if !surgery {
		if err := m.Move(ctx, folder, uids, dest); err != nil {
			return result, err
		}
		result.Moved = len(uids)
		return result, nil
	}

	if _, err := m.ensureSelected(folder); err != nil {
		return result, err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	if err := m.c.UidCopy(seqset, dest); err != nil {
		return result, fmt.Errorf("copy %d messages to %s: %w", len(uids), dest, err)
	}
	result.Moved = len(uids)

	item := imap.StoreItem("-X-GM-LABELS")
	var stuck []uint32
	for _, uid := range uids {
		one := new(imap.SeqSet)
		one.AddNum(uid)
		if err := m.c.UidStore(one, item, []interface{}{label}, nil); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("uid %d: %v", uid, err))
			stuck = append(stuck, uid)
			continue
		}
		result.LabelsRemoved++
	}
	if len(stuck) > 0 {
		// The copies exist in dest; expunge the leftovers out of the source
		// label so the move still completes.
		if err := m.Delete(ctx, folder, stuck); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("expunge leftovers: %v", err))
		}
		m.log.Warn().
			Int("failed", len(stuck)).
			Str("label", label).
			Msg("some gmail label removals failed")
	}
	return result, nil
}

// Delete flags \Deleted and expunges.
func (m *mailboxClient) Delete(ctx context.Context, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	if _, err := m.ensureSelected(folder); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("flag deleted: %w", err)
	}
	if err := m.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge %s: %w", folder, err)
	}
	return nil
}

// MarkRead sets \Seen explicitly.
func (m *mailboxClient) MarkRead(ctx context.Context, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	if _, err := m.ensureSelected(folder); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// EnsureFolder creates the folder when missing.
func (m *mailboxClient) EnsureFolder(ctx context.Context, folder string) error {
	folders, err := m.ListFolders(ctx)
	if err != nil {
		return err
	}
	for _, name := range folders {
		if name == folder {
			return nil
		}
	}
	if err := m.c.Create(folder); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	m.log.Info().Str("folder", folder).Msg("created folder")
	return nil
}

// CountMessages returns the folder's message count.
func (m *mailboxClient) CountMessages(ctx context.Context, folder string) (int, error) {
	return m.SelectFolder(ctx, folder)
}

// Close logs out.
func (m *mailboxClient) Close() error {
	m.c.Timeout = 5 * time.Second
	return m.c.Logout()
}
