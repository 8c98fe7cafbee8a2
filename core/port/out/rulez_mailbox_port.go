package out

import (
	"context"
	"time"

	"mailrulez/core/domain"
)

// MoveResult reports a gmail-aware move. Label removal failures are
// collected, never fatal.
type MoveResult struct {
	Moved         int      `json:"moved"`
	LabelsRemoved int      `json:"labels_removed"`
	Errors        []string `json:"errors,omitempty"`
}

// Mailbox is one live IMAP session for one account. Implementations fetch
// headers only and never set \Seen as a side effect.
type Mailbox interface {
	// SelectFolder opens a folder and returns its message count.
	SelectFolder(ctx context.Context, folder string) (int, error)

	// ListFolders returns all selectable folder names.
	ListFolders(ctx context.Context) ([]string, error)

	// FetchHeaders returns up to limit messages from the folder, newest
	// first. limit <= 0 fetches everything.
	FetchHeaders(ctx context.Context, folder string, limit int) ([]domain.MessageMeta, error)

	// FetchOlderThan returns up to max messages whose internal date is
	// before the cutoff, newest first. max <= 0 means no cap.
	FetchOlderThan(ctx context.Context, folder string, cutoff time.Time, max int) ([]domain.MessageMeta, error)

	// Move relocates messages by UID from the currently relevant folder.
	Move(ctx context.Context, folder string, uids []uint32, dest string) error

	// MoveWithLabels is the gmail-aware move: MOVE plus source label
	// removal on Gmail accounts, a plain move elsewhere.
	MoveWithLabels(ctx context.Context, folder string, uids []uint32, dest string) (*MoveResult, error)

	// Delete flags messages \Deleted and expunges them.
	Delete(ctx context.Context, folder string, uids []uint32) error

	// MarkRead sets \Seen explicitly.
	MarkRead(ctx context.Context, folder string, uids []uint32) error

	// EnsureFolder creates the folder when it does not exist.
	EnsureFolder(ctx context.Context, folder string) error

	// CountMessages returns the folder's message count.
	CountMessages(ctx context.Context, folder string) (int, error)

	// Close logs out and releases the connection.
	Close() error
}

// MailboxDialer produces mailbox sessions.
type MailboxDialer interface {
	Dial(ctx context.Context, account *domain.Account) (Mailbox, error)
}

// TrashRecord ties a trashed message to its true move time and origin.
type TrashRecord struct {
	Account        string    `db:"account"`
	Folder         string    `db:"folder"`
	UID            uint32    `db:"uid"`
	MovedAt        time.Time `db:"moved_at"`
	OriginalFolder string    `db:"original_folder"`
	PolicyID       string    `db:"policy_id"`
}

// TrashMetaStore persists trash move metadata so recovery windows count
// from the real move time rather than the message date.
type TrashMetaStore interface {
	RecordMoves(ctx context.Context, records []TrashRecord) error
	Lookup(ctx context.Context, account, folder string, uid uint32) (*TrashRecord, error)
	DeleteRecords(ctx context.Context, account, folder string, uids []uint32) error
	Close() error
}
