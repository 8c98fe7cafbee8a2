package trashmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailrulez/core/port/out"
)

const schema = `
CREATE TABLE IF NOT EXISTS trash_meta (
	account         TEXT    NOT NULL,
	folder          TEXT    NOT NULL,
	uid             INTEGER NOT NULL,
	moved_at        TIMESTAMP NOT NULL,
	original_folder TEXT    NOT NULL DEFAULT '',
	policy_id       TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (account, folder, uid)
);
`

// Store persists trash move metadata in a local sqlite database so
// recovery windows count from the real move time, not the message date.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the side table.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trash meta db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init trash meta schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordMoves upserts one row per trashed message.
func (s *Store) RecordMoves(ctx context.Context, records []out.TrashRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `INSERT INTO trash_meta (account, folder, uid, moved_at, original_folder, policy_id)
		VALUES (:account, :folder, :uid, :moved_at, :original_folder, :policy_id)
		ON CONFLICT (account, folder, uid) DO UPDATE SET
			moved_at = excluded.moved_at,
			original_folder = excluded.original_folder,
			policy_id = excluded.policy_id`
	for _, rec := range records {
		if _, err := tx.NamedExecContext(ctx, q, rec); err != nil {
			return fmt.Errorf("record trash move uid %d: %w", rec.UID, err)
		}
	}
	return tx.Commit()
}

// Lookup returns the record for one message, or nil when absent.
func (s *Store) Lookup(ctx context.Context, account, folder string, uid uint32) (*out.TrashRecord, error) {
	var rec out.TrashRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT account, folder, uid, moved_at, original_folder, policy_id
		 FROM trash_meta WHERE account = ? AND folder = ? AND uid = ?`,
		account, folder, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecords drops rows for messages that left the trash.
func (s *Store) DeleteRecords(ctx context.Context, account, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM trash_meta WHERE account = ? AND folder = ? AND uid IN (?)`,
		account, folder, uids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
