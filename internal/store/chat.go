package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or merges a chat row. Merge rules: kind and username
// win only when the incoming value is present, name only when non-empty,
// last_message_ts advances monotonically, is_forum is sticky-true, and a
// zero access_hash never clobbers a known one. The sync cursor is never
// touched here; see AdvanceCursor.
func (db *DB) UpsertChat(c *Chat) error {
	_, err := db.Exec(`
		INSERT INTO chats (id, kind, name, username, last_message_ts, is_forum, access_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE chats.kind END,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			username = COALESCE(excluded.username, chats.username),
			last_message_ts = CASE
				WHEN excluded.last_message_ts IS NOT NULL
					AND (chats.last_message_ts IS NULL OR excluded.last_message_ts > chats.last_message_ts)
				THEN excluded.last_message_ts
				ELSE chats.last_message_ts END,
			is_forum = MAX(chats.is_forum, excluded.is_forum),
			access_hash = CASE WHEN excluded.access_hash != 0 THEN excluded.access_hash ELSE chats.access_hash END`,
		c.ID, c.Kind, c.Name, nullString(c.Username), nullMilli(c.LastMessageTS), c.IsForum, c.AccessHash)
	return err
}

// GetChat returns a chat by id, or nil when absent.
func (db *DB) GetChat(id int64) (*Chat, error) {
	row := db.QueryRow(`
		SELECT id, kind, name, username, last_message_ts, is_forum, access_hash, last_sync_message_id
		FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListChats returns chats ordered by last message time descending,
// optionally filtered by a substring match on name or username.
func (db *DB) ListChats(match string, limit int64) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	q := newQuery(`SELECT id, kind, name, username, last_message_ts, is_forum, access_hash, last_sync_message_id FROM chats`)
	if match != "" {
		pattern := "%" + match + "%"
		q.where(`(name LIKE ? OR username LIKE ?)`, pattern, pattern)
	}
	sqlStr, args := q.build(`ORDER BY last_message_ts DESC LIMIT ?`, limit)

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// ChatIDs returns every cached chat id. Drives the messages-only re-sync
// scope, which skips remote dialog paging entirely.
func (db *DB) ChatIDs() ([]int64, error) {
	rows, err := db.Query(`SELECT id FROM chats ORDER BY last_message_ts DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cursor returns the chat's sync cursor, 0 when the chat is unknown or
// never synced.
func (db *DB) Cursor(chatID int64) (int64, error) {
	var cur int64
	err := db.QueryRow(`SELECT last_sync_message_id FROM chats WHERE id = ?`, chatID).Scan(&cur)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cur, err
}

// AdvanceCursor moves the chat's sync cursor forward to id. Callers must
// only invoke this after the corresponding message rows are durably
// upserted; a crash between message write and cursor advance is safe (the
// message is re-fetched), the reverse order would lose messages.
func (db *DB) AdvanceCursor(chatID, id int64) error {
	_, err := db.Exec(`
		UPDATE chats SET last_sync_message_id = ? WHERE id = ? AND last_sync_message_id < ?`,
		id, chatID, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (*Chat, error) {
	var c Chat
	var username sql.NullString
	var lastTS sql.NullInt64
	if err := r.Scan(&c.ID, &c.Kind, &c.Name, &username, &lastTS, &c.IsForum, &c.AccessHash, &c.LastSyncMessageID); err != nil {
		return nil, err
	}
	c.Username = username.String
	if lastTS.Valid {
		t := time.UnixMilli(lastTS.Int64).UTC()
		c.LastMessageTS = &t
	}
	return &c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullMilli(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
