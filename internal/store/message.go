package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or merges a message row, idempotent on
// (chat_id, id). sender_id, ts and from_me always take the incoming
// value; every other field keeps the existing value when the incoming one
// is empty or null. That makes replays from overlapping paginated fetches
// safe: a re-sync that did not re-download media never clears media_path.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, ts, edit_ts, from_me, text, media_type, media_path, reply_to_id, topic_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, id) DO UPDATE SET
			sender_id = excluded.sender_id,
			ts = excluded.ts,
			from_me = excluded.from_me,
			edit_ts = COALESCE(excluded.edit_ts, messages.edit_ts),
			text = CASE WHEN excluded.text != '' THEN excluded.text ELSE messages.text END,
			media_type = COALESCE(excluded.media_type, messages.media_type),
			media_path = COALESCE(excluded.media_path, messages.media_path),
			reply_to_id = COALESCE(excluded.reply_to_id, messages.reply_to_id),
			topic_id = COALESCE(excluded.topic_id, messages.topic_id)`,
		m.ID, m.ChatID, m.SenderID, m.TS.UnixMilli(), nullMilli(m.EditTS), m.FromMe,
		m.Text, nullString(m.MediaType), nullString(m.MediaPath),
		nullInt(m.ReplyToID), nullInt(m.TopicID))
	return err
}

// ApplyEdit updates only the text and edit timestamp of an existing
// message. Other fields are deliberately untouched.
func (db *DB) ApplyEdit(chatID, id int64, text string, editTS time.Time) error {
	_, err := db.Exec(`UPDATE messages SET text = ?, edit_ts = ? WHERE chat_id = ? AND id = ?`,
		text, editTS.UnixMilli(), chatID, id)
	return err
}

// GetMessage returns a message by key, or nil when absent.
func (db *DB) GetMessage(chatID, id int64) (*Message, error) {
	row := db.QueryRow(messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`, chatID, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

const messageColumns = `SELECT id, chat_id, sender_id, ts, edit_ts, from_me, text, media_type, media_path, reply_to_id, topic_id`

// ListMessages returns messages in chronological order applying the
// given filters.
func (db *DB) ListMessages(p ListMessagesParams) ([]Message, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	q := newQuery(messageColumns + ` FROM messages`)
	if p.ChatID != 0 {
		q.where(`chat_id = ?`, p.ChatID)
	}
	if p.TopicID != 0 {
		q.where(`topic_id = ?`, p.TopicID)
	}
	if p.SenderID != 0 {
		q.where(`sender_id = ?`, p.SenderID)
	}
	if p.MediaType != "" {
		q.where(`media_type = ?`, p.MediaType)
	}
	if p.After != nil {
		q.where(`ts > ?`, p.After.UnixMilli())
	}
	if p.Before != nil {
		q.where(`ts < ?`, p.Before.UnixMilli())
	}
	q.whereNotIn(`chat_id`, p.IgnoreChats)
	if p.IgnoreChannels {
		q.where(`chat_id NOT IN (SELECT id FROM chats WHERE kind = ?)`, KindChannel)
	}
	sqlStr, args := q.build(`ORDER BY ts DESC LIMIT ?`, p.Limit)

	msgs, err := db.queryMessages(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// MessageContext returns up to before messages preceding and after
// messages following the target message by timestamp, with the target in
// the middle, in chronological order.
func (db *DB) MessageContext(chatID, id int64, before, after int64) ([]Message, error) {
	target, err := db.GetMessage(chatID, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("message %d/%d not found", chatID, id)
	}

	prev, err := db.queryMessages(
		messageColumns+` FROM messages WHERE chat_id = ? AND ts < ? ORDER BY ts DESC LIMIT ?`,
		chatID, target.TS.UnixMilli(), before)
	if err != nil {
		return nil, err
	}
	reverse(prev)

	next, err := db.queryMessages(
		messageColumns+` FROM messages WHERE chat_id = ? AND ts > ? ORDER BY ts ASC LIMIT ?`,
		chatID, target.TS.UnixMilli(), after)
	if err != nil {
		return nil, err
	}

	out := append(prev, *target)
	return append(out, next...), nil
}

// OldestMessageID returns the lowest cached message id for a chat (and
// optionally a topic), or 0 when none are cached. Drives backfill offsets.
func (db *DB) OldestMessageID(chatID, topicID int64) (int64, error) {
	q := newQuery(`SELECT COALESCE(MIN(id), 0) FROM messages`)
	q.where(`chat_id = ?`, chatID)
	if topicID != 0 {
		q.where(`topic_id = ?`, topicID)
	}
	sqlStr, args := q.build("")

	var id int64
	err := db.QueryRow(sqlStr, args...).Scan(&id)
	return id, err
}

// PruneMessages deletes all but the keep most recent messages (by id) in
// a chat, returning the number of deleted rows.
func (db *DB) PruneMessages(chatID int64, keep int64) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM messages WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		)`, chatID, chatID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryMessages(sqlStr string, args ...any) ([]Message, error) {
	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var ts int64
	var editTS, replyTo, topicID sql.NullInt64
	var mediaType, mediaPath sql.NullString
	if err := r.Scan(&m.ID, &m.ChatID, &m.SenderID, &ts, &editTS, &m.FromMe,
		&m.Text, &mediaType, &mediaPath, &replyTo, &topicID); err != nil {
		return nil, err
	}
	m.TS = time.UnixMilli(ts).UTC()
	if editTS.Valid {
		t := time.UnixMilli(editTS.Int64).UTC()
		m.EditTS = &t
	}
	m.MediaType = mediaType.String
	m.MediaPath = mediaPath.String
	m.ReplyToID = replyTo.Int64
	m.TopicID = topicID.Int64
	return &m, nil
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
