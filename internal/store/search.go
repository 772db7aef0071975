package store

import (
	"database/sql"
	"time"
)

// SearchMessages finds messages matching a text query, newest first.
// Uses the FTS5 index when available, with snippets; otherwise falls back
// to a LIKE substring scan. Callers can inspect HasFTS to warn users
// about the slower path.
func (db *DB) SearchMessages(p SearchMessagesParams) ([]Message, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if db.hasFTS {
		return db.searchFTS(p)
	}
	return db.searchLike(p)
}

func (db *DB) searchFTS(p SearchMessagesParams) ([]Message, error) {
	q := newQuery(`
		SELECT m.id, m.chat_id, m.sender_id, m.ts, m.edit_ts, m.from_me, m.text,
		       m.media_type, m.media_path, m.reply_to_id, m.topic_id,
		       snippet(messages_fts, 0, '»', '«', '…', 40)
		FROM messages m
		JOIN messages_fts ON messages_fts.rowid = m.rowid`)
	q.where(`messages_fts MATCH ?`, p.Query)
	if p.ChatID != 0 {
		q.where(`m.chat_id = ?`, p.ChatID)
	}
	if p.SenderID != 0 {
		q.where(`m.sender_id = ?`, p.SenderID)
	}
	if p.MediaType != "" {
		q.where(`m.media_type = ?`, p.MediaType)
	}
	sqlStr, args := q.build(`ORDER BY m.ts DESC LIMIT ?`, p.Limit)

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessageSnippet(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (db *DB) searchLike(p SearchMessagesParams) ([]Message, error) {
	q := newQuery(messageColumns + ` FROM messages`)
	q.where(`text LIKE ?`, "%"+p.Query+"%")
	if p.ChatID != 0 {
		q.where(`chat_id = ?`, p.ChatID)
	}
	if p.SenderID != 0 {
		q.where(`sender_id = ?`, p.SenderID)
	}
	if p.MediaType != "" {
		q.where(`media_type = ?`, p.MediaType)
	}
	sqlStr, args := q.build(`ORDER BY ts DESC LIMIT ?`, p.Limit)
	msgs, err := db.queryMessages(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	// No snippet function without the index; the full text stands in.
	for i := range msgs {
		msgs[i].Snippet = msgs[i].Text
	}
	return msgs, nil
}

func scanMessageSnippet(r rowScanner) (*Message, error) {
	var m Message
	var ts int64
	var editTS, replyTo, topicID sql.NullInt64
	var mediaType, mediaPath sql.NullString
	if err := r.Scan(&m.ID, &m.ChatID, &m.SenderID, &ts, &editTS, &m.FromMe,
		&m.Text, &mediaType, &mediaPath, &replyTo, &topicID, &m.Snippet); err != nil {
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
