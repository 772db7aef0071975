package store

import "database/sql"

// UpsertTopic inserts or refreshes a forum topic.
func (db *DB) UpsertTopic(t *Topic) error {
	_, err := db.Exec(`
		INSERT INTO topics (chat_id, topic_id, name, icon_color, icon_emoji)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, topic_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE topics.name END,
			icon_color = excluded.icon_color,
			icon_emoji = COALESCE(excluded.icon_emoji, topics.icon_emoji)`,
		t.ChatID, t.TopicID, t.Name, t.IconColor, nullString(t.IconEmoji))
	return err
}

// GetTopic returns a topic by key, or nil when absent.
func (db *DB) GetTopic(chatID, topicID int64) (*Topic, error) {
	row := db.QueryRow(`
		SELECT chat_id, topic_id, name, icon_color, icon_emoji
		FROM topics WHERE chat_id = ? AND topic_id = ?`, chatID, topicID)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTopics returns all topics of a forum chat ordered by topic id.
func (db *DB) ListTopics(chatID int64) ([]Topic, error) {
	rows, err := db.Query(`
		SELECT chat_id, topic_id, name, icon_color, icon_emoji
		FROM topics WHERE chat_id = ? ORDER BY topic_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var topics []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func scanTopic(r rowScanner) (*Topic, error) {
	var t Topic
	var emoji sql.NullString
	if err := r.Scan(&t.ChatID, &t.TopicID, &t.Name, &t.IconColor, &emoji); err != nil {
		return nil, err
	}
	t.IconEmoji = emoji.String
	return &t, nil
}
