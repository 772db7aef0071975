package store

import "database/sql"

// UpsertContact inserts or merges a contact. Empty incoming fields never
// clobber existing values.
func (db *DB) UpsertContact(c *Contact) error {
	_, err := db.Exec(`
		INSERT INTO contacts (user_id, username, first_name, last_name, phone)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = COALESCE(excluded.username, contacts.username),
			first_name = CASE WHEN excluded.first_name != '' THEN excluded.first_name ELSE contacts.first_name END,
			last_name = CASE WHEN excluded.last_name != '' THEN excluded.last_name ELSE contacts.last_name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE contacts.phone END`,
		c.UserID, nullString(c.Username), c.FirstName, c.LastName, c.Phone)
	return err
}

// GetContact returns a contact by user id, or nil when absent.
func (db *DB) GetContact(userID int64) (*Contact, error) {
	row := db.QueryRow(`
		SELECT user_id, username, first_name, last_name, phone
		FROM contacts WHERE user_id = ?`, userID)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListContacts returns contacts ordered by first name, optionally
// filtered by a substring match on names, username or phone.
func (db *DB) ListContacts(match string, limit int64) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	q := newQuery(`SELECT user_id, username, first_name, last_name, phone FROM contacts`)
	if match != "" {
		pattern := "%" + match + "%"
		q.where(`(first_name LIKE ? OR last_name LIKE ? OR username LIKE ? OR phone LIKE ?)`,
			pattern, pattern, pattern, pattern)
	}
	sqlStr, args := q.build(`ORDER BY first_name LIMIT ?`, limit)

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

func scanContact(r rowScanner) (*Contact, error) {
	var c Contact
	var username sql.NullString
	if err := r.Scan(&c.UserID, &username, &c.FirstName, &c.LastName, &c.Phone); err != nil {
		return nil, err
	}
	c.Username = username.String
	return &c, nil
}
