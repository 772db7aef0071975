package store

// ClearCounts reports rows deleted by a purge, per table.
type ClearCounts struct {
	Messages int64 `json:"messages"`
	Chats    int64 `json:"chats"`
	Topics   int64 `json:"topics"`
	Contacts int64 `json:"contacts"`
}

// Total sums all per-table counts.
func (c ClearCounts) Total() int64 {
	return c.Messages + c.Chats + c.Topics + c.Contacts
}

// ClearMessages deletes all messages, returning the deleted row count.
func (db *DB) ClearMessages() (int64, error) { return db.clearTable("messages") }

// ClearChats deletes all chats, returning the deleted row count.
func (db *DB) ClearChats() (int64, error) { return db.clearTable("chats") }

// ClearTopics deletes all topics, returning the deleted row count.
func (db *DB) ClearTopics() (int64, error) { return db.clearTable("topics") }

// ClearContacts deletes all contacts, returning the deleted row count.
func (db *DB) ClearContacts() (int64, error) { return db.clearTable("contacts") }

// CountMessages returns the number of cached messages.
func (db *DB) CountMessages() (int64, error) { return db.countTable("messages") }

// CountChats returns the number of cached chats.
func (db *DB) CountChats() (int64, error) { return db.countTable("chats") }

// CountTopics returns the number of cached topics.
func (db *DB) CountTopics() (int64, error) { return db.countTable("topics") }

// CountContacts returns the number of cached contacts.
func (db *DB) CountContacts() (int64, error) { return db.countTable("contacts") }

func (db *DB) clearTable(table string) (int64, error) {
	res, err := db.Exec(`DELETE FROM ` + table)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) countTable(table string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	return n, err
}
