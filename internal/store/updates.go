package store

import "database/sql"

// UpdateState is the common update-stream position for one account.
type UpdateState struct {
	Pts  int
	Qts  int
	Date int
	Seq  int
}

// GetUpdateState returns the stored stream position for userID. The bool
// reports whether a row exists.
func (db *DB) GetUpdateState(userID int64) (UpdateState, bool, error) {
	var s UpdateState
	err := db.QueryRow(`
		SELECT pts, qts, date, seq FROM update_state WHERE user_id = ?`, userID).
		Scan(&s.Pts, &s.Qts, &s.Date, &s.Seq)
	if err == sql.ErrNoRows {
		return UpdateState{}, false, nil
	}
	if err != nil {
		return UpdateState{}, false, err
	}
	return s, true, nil
}

// SetUpdateState stores the full stream position, creating the row if needed.
func (db *DB) SetUpdateState(userID int64, s UpdateState) error {
	_, err := db.Exec(`
		INSERT INTO update_state (user_id, pts, qts, date, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			pts = excluded.pts, qts = excluded.qts,
			date = excluded.date, seq = excluded.seq`,
		userID, s.Pts, s.Qts, s.Date, s.Seq)
	return err
}

func (db *DB) setUpdateColumns(userID int64, set string, args ...any) error {
	args = append(args, userID)
	res, err := db.Exec(`UPDATE update_state SET `+set+` WHERE user_id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *DB) SetUpdatePts(userID int64, pts int) error {
	return db.setUpdateColumns(userID, `pts = ?`, pts)
}

func (db *DB) SetUpdateQts(userID int64, qts int) error {
	return db.setUpdateColumns(userID, `qts = ?`, qts)
}

func (db *DB) SetUpdateDate(userID int64, date int) error {
	return db.setUpdateColumns(userID, `date = ?`, date)
}

func (db *DB) SetUpdateSeq(userID int64, seq int) error {
	return db.setUpdateColumns(userID, `seq = ?`, seq)
}

func (db *DB) SetUpdateDateSeq(userID int64, date, seq int) error {
	return db.setUpdateColumns(userID, `date = ?, seq = ?`, date, seq)
}

// GetChannelPts returns the stored pts for one channel, with a found flag.
func (db *DB) GetChannelPts(userID, channelID int64) (int, bool, error) {
	var pts int
	err := db.QueryRow(`
		SELECT pts FROM channel_state WHERE user_id = ? AND channel_id = ?`,
		userID, channelID).Scan(&pts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pts, true, nil
}

// SetChannelPts stores the pts for one channel, preserving any recorded
// access hash.
func (db *DB) SetChannelPts(userID, channelID int64, pts int) error {
	_, err := db.Exec(`
		INSERT INTO channel_state (user_id, channel_id, pts)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, channel_id) DO UPDATE SET pts = excluded.pts`,
		userID, channelID, pts)
	return err
}

// ForEachChannelPts calls f once per channel with stored state for userID.
func (db *DB) ForEachChannelPts(userID int64, f func(channelID int64, pts int) error) error {
	rows, err := db.Query(`
		SELECT channel_id, pts FROM channel_state WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var channelID int64
		var pts int
		if err := rows.Scan(&channelID, &pts); err != nil {
			return err
		}
		if err := f(channelID, pts); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SetChannelAccessHash records a channel access hash observed in an update,
// preserving any recorded pts.
func (db *DB) SetChannelAccessHash(userID, channelID, hash int64) error {
	_, err := db.Exec(`
		INSERT INTO channel_state (user_id, channel_id, access_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, channel_id) DO UPDATE SET access_hash = excluded.access_hash`,
		userID, channelID, hash)
	return err
}

// GetChannelAccessHash returns the recorded access hash, with a found flag.
// A stored zero hash counts as not found.
func (db *DB) GetChannelAccessHash(userID, channelID int64) (int64, bool, error) {
	var hash int64
	err := db.QueryRow(`
		SELECT access_hash FROM channel_state WHERE user_id = ? AND channel_id = ?`,
		userID, channelID).Scan(&hash)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return hash, hash != 0, nil
}
