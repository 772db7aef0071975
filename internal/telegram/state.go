package telegram

import (
	"context"

	"github.com/gotd/td/telegram/updates"

	"github.com/lfmartins/telesync/internal/store"
)

// UpdateStore persists the update stream position and channel access
// hashes in the local cache database, so the gap manager can recover
// updates missed between daemon runs instead of starting blind.
type UpdateStore struct {
	db *store.DB
}

func NewUpdateStore(db *store.DB) *UpdateStore {
	return &UpdateStore{db: db}
}

var (
	_ updates.StateStorage        = (*UpdateStore)(nil)
	_ updates.ChannelAccessHasher = (*UpdateStore)(nil)
)

func (s *UpdateStore) GetState(ctx context.Context, userID int64) (updates.State, bool, error) {
	st, ok, err := s.db.GetUpdateState(userID)
	if err != nil || !ok {
		return updates.State{}, false, err
	}
	return updates.State{Pts: st.Pts, Qts: st.Qts, Date: st.Date, Seq: st.Seq}, true, nil
}

func (s *UpdateStore) SetState(ctx context.Context, userID int64, state updates.State) error {
	return s.db.SetUpdateState(userID, store.UpdateState{
		Pts:  state.Pts,
		Qts:  state.Qts,
		Date: state.Date,
		Seq:  state.Seq,
	})
}

func (s *UpdateStore) SetPts(ctx context.Context, userID int64, pts int) error {
	return s.db.SetUpdatePts(userID, pts)
}

func (s *UpdateStore) SetQts(ctx context.Context, userID int64, qts int) error {
	return s.db.SetUpdateQts(userID, qts)
}

func (s *UpdateStore) SetDate(ctx context.Context, userID int64, date int) error {
	return s.db.SetUpdateDate(userID, date)
}

func (s *UpdateStore) SetSeq(ctx context.Context, userID int64, seq int) error {
	return s.db.SetUpdateSeq(userID, seq)
}

func (s *UpdateStore) SetDateSeq(ctx context.Context, userID int64, date, seq int) error {
	return s.db.SetUpdateDateSeq(userID, date, seq)
}

func (s *UpdateStore) GetChannelPts(ctx context.Context, userID, channelID int64) (int, bool, error) {
	return s.db.GetChannelPts(userID, channelID)
}

func (s *UpdateStore) SetChannelPts(ctx context.Context, userID, channelID int64, pts int) error {
	return s.db.SetChannelPts(userID, channelID, pts)
}

func (s *UpdateStore) ForEachChannels(ctx context.Context, userID int64, f func(ctx context.Context, channelID int64, pts int) error) error {
	return s.db.ForEachChannelPts(userID, func(channelID int64, pts int) error {
		return f(ctx, channelID, pts)
	})
}

func (s *UpdateStore) SetChannelAccessHash(ctx context.Context, userID, channelID, accessHash int64) error {
	return s.db.SetChannelAccessHash(userID, channelID, accessHash)
}

func (s *UpdateStore) GetChannelAccessHash(ctx context.Context, userID, channelID int64) (int64, bool, error) {
	return s.db.GetChannelAccessHash(userID, channelID)
}
