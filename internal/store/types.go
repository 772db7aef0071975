package store

import "time"

// Chat kinds. The peer id sign/range encodes the class remotely; locally
// the kind is stored explicitly.
const (
	KindUser    = "user"
	KindGroup   = "group"
	KindChannel = "channel"
)

// Chat is a mirrored dialog. LastSyncMessageID is the sync cursor: the
// highest message id durably ingested for this chat. AccessHash is the
// peer access hash needed to address users and channels remotely; it is
// persisted so message re-syncs can resolve peers without paging dialogs.
type Chat struct {
	ID                int64      `json:"id"`
	Kind              string     `json:"kind"`
	Name              string     `json:"name"`
	Username          string     `json:"username,omitempty"`
	LastMessageTS     *time.Time `json:"last_message_ts,omitempty"`
	IsForum           bool       `json:"is_forum,omitempty"`
	AccessHash        int64      `json:"-"`
	LastSyncMessageID int64      `json:"last_sync_message_id,omitempty"`
}

// Contact is a user peer observed during dialog or update processing.
type Contact struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Message is a mirrored message, keyed by (chat_id, id). Message ids are
// chat-local and monotonically increasing, assigned remotely.
type Message struct {
	ID        int64      `json:"id"`
	ChatID    int64      `json:"chat_id"`
	SenderID  int64      `json:"sender_id"`
	TS        time.Time  `json:"ts"`
	EditTS    *time.Time `json:"edit_ts,omitempty"`
	FromMe    bool       `json:"from_me"`
	Text      string     `json:"text"`
	MediaType string     `json:"media_type,omitempty"`
	MediaPath string     `json:"media_path,omitempty"`
	ReplyToID int64      `json:"reply_to_id,omitempty"`
	TopicID   int64      `json:"topic_id,omitempty"`
	Snippet   string     `json:"snippet,omitempty"`
}

// Topic is a forum sub-thread, keyed by (chat_id, topic_id).
type Topic struct {
	ChatID    int64  `json:"chat_id"`
	TopicID   int64  `json:"topic_id"`
	Name      string `json:"name"`
	IconColor int32  `json:"icon_color"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// ListMessagesParams filters ListMessages. Zero values mean "no filter".
type ListMessagesParams struct {
	ChatID         int64
	TopicID        int64
	SenderID       int64
	MediaType      string
	After          *time.Time
	Before         *time.Time
	IgnoreChats    []int64
	IgnoreChannels bool
	Limit          int64
}

// SearchMessagesParams filters SearchMessages.
type SearchMessagesParams struct {
	Query     string
	ChatID    int64
	SenderID  int64
	MediaType string
	Limit     int64
}
