package telegram

import (
	"context"
	"time"
)

// Chat kinds as reported by the remote side.
const (
	KindUser    = "user"
	KindGroup   = "group"
	KindChannel = "channel"
)

// Dialog is one entry of the remote dialog list. AccessHash addresses
// users and channels in later requests; basic groups have none.
type Dialog struct {
	ID            int64
	Kind          string
	Title         string
	Username      string
	IsForum       bool
	Archived      bool
	UnreadCount   int
	TopMessageID  int64
	LastMessageTS *time.Time
	AccessHash    int64
}

// Message is a remote message, already flattened out of the wire types.
type Message struct {
	ID        int64
	ChatID    int64
	SenderID  int64
	TS        time.Time
	EditTS    *time.Time
	Out       bool
	Text      string
	ReplyToID int64
	TopicID   int64
	Media     *MediaInfo
}

// MediaInfo describes a message attachment. Raw wire data stays attached
// so Download does not have to re-fetch the message.
type MediaInfo struct {
	Type     string
	Filename string
	MimeType string

	loc downloadSource
}

// Contact is an address-book entry.
type Contact struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
}

// Topic is a forum sub-thread.
type Topic struct {
	ID          int64
	Title       string
	IconColor   int32
	IconEmoji   string
	UnreadCount int
}

// HistoryOptions bounds one History page.
type HistoryOptions struct {
	// OffsetID fetches messages with id < OffsetID; 0 means newest.
	OffsetID int64
	// MinID drops messages with id <= MinID at the source.
	MinID int64
	// TopicID scopes the page to a forum topic when nonzero.
	TopicID int64
	Limit   int
}

// Directory is the read side of the remote account: dialog listing,
// history paging, topic and contact enumeration, media download.
type Directory interface {
	// Dialogs lists the main folder. Archived lists folder 1.
	Dialogs(ctx context.Context) ([]Dialog, error)
	Archived(ctx context.Context) ([]Dialog, error)
	// History returns one page of messages, newest first.
	History(ctx context.Context, chatID int64, opts HistoryOptions) ([]Message, error)
	Topics(ctx context.Context, chatID int64) ([]Topic, error)
	Contacts(ctx context.Context) ([]Contact, error)
	// Download stores a message attachment under dir and returns its path.
	Download(ctx context.Context, msg *Message, dir string) (string, error)
	// SeedPeers primes peer resolution from previously cached dialogs, so
	// History and the write side work without paging the dialog list first.
	SeedPeers(dialogs []Dialog)
}

// Sender is the write side of the remote account.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) (*Message, error)
	// MarkRead acknowledges history up to maxID; 0 means everything.
	MarkRead(ctx context.Context, chatID int64, maxID int64) error
	// MarkReadTopic acknowledges one forum topic's thread.
	MarkReadTopic(ctx context.Context, chatID, topicID int64) error
}

// Event is a real-time update delivered on the Events channel. Concrete
// types: *NewMessage, *MessageEdited, *MessagesDeleted.
type Event interface {
	isEvent()
}

// NewMessage is an incoming or outgoing message observed live. Chat
// describes the message's peer as seen in the update's entities; nil
// when the update carried no entity for it.
type NewMessage struct {
	Message Message
	Chat    *Dialog
}

// MessageEdited carries only what an edit can change.
type MessageEdited struct {
	ChatID int64
	ID     int64
	Text   string
	EditTS time.Time
}

// MessagesDeleted reports server-side deletions. ChatID is zero for
// non-channel deletions, where ids are not scoped to a single chat.
type MessagesDeleted struct {
	ChatID int64
	IDs    []int64
}

func (*NewMessage) isEvent()      {}
func (*MessageEdited) isEvent()   {}
func (*MessagesDeleted) isEvent() {}
