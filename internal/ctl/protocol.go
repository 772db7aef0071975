package ctl

import (
	"encoding/json"
	"fmt"

	"github.com/lfmartins/telesync/internal/store"
)

// Actions accepted on the control socket. Requests are one JSON object
// per line, tagged by the "action" field.
const (
	ActionPing     = "ping"
	ActionSendText = "send_text"
	ActionMarkRead = "mark_read"
	ActionBackfill = "backfill"
	ActionClear    = "clear"
	ActionSync     = "sync"
	ActionChats    = "chats"
	ActionMessages = "messages"
	ActionSearch   = "search"
	ActionRead     = "read"
	ActionContacts = "contacts"
	ActionTopics   = "topics"
	ActionStop     = "stop"
)

type envelope struct {
	Action string `json:"action"`
}

// Per-action request payloads. Unknown fields are ignored.

type SendTextRequest struct {
	To      int64  `json:"to"`
	Message string `json:"message"`
}

type MarkReadRequest struct {
	Chat    int64  `json:"chat"`
	Message *int64 `json:"message,omitempty"`
}

type BackfillRequest struct {
	ChatID int64 `json:"chat_id"`
	Limit  int   `json:"limit,omitempty"`
}

type SyncRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ChatsRequest struct {
	Limit int64  `json:"limit,omitempty"`
	Query string `json:"query,omitempty"`
}

type MessagesRequest struct {
	ChatID  int64 `json:"chat_id"`
	TopicID int64 `json:"topic_id,omitempty"`
	Limit   int64 `json:"limit,omitempty"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	ChatID int64  `json:"chat_id,omitempty"`
	Limit  int64  `json:"limit,omitempty"`
}

type ReadRequest struct {
	ChatID    int64 `json:"chat_id"`
	TopicID   int64 `json:"topic_id,omitempty"`
	AllTopics bool  `json:"all_topics,omitempty"`
}

type ContactsRequest struct {
	Limit int64 `json:"limit,omitempty"`
}

type TopicsRequest struct {
	ChatID int64 `json:"chat_id"`
}

// Response is the single reply shape for every action. Exactly one of
// the payload fields is populated on success, depending on the action.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Fetched     *int64             `json:"fetched,omitempty"`
	Synced      *int64             `json:"synced,omitempty"`
	Chats       []store.Chat       `json:"chats,omitempty"`
	Messages    []store.Message    `json:"messages,omitempty"`
	Contacts    []store.Contact    `json:"contacts,omitempty"`
	Topics      []store.Topic      `json:"topics,omitempty"`
	Cleared     *store.ClearCounts `json:"cleared,omitempty"`
	MarkedRead  bool               `json:"marked_read,omitempty"`
	TopicsCount int                `json:"topics_count,omitempty"`
}

func okResponse() Response {
	return Response{OK: true}
}

func errResponse(format string, args ...any) Response {
	return Response{Error: fmt.Sprintf(format, args...)}
}

// decode parses a request body into its per-action struct.
func decode[T any](line []byte) (*T, error) {
	var req T
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// Marshal renders a request for the given action as one NDJSON line
// (without the trailing newline).
func Marshal(action string, body any) ([]byte, error) {
	raw := map[string]any{"action": action}
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(blob, &raw); err != nil {
			return nil, err
		}
		raw["action"] = action
	}
	return json.Marshal(raw)
}
