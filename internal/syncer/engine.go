package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/telegram"
)

const (
	// incrementalFetchCap replaces the configured per-chat cap when a
	// cursor exists: the stop condition is hitting the cursor, not a
	// message count, so the cap only guards against runaway paging.
	incrementalFetchCap = 10000

	defaultMessagesPerChat = 100
	defaultConcurrency     = 4
	pageSize               = 100

	// progressInterval throttles progress events so a large pass does
	// not flood the stream.
	progressInterval = time.Second
)

// Remote is what the engine needs from the live connection.
type Remote interface {
	telegram.Directory
	telegram.Sender
}

// Options configures one sync pass.
type Options struct {
	// Chat restricts the pass to a single chat id.
	Chat int64
	// Incremental stops each chat's paging at its stored cursor.
	Incremental bool
	// MessagesPerChat caps non-incremental fetches per chat.
	MessagesPerChat int
	// Concurrency bounds simultaneous per-chat syncs.
	Concurrency int64

	IgnoreChats    []int64
	IgnoreChannels bool

	// DownloadMedia fetches attachments into MediaDir.
	DownloadMedia bool
	MediaDir      string
	// MarkRead acknowledges each synced chat's unread history.
	MarkRead bool
	// PruneAfter keeps only the newest N messages per chat after the
	// pass; 0 disables pruning.
	PruneAfter int64

	// Scope flags; SkipArchived and ArchivedOnly are mutually exclusive.
	SkipArchived bool
	ArchivedOnly bool
	// ChatsOnly refreshes the chat list and contacts without touching
	// message history.
	ChatsOnly bool
	// MessagesOnly skips dialog paging and re-syncs history for chats
	// already in the cache.
	MessagesOnly bool

	// Progress publishes throttled sync.progress events on the bus.
	Progress bool
	// Stream publishes one sync.message event per stored message.
	Stream bool
}

// TopicResult reports one forum topic's outcome within a chat.
type TopicResult struct {
	TopicID        int64  `json:"topic_id"`
	TopicName      string `json:"topic_name"`
	MessagesSynced int64  `json:"messages_synced"`
	UnreadCount    int    `json:"unread_count"`
}

// ChatResult reports one chat's outcome.
type ChatResult struct {
	ChatID         int64         `json:"chat_id"`
	ChatName       string        `json:"chat_name"`
	MessagesSynced int64         `json:"messages_synced"`
	UnreadCount    int           `json:"unread_count"`
	Topics         []TopicResult `json:"topics,omitempty"`
}

// Result summarizes a whole pass.
type Result struct {
	MessagesStored int64        `json:"messages_stored"`
	ChatsStored    int64        `json:"chats_stored"`
	PerChat        []ChatResult `json:"per_chat,omitempty"`
}

// Progress is the payload of sync.progress events.
type Progress struct {
	ChatID         int64  `json:"chat_id"`
	ChatName       string `json:"chat_name"`
	MessagesStored int64  `json:"messages_stored"`
}

// Engine reconciles the local cache against the remote directory.
type Engine struct {
	remote Remote
	db     *store.DB
	bus    *bus.Bus
	log    *zap.Logger

	mu           sync.Mutex
	lastProgress time.Time
}

func New(remote Remote, db *store.DB, b *bus.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{remote: remote, db: db, bus: b, log: log}
}

// Sync runs one pass. Per-chat fetch failures are logged and skipped;
// only option validation and dialog enumeration errors fail the pass.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	if opts.SkipArchived && opts.ArchivedOnly {
		return nil, fmt.Errorf("skip-archived and archived-only are mutually exclusive")
	}
	if opts.MessagesPerChat <= 0 {
		opts.MessagesPerChat = defaultMessagesPerChat
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	dialogs, err := e.targetDialogs(ctx, opts)
	if err != nil {
		return nil, err
	}
	dialogs = applyIgnoreFilters(dialogs, opts)

	result := &Result{}

	// Chat metadata lands before any history so a pass interrupted
	// mid-history still leaves a usable chat list.
	for i := range dialogs {
		if err := e.db.UpsertChat(dialogToChat(&dialogs[i])); err != nil {
			return nil, fmt.Errorf("upsert chat %d: %w", dialogs[i].ID, err)
		}
		result.ChatsStored++
		if dialogs[i].Kind == telegram.KindUser {
			e.deriveContact(&dialogs[i])
		}
	}

	if !opts.MessagesOnly && !opts.ArchivedOnly {
		e.syncContacts(ctx)
	}

	if opts.ChatsOnly {
		e.done(result)
		return result, nil
	}

	sem := semaphore.NewWeighted(opts.Concurrency)
	var wg sync.WaitGroup
	var resMu sync.Mutex

	for i := range dialogs {
		dlg := dialogs[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			cr, err := e.syncChat(ctx, dlg, opts)
			if err != nil {
				e.log.Warn("chat sync failed",
					zap.Int64("chat_id", dlg.ID),
					zap.String("chat", dlg.Title),
					zap.Error(err))
				return
			}
			resMu.Lock()
			result.MessagesStored += cr.MessagesSynced
			result.PerChat = append(result.PerChat, cr)
			resMu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(result.PerChat, func(i, j int) bool {
		return result.PerChat[i].ChatID < result.PerChat[j].ChatID
	})

	e.done(result)
	return result, nil
}

// Backfill extends a chat's cached history backwards: it pages below the
// oldest cached message id and upserts up to limit older rows. The sync
// cursor is untouched, these rows are all behind it.
func (e *Engine) Backfill(ctx context.Context, chatID int64, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultMessagesPerChat
	}
	oldest, err := e.db.OldestMessageID(chatID, 0)
	if err != nil {
		return 0, fmt.Errorf("oldest message: %w", err)
	}

	var fetched int64
	offsetID := oldest
	for fetched < int64(limit) {
		msgs, err := e.remote.History(ctx, chatID, telegram.HistoryOptions{
			OffsetID: offsetID,
			Limit:    pageSize,
		})
		if err != nil {
			return fetched, fmt.Errorf("fetch history: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for i := range msgs {
			if fetched >= int64(limit) {
				break
			}
			if err := e.db.UpsertMessage(messageToStore(&msgs[i], "")); err != nil {
				return fetched, fmt.Errorf("upsert message %d: %w", msgs[i].ID, err)
			}
			fetched++
			offsetID = msgs[i].ID
		}
	}
	return fetched, nil
}

// targetDialogs enumerates the pass's chat set per the scope flags.
func (e *Engine) targetDialogs(ctx context.Context, opts Options) ([]telegram.Dialog, error) {
	if opts.MessagesOnly {
		cached, err := e.cachedDialogs(opts.Chat)
		if err != nil {
			return nil, err
		}
		// Cached dialogs never went through a dialog page, so the remote
		// side has not resolved these peers yet in this process.
		e.remote.SeedPeers(cached)
		return cached, nil
	}

	var out []telegram.Dialog
	if !opts.ArchivedOnly {
		main, err := e.remote.Dialogs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list dialogs: %w", err)
		}
		out = main
	}
	if !opts.SkipArchived {
		archived, err := e.remote.Archived(ctx)
		if err != nil {
			return nil, fmt.Errorf("list archived dialogs: %w", err)
		}
		out = append(out, archived...)
	}
	if opts.Chat != 0 {
		for _, d := range out {
			if d.ID == opts.Chat {
				return []telegram.Dialog{d}, nil
			}
		}
		return nil, fmt.Errorf("chat %d not found in dialog list", opts.Chat)
	}
	return out, nil
}

// cachedDialogs rebuilds the target set from cached chat rows, skipping
// dialog paging entirely.
func (e *Engine) cachedDialogs(only int64) ([]telegram.Dialog, error) {
	ids, err := e.db.ChatIDs()
	if err != nil {
		return nil, fmt.Errorf("list cached chats: %w", err)
	}
	var out []telegram.Dialog
	for _, id := range ids {
		if only != 0 && id != only {
			continue
		}
		c, err := e.db.GetChat(id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		out = append(out, telegram.Dialog{
			ID:         c.ID,
			Kind:       c.Kind,
			Title:      c.Name,
			Username:   c.Username,
			IsForum:    c.IsForum,
			AccessHash: c.AccessHash,
		})
	}
	return out, nil
}

func applyIgnoreFilters(dialogs []telegram.Dialog, opts Options) []telegram.Dialog {
	ignored := make(map[int64]bool, len(opts.IgnoreChats))
	for _, id := range opts.IgnoreChats {
		ignored[id] = true
	}
	out := dialogs[:0]
	for _, d := range dialogs {
		if ignored[d.ID] {
			continue
		}
		if opts.IgnoreChannels && d.Kind == telegram.KindChannel {
			continue
		}
		out = append(out, d)
	}
	return out
}

// syncChat ingests one chat's history. Within the chat, ingestion is
// strictly sequential: a page is durably written before the next fetch,
// and the cursor advances only after every retained row landed.
func (e *Engine) syncChat(ctx context.Context, dlg telegram.Dialog, opts Options) (ChatResult, error) {
	cr := ChatResult{ChatID: dlg.ID, ChatName: dlg.Title, UnreadCount: dlg.UnreadCount}

	cursor, err := e.db.Cursor(dlg.ID)
	if err != nil {
		return cr, fmt.Errorf("read cursor: %w", err)
	}

	fetchCap := int64(opts.MessagesPerChat)
	if opts.Incremental && cursor > 0 {
		fetchCap = incrementalFetchCap
	}

	var (
		offsetID    int64
		maxID       int64
		maxTS       *time.Time
		topicCounts = map[int64]int64{}
	)

page:
	for cr.MessagesSynced < fetchCap {
		msgs, err := e.remote.History(ctx, dlg.ID, telegram.HistoryOptions{
			OffsetID: offsetID,
			Limit:    pageSize,
		})
		if err != nil {
			return cr, fmt.Errorf("fetch history: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for i := range msgs {
			m := &msgs[i]
			if cursor > 0 && m.ID <= cursor {
				break page
			}
			if cr.MessagesSynced >= fetchCap {
				break page
			}

			mediaPath := e.maybeDownload(ctx, m, opts)
			if err := e.db.UpsertMessage(messageToStore(m, mediaPath)); err != nil {
				return cr, fmt.Errorf("upsert message %d: %w", m.ID, err)
			}
			cr.MessagesSynced++
			if m.ID > maxID {
				maxID = m.ID
			}
			if maxTS == nil || m.TS.After(*maxTS) {
				ts := m.TS
				maxTS = &ts
			}
			if m.TopicID != 0 {
				topicCounts[m.TopicID]++
			}

			if opts.Stream {
				e.bus.Publish(bus.NewEvent(bus.KindSyncMessage, messageToStore(m, mediaPath)))
			}
			if opts.Progress {
				e.progress(dlg, cr.MessagesSynced)
			}
			offsetID = m.ID
		}
	}

	if maxTS != nil {
		if err := e.db.UpsertChat(&store.Chat{ID: dlg.ID, LastMessageTS: maxTS}); err != nil {
			return cr, fmt.Errorf("update chat timestamp: %w", err)
		}
	}
	if cr.MessagesSynced > 0 {
		if err := e.db.AdvanceCursor(dlg.ID, maxID); err != nil {
			return cr, fmt.Errorf("advance cursor: %w", err)
		}
	}

	if dlg.IsForum {
		cr.Topics = e.syncTopics(ctx, dlg.ID, topicCounts)
	}

	if opts.MarkRead && dlg.UnreadCount > 0 {
		if err := e.remote.MarkRead(ctx, dlg.ID, 0); err != nil {
			e.log.Warn("mark read failed", zap.Int64("chat_id", dlg.ID), zap.Error(err))
		}
	}

	if opts.PruneAfter > 0 {
		if _, err := e.db.PruneMessages(dlg.ID, opts.PruneAfter); err != nil {
			e.log.Warn("prune failed", zap.Int64("chat_id", dlg.ID), zap.Error(err))
		}
	}

	return cr, nil
}

// syncTopics refreshes a forum's topic list. Failures degrade to an
// empty topic report: topics are decoration on top of the messages.
func (e *Engine) syncTopics(ctx context.Context, chatID int64, counts map[int64]int64) []TopicResult {
	topics, err := e.remote.Topics(ctx, chatID)
	if err != nil {
		e.log.Warn("topic sync failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}

	var out []TopicResult
	for _, t := range topics {
		if err := e.db.UpsertTopic(&store.Topic{
			ChatID:    chatID,
			TopicID:   t.ID,
			Name:      t.Title,
			IconColor: t.IconColor,
			IconEmoji: t.IconEmoji,
		}); err != nil {
			e.log.Warn("upsert topic failed",
				zap.Int64("chat_id", chatID), zap.Int64("topic_id", t.ID), zap.Error(err))
			continue
		}
		out = append(out, TopicResult{
			TopicID:        t.ID,
			TopicName:      t.Title,
			MessagesSynced: counts[t.ID],
			UnreadCount:    t.UnreadCount,
		})
	}
	return out
}

func (e *Engine) maybeDownload(ctx context.Context, m *telegram.Message, opts Options) string {
	if !opts.DownloadMedia || m.Media == nil || !m.Media.Downloadable() {
		return ""
	}
	path, err := e.remote.Download(ctx, m, opts.MediaDir)
	if err != nil {
		e.log.Warn("media download failed",
			zap.Int64("chat_id", m.ChatID), zap.Int64("message_id", m.ID), zap.Error(err))
		return ""
	}
	return path
}

func (e *Engine) syncContacts(ctx context.Context) {
	contacts, err := e.remote.Contacts(ctx)
	if err != nil {
		e.log.Warn("contact sync failed", zap.Error(err))
		return
	}
	for _, c := range contacts {
		if err := e.db.UpsertContact(&store.Contact{
			UserID:    c.ID,
			Username:  c.Username,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Phone:     c.Phone,
		}); err != nil {
			e.log.Warn("upsert contact failed", zap.Int64("user_id", c.ID), zap.Error(err))
		}
	}
}

// deriveContact records what a user-kind dialog reveals about its peer.
// The address book fetch fills in the rest when it runs.
func (e *Engine) deriveContact(d *telegram.Dialog) {
	if err := e.db.UpsertContact(&store.Contact{
		UserID:    d.ID,
		Username:  d.Username,
		FirstName: d.Title,
	}); err != nil {
		e.log.Warn("derive contact failed", zap.Int64("user_id", d.ID), zap.Error(err))
	}
}

func (e *Engine) progress(dlg telegram.Dialog, stored int64) {
	e.mu.Lock()
	if time.Since(e.lastProgress) < progressInterval {
		e.mu.Unlock()
		return
	}
	e.lastProgress = time.Now()
	e.mu.Unlock()

	e.bus.Publish(bus.NewEvent(bus.KindSyncProgress, Progress{
		ChatID:         dlg.ID,
		ChatName:       dlg.Title,
		MessagesStored: stored,
	}))
}

func (e *Engine) done(result *Result) {
	e.bus.Publish(bus.NewEvent(bus.KindSyncDone, result))
}

func dialogToChat(d *telegram.Dialog) *store.Chat {
	return &store.Chat{
		ID:            d.ID,
		Kind:          d.Kind,
		Name:          d.Title,
		Username:      d.Username,
		IsForum:       d.IsForum,
		LastMessageTS: d.LastMessageTS,
		AccessHash:    d.AccessHash,
	}
}

func messageToStore(m *telegram.Message, mediaPath string) *store.Message {
	out := &store.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		TS:        m.TS,
		EditTS:    m.EditTS,
		FromMe:    m.Out,
		Text:      m.Text,
		ReplyToID: m.ReplyToID,
		TopicID:   m.TopicID,
		MediaPath: mediaPath,
	}
	if m.Media != nil {
		out.MediaType = m.Media.Type
	}
	return out
}
