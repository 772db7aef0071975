package listener

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/syncer"
	"github.com/lfmartins/telesync/internal/telegram"
)

// ErrConnectionDropped means the push stream ended because the remote
// side forcibly closed the connection. Fatal to the daemon.
var ErrConnectionDropped = errors.New("update stream dropped by remote")

const (
	// backfillDelay gives the subscription's own protocol-level
	// catch-up a head start before the cache catch-up sync runs.
	defaultBackfillDelay = 2 * time.Second
	defaultBackfillCap   = 50
)

// Remote is the slice of the live connection driven by socket-forwarded
// commands.
type Remote interface {
	MarkRead(ctx context.Context, chatID, maxID int64) error
	MarkReadTopic(ctx context.Context, chatID, topicID int64) error
	Topics(ctx context.Context, chatID int64) ([]telegram.Topic, error)
}

// Syncer is the sync engine surface the listener invokes.
type Syncer interface {
	Sync(ctx context.Context, opts syncer.Options) (*syncer.Result, error)
	Backfill(ctx context.Context, chatID int64, limit int) (int64, error)
}

// CommandKind tags a forwarded control-socket command.
type CommandKind string

const (
	CmdBackfill CommandKind = "backfill"
	CmdSync     CommandKind = "sync"
	CmdRead     CommandKind = "read"
	CmdStop     CommandKind = "stop"
)

// Command is forwarded from a control-socket connection into the
// listener loop and answered on Reply.
type Command struct {
	Kind      CommandKind
	ChatID    int64
	TopicID   int64
	AllTopics bool
	Limit     int
	Reply     chan CommandResult
}

// CommandResult is the one-shot answer to a Command.
type CommandResult struct {
	Fetched     int64
	Synced      int64
	MarkedRead  bool
	TopicsCount int
	Err         error
}

// Options tunes the listener.
type Options struct {
	IgnoreChats    []int64
	IgnoreChannels bool
	// BackfillDelay and BackfillCap shape the startup catch-up sync.
	BackfillDelay time.Duration
	BackfillCap   int
	SkipBackfill  bool
	// OnStop is invoked when a stop command arrives over the socket.
	OnStop func()
}

// Listener applies live updates to the cache and serves forwarded
// daemon commands, with a one-time catch-up sync at startup.
type Listener struct {
	events  <-chan telegram.Event
	remote  Remote
	engine  Syncer
	db      *store.DB
	bus     *bus.Bus
	log     *zap.Logger
	machine *machine
	opts    Options

	commands chan Command
	ignored  map[int64]bool
}

func New(events <-chan telegram.Event, remote Remote, engine Syncer, db *store.DB, b *bus.Bus, log *zap.Logger, opts Options) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BackfillDelay <= 0 {
		opts.BackfillDelay = defaultBackfillDelay
	}
	if opts.BackfillCap <= 0 {
		opts.BackfillCap = defaultBackfillCap
	}
	ignored := make(map[int64]bool, len(opts.IgnoreChats))
	for _, id := range opts.IgnoreChats {
		ignored[id] = true
	}
	return &Listener{
		events:   events,
		remote:   remote,
		engine:   engine,
		db:       db,
		bus:      b,
		log:      log,
		machine:  newMachine(b),
		opts:     opts,
		commands: make(chan Command),
		ignored:  ignored,
	}
}

// Commands returns the channel control-socket handlers forward on. The
// daemon closes it after Run returns so senders get "loop gone" instead
// of a hang.
func (l *Listener) Commands() chan Command {
	return l.commands
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	return l.machine.Current()
}

// Run drives the event loop until ctx is cancelled or the stream drops.
// The startup catch-up sync is awaited, not aborted, during shutdown.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.machine.Transition(Listening); err != nil {
		return err
	}

	backfillDone := make(chan struct{})
	go l.backfill(ctx, backfillDone)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-l.events:
			if !ok {
				runErr = ErrConnectionDropped
				break loop
			}
			l.handleEvent(ev)
		case cmd := <-l.commands:
			l.handleCommand(ctx, cmd)
		}
	}

	if err := l.machine.Transition(Draining); err != nil {
		l.log.Warn("drain transition", zap.Error(err))
	}
	<-backfillDone
	if err := l.machine.Transition(Stopped); err != nil {
		l.log.Warn("stop transition", zap.Error(err))
	}
	return runErr
}

// backfill runs the catch-up sync once after the grace delay. It uses
// its own context so a shutdown mid-pass drains instead of corrupting a
// half-advanced cursor.
func (l *Listener) backfill(ctx context.Context, done chan struct{}) {
	defer close(done)
	if l.opts.SkipBackfill {
		return
	}
	select {
	case <-time.After(l.opts.BackfillDelay):
	case <-ctx.Done():
		return
	}

	res, err := l.engine.Sync(context.Background(), syncer.Options{
		Incremental:     true,
		MessagesPerChat: l.opts.BackfillCap,
		IgnoreChats:     l.opts.IgnoreChats,
		IgnoreChannels:  l.opts.IgnoreChannels,
	})
	if err != nil {
		l.log.Warn("startup catch-up sync failed", zap.Error(err))
		return
	}
	l.log.Info("startup catch-up sync done",
		zap.Int64("messages", res.MessagesStored),
		zap.Int64("chats", res.ChatsStored))
}

func (l *Listener) handleEvent(ev telegram.Event) {
	switch e := ev.(type) {
	case *telegram.NewMessage:
		l.handleNewMessage(e)
	case *telegram.MessageEdited:
		l.handleEdit(e)
	case *telegram.MessagesDeleted:
		// Deletions are retained locally; stream consumers may react.
		l.bus.Publish(bus.NewEvent(bus.KindMessageDeleted, e))
		l.log.Debug("messages deleted remotely",
			zap.Int64("chat_id", e.ChatID), zap.Int("count", len(e.IDs)))
	default:
		l.log.Debug("ignoring update event")
	}
}

func (l *Listener) handleNewMessage(ev *telegram.NewMessage) {
	m := &ev.Message
	if l.skipChat(m.ChatID, ev.Chat) {
		return
	}

	row := &store.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		TS:        m.TS,
		EditTS:    m.EditTS,
		FromMe:    m.Out,
		Text:      m.Text,
		ReplyToID: m.ReplyToID,
		TopicID:   m.TopicID,
	}
	if m.Media != nil {
		row.MediaType = m.Media.Type
	}
	if err := l.db.UpsertMessage(row); err != nil {
		l.log.Error("upsert live message", zap.Int64("chat_id", m.ChatID), zap.Error(err))
		return
	}
	// Chat metadata rides along on the update's entities, so a message
	// from a never-synced chat still produces a usable chat row.
	ts := m.TS
	chat := &store.Chat{ID: m.ChatID, LastMessageTS: &ts}
	if ev.Chat != nil {
		chat.Kind = ev.Chat.Kind
		chat.Name = ev.Chat.Title
		chat.Username = ev.Chat.Username
		chat.IsForum = ev.Chat.IsForum
		chat.AccessHash = ev.Chat.AccessHash
	}
	if err := l.db.UpsertChat(chat); err != nil {
		l.log.Error("upsert live chat", zap.Int64("chat_id", m.ChatID), zap.Error(err))
		return
	}
	// Same write-then-advance ordering as bulk sync.
	if err := l.db.AdvanceCursor(m.ChatID, m.ID); err != nil {
		l.log.Error("advance cursor", zap.Int64("chat_id", m.ChatID), zap.Error(err))
		return
	}
	l.bus.Publish(bus.NewEvent(bus.KindNewMessage, row))
}

func (l *Listener) handleEdit(e *telegram.MessageEdited) {
	if l.skip(e.ChatID) {
		return
	}
	if err := l.db.ApplyEdit(e.ChatID, e.ID, e.Text, e.EditTS); err != nil {
		l.log.Error("apply edit", zap.Int64("chat_id", e.ChatID), zap.Error(err))
		return
	}
	l.bus.Publish(bus.NewEvent(bus.KindMessageEdited, e))
}

func (l *Listener) skip(chatID int64) bool {
	return l.skipChat(chatID, nil)
}

// skipChat prefers the kind carried by the update itself; the cached row
// is the fallback for events that do not describe their chat, and misses
// channels the store has never seen.
func (l *Listener) skipChat(chatID int64, chat *telegram.Dialog) bool {
	if l.ignored[chatID] {
		return true
	}
	if l.opts.IgnoreChannels {
		if chat != nil {
			return chat.Kind == telegram.KindChannel
		}
		c, err := l.db.GetChat(chatID)
		if err == nil && c != nil && c.Kind == store.KindChannel {
			return true
		}
	}
	return false
}

func (l *Listener) handleCommand(ctx context.Context, cmd Command) {
	var res CommandResult
	switch cmd.Kind {
	case CmdBackfill:
		res.Fetched, res.Err = l.engine.Backfill(ctx, cmd.ChatID, cmd.Limit)
	case CmdSync:
		var r *syncer.Result
		r, res.Err = l.engine.Sync(ctx, syncer.Options{
			Incremental:     true,
			MessagesPerChat: cmd.Limit,
			IgnoreChats:     l.opts.IgnoreChats,
			IgnoreChannels:  l.opts.IgnoreChannels,
		})
		if res.Err == nil {
			res.Synced = r.MessagesStored
		}
	case CmdRead:
		res = l.handleRead(ctx, cmd)
	case CmdStop:
		if l.opts.OnStop != nil {
			l.opts.OnStop()
		}
	default:
		res.Err = errors.New("unknown command")
	}
	cmd.Reply <- res
}

func (l *Listener) handleRead(ctx context.Context, cmd Command) CommandResult {
	var res CommandResult
	switch {
	case cmd.AllTopics:
		topics, err := l.remote.Topics(ctx, cmd.ChatID)
		if err != nil {
			res.Err = err
			return res
		}
		for _, t := range topics {
			if t.UnreadCount == 0 {
				continue
			}
			if err := l.remote.MarkReadTopic(ctx, cmd.ChatID, t.ID); err != nil {
				res.Err = err
				return res
			}
			res.TopicsCount++
		}
		res.MarkedRead = true
	case cmd.TopicID != 0:
		if err := l.remote.MarkReadTopic(ctx, cmd.ChatID, cmd.TopicID); err != nil {
			res.Err = err
			return res
		}
		res.MarkedRead = true
		res.TopicsCount = 1
	default:
		if err := l.remote.MarkRead(ctx, cmd.ChatID, 0); err != nil {
			res.Err = err
			return res
		}
		res.MarkedRead = true
	}
	return res
}
