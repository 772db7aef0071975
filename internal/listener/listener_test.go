package listener

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/syncer"
	"github.com/lfmartins/telesync/internal/telegram"
)

type fakeSyncer struct {
	syncCalls     int
	backfillCalls int
	fetched       int64
}

func (f *fakeSyncer) Sync(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
	f.syncCalls++
	return &syncer.Result{MessagesStored: 7}, nil
}

func (f *fakeSyncer) Backfill(ctx context.Context, chatID int64, limit int) (int64, error) {
	f.backfillCalls++
	return f.fetched, nil
}

type fakeReader struct {
	marked      []int64
	topicMarked []int64
	topics      []telegram.Topic
}

func (f *fakeReader) MarkRead(ctx context.Context, chatID, maxID int64) error {
	f.marked = append(f.marked, chatID)
	return nil
}

func (f *fakeReader) MarkReadTopic(ctx context.Context, chatID, topicID int64) error {
	f.topicMarked = append(f.topicMarked, topicID)
	return nil
}

func (f *fakeReader) Topics(ctx context.Context, chatID int64) ([]telegram.Topic, error) {
	return f.topics, nil
}

type harness struct {
	listener *Listener
	events   chan telegram.Event
	db       *store.DB
	syncer   *fakeSyncer
	reader   *fakeReader
	bus      *bus.Bus
	done     chan error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "listener.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	opts.SkipBackfill = true
	h := &harness{
		events: make(chan telegram.Event),
		db:     db,
		syncer: &fakeSyncer{},
		reader: &fakeReader{},
		bus:    bus.New(),
		done:   make(chan error, 1),
	}
	h.listener = New(h.events, h.reader, h.syncer, db, h.bus, zap.NewNop(), opts)
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.done <- h.listener.Run(ctx) }()
}

// send delivers an event. The channel is unbuffered, so once the send
// is accepted the loop has picked it up and will finish handling it
// before selecting again.
func (h *harness) send(t *testing.T, ev telegram.Event) {
	t.Helper()
	select {
	case h.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not consuming events")
	}
}

func (h *harness) stopAndWait(t *testing.T, cancel context.CancelFunc) error {
	t.Helper()
	cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
		return nil
	}
}

func liveMessage(chatID, id int64, text string) *telegram.NewMessage {
	return &telegram.NewMessage{Message: telegram.Message{
		ID: id, ChatID: chatID, SenderID: 5,
		TS: time.Unix(1000+id, 0).UTC(), Text: text,
	}}
}

func liveMessageFrom(chat *telegram.Dialog, id int64, text string) *telegram.NewMessage {
	ev := liveMessage(chat.ID, id, text)
	ev.Chat = chat
	return ev
}

func TestListenerStoresNewMessageAndAdvancesCursor(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.send(t, liveMessage(100, 1, "hello"))
	h.send(t, liveMessage(100, 2, "world"))
	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}

	msgs, _ := h.db.ListMessages(store.ListMessagesParams{ChatID: 100})
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	cur, _ := h.db.Cursor(100)
	if cur != 2 {
		t.Errorf("cursor = %d, want 2", cur)
	}
}

func TestListenerEditTouchesOnlyTextAndEditTS(t *testing.T) {
	h := newHarness(t, Options{})
	seed := &store.Message{
		ID: 1, ChatID: 100, SenderID: 5, TS: time.Unix(1000, 0).UTC(),
		Text: "original", MediaType: "photo", MediaPath: "/m/100/1.jpg",
	}
	if err := h.db.UpsertMessage(seed); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	h.send(t, &telegram.MessageEdited{
		ChatID: 100, ID: 1, Text: "edited", EditTS: time.Unix(2000, 0).UTC(),
	})
	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}

	got, _ := h.db.GetMessage(100, 1)
	if got.Text != "edited" || got.EditTS == nil {
		t.Errorf("edit not applied: %+v", got)
	}
	if got.MediaPath != "/m/100/1.jpg" || got.SenderID != 5 || !got.TS.Equal(seed.TS) {
		t.Errorf("edit touched unrelated fields: %+v", got)
	}
}

func TestListenerRetainsDeletedMessages(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.db.UpsertMessage(&store.Message{
		ID: 1, ChatID: 100, TS: time.Unix(1000, 0).UTC(), Text: "kept",
	}); err != nil {
		t.Fatal(err)
	}

	deleted, unsub := h.bus.Subscribe(string(bus.KindMessageDeleted), 4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	h.send(t, &telegram.MessagesDeleted{ChatID: 100, IDs: []int64{1}})
	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}

	// The row survives; only the stream sees the deletion.
	if got, _ := h.db.GetMessage(100, 1); got == nil {
		t.Error("deleted message was removed from cache")
	}
	select {
	case ev := <-deleted:
		if ev.Kind != bus.KindMessageDeleted {
			t.Errorf("event kind = %s", ev.Kind)
		}
	default:
		t.Error("deletion not surfaced on the bus")
	}
}

func TestListenerIgnoreFilters(t *testing.T) {
	h := newHarness(t, Options{IgnoreChats: []int64{400}, IgnoreChannels: true})
	if err := h.db.UpsertChat(&store.Chat{ID: 500, Kind: store.KindChannel, Name: "News"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	h.send(t, liveMessage(400, 1, "ignored by id"))
	h.send(t, liveMessage(500, 1, "ignored by kind"))
	h.send(t, liveMessage(100, 1, "kept"))
	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}

	if got, _ := h.db.GetMessage(400, 1); got != nil {
		t.Error("ignored chat message stored")
	}
	if got, _ := h.db.GetMessage(500, 1); got != nil {
		t.Error("channel message stored despite ignore-channels")
	}
	if got, _ := h.db.GetMessage(100, 1); got == nil {
		t.Error("eligible message not stored")
	}
}

func TestListenerIgnoresUnseenChannelFromEvent(t *testing.T) {
	h := newHarness(t, Options{IgnoreChannels: true})

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	// No cached row for this chat: the kind has to come from the event.
	h.send(t, liveMessageFrom(&telegram.Dialog{ID: 600, Kind: telegram.KindChannel, Title: "Breaking"}, 1, "post"))
	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}

	if got, _ := h.db.GetMessage(600, 1); got != nil {
		t.Error("unseen channel message stored despite ignore-channels")
	}
	if c, _ := h.db.GetChat(600); c != nil {
		t.Error("ignored channel was cached")
	}
}

func TestListenerStoresChatMetadataFromEvent(t *testing.T) {
	h := newHarness(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	h.send(t, liveMessageFrom(&telegram.Dialog{
		ID: 700, Kind: telegram.KindGroup, Title: "Forum", Username: "forum", IsForum: true, AccessHash: 42,
	}, 1, "hello"))
	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}

	c, _ := h.db.GetChat(700)
	if c == nil {
		t.Fatal("chat row missing for live message")
	}
	if c.Kind != store.KindGroup || c.Name != "Forum" || c.Username != "forum" || !c.IsForum {
		t.Errorf("chat metadata not carried from event: %+v", c)
	}
	if c.AccessHash != 42 {
		t.Errorf("access hash = %d, want 42", c.AccessHash)
	}
	if c.LastMessageTS == nil {
		t.Error("last message time not set")
	}
}

func TestListenerDroppedStreamIsFatal(t *testing.T) {
	h := newHarness(t, Options{})
	h.start(context.Background())

	close(h.events)
	select {
	case err := <-h.done:
		if err != ErrConnectionDropped {
			t.Errorf("err = %v, want ErrConnectionDropped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not exit on stream close")
	}
	if s := h.listener.State(); s != Stopped {
		t.Errorf("state = %s, want STOPPED", s)
	}
}

func TestListenerCommands(t *testing.T) {
	stopped := false
	h := newHarness(t, Options{OnStop: func() { stopped = true }})
	h.syncer.fetched = 42
	h.reader.topics = []telegram.Topic{
		{ID: 2, Title: "General", UnreadCount: 3},
		{ID: 5, Title: "Random"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	run := func(cmd Command) CommandResult {
		cmd.Reply = make(chan CommandResult, 1)
		h.listener.Commands() <- cmd
		select {
		case res := <-cmd.Reply:
			return res
		case <-time.After(2 * time.Second):
			t.Fatal("command not answered")
			return CommandResult{}
		}
	}

	if res := run(Command{Kind: CmdBackfill, ChatID: 100, Limit: 10}); res.Err != nil || res.Fetched != 42 {
		t.Errorf("backfill result: %+v", res)
	}
	if res := run(Command{Kind: CmdSync, Limit: 5}); res.Err != nil || res.Synced != 7 {
		t.Errorf("sync result: %+v", res)
	}

	// Whole-chat read.
	if res := run(Command{Kind: CmdRead, ChatID: 100}); res.Err != nil || !res.MarkedRead {
		t.Errorf("read result: %+v", res)
	}
	if len(h.reader.marked) != 1 || h.reader.marked[0] != 100 {
		t.Errorf("marked chats: %v", h.reader.marked)
	}

	// All-topics read only touches unread topics.
	if res := run(Command{Kind: CmdRead, ChatID: 100, AllTopics: true}); res.TopicsCount != 1 {
		t.Errorf("all-topics result: %+v", res)
	}
	if len(h.reader.topicMarked) != 1 || h.reader.topicMarked[0] != 2 {
		t.Errorf("marked topics: %v", h.reader.topicMarked)
	}

	if res := run(Command{Kind: CmdStop}); res.Err != nil {
		t.Errorf("stop result: %+v", res)
	}
	if !stopped {
		t.Error("stop callback not invoked")
	}

	if err := h.stopAndWait(t, cancel); err != nil {
		t.Fatal(err)
	}
}
