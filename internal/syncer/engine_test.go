package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/telegram"
)

// fakeRemote serves canned dialogs and history, newest first, and
// records which chats were fetched.
type fakeRemote struct {
	mu       sync.Mutex
	dialogs  []telegram.Dialog
	archived []telegram.Dialog
	history  map[int64][]telegram.Message
	topics   map[int64][]telegram.Topic
	contacts []telegram.Contact

	historyErr map[int64]error
	fetched    []int64
	markedRead []int64
	seeded     []telegram.Dialog
}

func (f *fakeRemote) SeedPeers(dialogs []telegram.Dialog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded = append(f.seeded, dialogs...)
}

func (f *fakeRemote) Dialogs(ctx context.Context) ([]telegram.Dialog, error) {
	return f.dialogs, nil
}

func (f *fakeRemote) Archived(ctx context.Context) ([]telegram.Dialog, error) {
	return f.archived, nil
}

func (f *fakeRemote) History(ctx context.Context, chatID int64, opts telegram.HistoryOptions) ([]telegram.Message, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, chatID)
	f.mu.Unlock()

	if err := f.historyErr[chatID]; err != nil {
		return nil, err
	}
	var out []telegram.Message
	for _, m := range f.history[chatID] {
		if opts.OffsetID != 0 && m.ID >= opts.OffsetID {
			continue
		}
		out = append(out, m)
		if len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRemote) Topics(ctx context.Context, chatID int64) ([]telegram.Topic, error) {
	return f.topics[chatID], nil
}

func (f *fakeRemote) Contacts(ctx context.Context) ([]telegram.Contact, error) {
	return f.contacts, nil
}

func (f *fakeRemote) Download(ctx context.Context, msg *telegram.Message, dir string) (string, error) {
	return "", errors.New("no downloads in tests")
}

func (f *fakeRemote) SendText(ctx context.Context, chatID int64, text string) (*telegram.Message, error) {
	return nil, errors.New("send not supported")
}

func (f *fakeRemote) MarkRead(ctx context.Context, chatID, maxID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, chatID)
	return nil
}

func (f *fakeRemote) MarkReadTopic(ctx context.Context, chatID, topicID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, chatID)
	return nil
}

func (f *fakeRemote) fetchCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.fetched {
		if id == chatID {
			n++
		}
	}
	return n
}

func msgAt(id int64, chatID int64, sec int64, text string) telegram.Message {
	return telegram.Message{
		ID: id, ChatID: chatID, SenderID: 5,
		TS: time.Unix(sec, 0).UTC(), Text: text,
	}
}

func testEngine(t *testing.T, remote *fakeRemote) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(remote, db, bus.New(), zap.NewNop()), db
}

func chatFixture() *fakeRemote {
	return &fakeRemote{
		dialogs: []telegram.Dialog{
			{ID: 100, Kind: telegram.KindGroup, Title: "Team", UnreadCount: 2},
		},
		history: map[int64][]telegram.Message{
			100: {
				msgAt(3, 100, 300, "three"),
				msgAt(2, 100, 200, "two"),
				msgAt(1, 100, 100, "one"),
			},
		},
		historyErr: map[int64]error{},
	}
}

func TestSyncBootstrapThenIncremental(t *testing.T) {
	remote := chatFixture()
	engine, db := testEngine(t, remote)

	res, err := engine.Sync(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessagesStored != 3 || res.ChatsStored != 1 {
		t.Errorf("first pass: %+v", res)
	}
	cur, _ := db.Cursor(100)
	if cur != 3 {
		t.Errorf("cursor = %d, want 3", cur)
	}

	// Nothing new: the cursor stops paging immediately.
	res, err = engine.Sync(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessagesStored != 0 {
		t.Errorf("second pass stored %d, want 0", res.MessagesStored)
	}

	// One new message arrives; only it is ingested.
	remote.history[100] = append([]telegram.Message{msgAt(4, 100, 400, "four")}, remote.history[100]...)
	res, err = engine.Sync(context.Background(), Options{Incremental: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessagesStored != 1 {
		t.Errorf("third pass stored %d, want 1", res.MessagesStored)
	}
	cur, _ = db.Cursor(100)
	if cur != 4 {
		t.Errorf("cursor = %d, want 4", cur)
	}
}

func TestSyncIgnoreFiltersSkipFetch(t *testing.T) {
	remote := chatFixture()
	remote.dialogs = append(remote.dialogs,
		telegram.Dialog{ID: 200, Kind: telegram.KindChannel, Title: "News"},
		telegram.Dialog{ID: 300, Kind: telegram.KindUser, Title: "Bob"},
	)
	remote.history[200] = []telegram.Message{msgAt(1, 200, 100, "post")}
	remote.history[300] = []telegram.Message{msgAt(1, 300, 100, "hi")}

	engine, db := testEngine(t, remote)
	_, err := engine.Sync(context.Background(), Options{
		IgnoreChats:    []int64{300},
		IgnoreChannels: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Filters apply before any network fetch.
	if n := remote.fetchCount(200); n != 0 {
		t.Errorf("ignored channel fetched %d times", n)
	}
	if n := remote.fetchCount(300); n != 0 {
		t.Errorf("ignored chat fetched %d times", n)
	}
	if n := remote.fetchCount(100); n == 0 {
		t.Error("eligible chat never fetched")
	}
	// Filtered chats also keep no chat row.
	if c, _ := db.GetChat(300); c != nil {
		t.Error("ignored chat was cached")
	}
}

func TestSyncFetchErrorSkipsChatOnly(t *testing.T) {
	remote := chatFixture()
	remote.dialogs = append(remote.dialogs, telegram.Dialog{ID: 200, Kind: telegram.KindGroup, Title: "Broken"})
	remote.historyErr[200] = errors.New("CHANNEL_PRIVATE")

	engine, db := testEngine(t, remote)
	res, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessagesStored != 3 {
		t.Errorf("stored %d, want 3 from the healthy chat", res.MessagesStored)
	}
	// The failed chat's cursor must not move.
	cur, _ := db.Cursor(200)
	if cur != 0 {
		t.Errorf("failed chat cursor = %d, want 0", cur)
	}
}

func TestSyncChatsOnly(t *testing.T) {
	remote := chatFixture()
	remote.contacts = []telegram.Contact{{ID: 9, FirstName: "Ana", Phone: "+1"}}

	engine, db := testEngine(t, remote)
	res, err := engine.Sync(context.Background(), Options{ChatsOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChatsStored != 1 || res.MessagesStored != 0 {
		t.Errorf("result: %+v", res)
	}
	if n := remote.fetchCount(100); n != 0 {
		t.Error("chats-only pass fetched history")
	}
	// Contact refresh still runs.
	if c, _ := db.GetContact(9); c == nil || c.FirstName != "Ana" {
		t.Errorf("contact not stored: %+v", c)
	}
}

func TestSyncArchivedScope(t *testing.T) {
	remote := chatFixture()
	remote.archived = []telegram.Dialog{
		{ID: 900, Kind: telegram.KindGroup, Title: "Old stuff", Archived: true},
	}
	remote.history[900] = []telegram.Message{msgAt(1, 900, 100, "archived msg")}

	engine, db := testEngine(t, remote)
	res, err := engine.Sync(context.Background(), Options{ArchivedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChatsStored != 1 || res.MessagesStored != 1 {
		t.Errorf("archived-only result: %+v", res)
	}
	if c, _ := db.GetChat(100); c != nil {
		t.Error("main-folder chat synced in archived-only scope")
	}

	if _, err := engine.Sync(context.Background(), Options{SkipArchived: true, ArchivedOnly: true}); err == nil {
		t.Error("conflicting scope flags accepted")
	}
}

func TestSyncMessagesOnlyUsesCachedChats(t *testing.T) {
	remote := chatFixture()
	engine, db := testEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{Incremental: true}); err != nil {
		t.Fatal(err)
	}

	// Drop the dialog list; messages-only must not need it.
	remote.dialogs = nil
	remote.history[100] = append([]telegram.Message{msgAt(4, 100, 400, "four")}, remote.history[100]...)

	res, err := engine.Sync(context.Background(), Options{MessagesOnly: true, Incremental: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessagesStored != 1 {
		t.Errorf("stored %d, want 1", res.MessagesStored)
	}
	cur, _ := db.Cursor(100)
	if cur != 4 {
		t.Errorf("cursor = %d, want 4", cur)
	}
}

func TestSyncMessagesOnlySeedsPeers(t *testing.T) {
	remote := chatFixture()
	remote.dialogs[0].AccessHash = 777
	engine, _ := testEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{Incremental: true}); err != nil {
		t.Fatal(err)
	}
	if len(remote.seeded) != 0 {
		t.Errorf("full pass seeded peers: %+v", remote.seeded)
	}

	// Messages-only skips dialog paging entirely, so the remote has to be
	// primed with cached peers, access hashes included.
	if _, err := engine.Sync(context.Background(), Options{MessagesOnly: true, Incremental: true}); err != nil {
		t.Fatal(err)
	}
	if len(remote.seeded) != 1 {
		t.Fatalf("seeded %d peers, want 1", len(remote.seeded))
	}
	if remote.seeded[0].ID != 100 || remote.seeded[0].AccessHash != 777 {
		t.Errorf("seeded peer: %+v", remote.seeded[0])
	}
}

func TestSyncForumTopics(t *testing.T) {
	remote := chatFixture()
	remote.dialogs = []telegram.Dialog{
		{ID: 100, Kind: telegram.KindGroup, Title: "Forum", IsForum: true},
	}
	remote.history[100] = []telegram.Message{
		{ID: 3, ChatID: 100, TS: time.Unix(300, 0), Text: "in topic", TopicID: 2},
		{ID: 2, ChatID: 100, TS: time.Unix(200, 0), Text: "root"},
	}
	remote.topics = map[int64][]telegram.Topic{
		100: {{ID: 2, Title: "General", UnreadCount: 1}},
	}

	engine, db := testEngine(t, remote)
	res, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.PerChat) != 1 || len(res.PerChat[0].Topics) != 1 {
		t.Fatalf("topic results missing: %+v", res.PerChat)
	}
	topic := res.PerChat[0].Topics[0]
	if topic.TopicID != 2 || topic.MessagesSynced != 1 || topic.UnreadCount != 1 {
		t.Errorf("topic result: %+v", topic)
	}
	if stored, _ := db.GetTopic(100, 2); stored == nil || stored.Name != "General" {
		t.Errorf("topic row: %+v", stored)
	}
}

func TestSyncMarkRead(t *testing.T) {
	remote := chatFixture()
	engine, _ := testEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{MarkRead: true}); err != nil {
		t.Fatal(err)
	}
	if len(remote.markedRead) != 1 || remote.markedRead[0] != 100 {
		t.Errorf("marked read: %v", remote.markedRead)
	}
}

func TestSyncPruneAfter(t *testing.T) {
	remote := chatFixture()
	engine, db := testEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{PruneAfter: 1}); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages(store.ListMessagesParams{ChatID: 100})
	if len(msgs) != 1 || msgs[0].ID != 3 {
		t.Errorf("prune kept: %+v", msgs)
	}
}

func TestBackfillFetchesOlderHistory(t *testing.T) {
	remote := chatFixture()
	engine, db := testEngine(t, remote)

	// Cache only the newest message, then backfill behind it.
	if _, err := engine.Sync(context.Background(), Options{MessagesPerChat: 1}); err != nil {
		t.Fatal(err)
	}
	cursorBefore, _ := db.Cursor(100)

	fetched, err := engine.Backfill(context.Background(), 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if fetched != 2 {
		t.Errorf("backfilled %d, want 2", fetched)
	}
	msgs, _ := db.ListMessages(store.ListMessagesParams{ChatID: 100})
	if len(msgs) != 3 {
		t.Errorf("cached %d messages, want 3", len(msgs))
	}
	// Backfill rows are behind the cursor; it must not move.
	if cur, _ := db.Cursor(100); cur != cursorBefore {
		t.Errorf("cursor moved from %d to %d", cursorBefore, cur)
	}
}

func TestSyncStreamsPerMessageEvents(t *testing.T) {
	remote := chatFixture()
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	b := bus.New()
	events, cancel := b.Subscribe("sync.", 16)
	defer cancel()

	engine := New(remote, db, b, zap.NewNop())
	if _, err := engine.Sync(context.Background(), Options{Stream: true}); err != nil {
		t.Fatal(err)
	}

	var msgEvents, doneEvents int
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case bus.KindSyncMessage:
				msgEvents++
			case bus.KindSyncDone:
				doneEvents++
			}
		default:
			if msgEvents != 3 {
				t.Errorf("message events = %d, want 3", msgEvents)
			}
			if doneEvents != 1 {
				t.Errorf("done events = %d, want 1", doneEvents)
			}
			return
		}
	}
}
