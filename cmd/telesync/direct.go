package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/bus"
	"github.com/lfmartins/telesync/internal/config"
	"github.com/lfmartins/telesync/internal/ctl"
	"github.com/lfmartins/telesync/internal/lock"
	"github.com/lfmartins/telesync/internal/session"
	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/syncer"
	"github.com/lfmartins/telesync/internal/telegram"
)

func (a *app) logger() *zap.Logger {
	if !a.verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// daemonUp reports whether a daemon is reachable: the socket file must
// exist and answer a ping. A stale socket left by a crash fails the
// ping and falls through to the direct path.
func (a *app) daemonUp() bool {
	return session.SocketAvailable(a.dir) && ctl.Ping(session.SocketPath(a.dir))
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath(a.dir))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (run `telesync auth` to set up)", err)
	}
	return cfg, nil
}

// withClient runs fn inside a direct MTProto connection. The session
// lock is held for the duration so a running daemon and a direct
// command never share the session file.
func (a *app) withClient(fn func(ctx context.Context, c *telegram.Client) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	return a.withClientConfig(cfg, fn)
}

func (a *app) withClientConfig(cfg *config.Config, fn func(ctx context.Context, c *telegram.Client) error) error {
	if err := session.EnsureDir(a.dir); err != nil {
		return err
	}
	lk, err := lock.Acquire(a.dir)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("%w; stop the daemon (`telesync stop`) or use socket commands", err)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := telegram.New(telegram.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionPath: session.SessionPath(a.dir),
		Auth:        telegram.NewTermAuth(cfg.Phone, os.Stdin, os.Stderr),
		Logger:      a.logger(),
	})
	return client.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, client)
	})
}

func (a *app) cmdAuth(args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := session.ConfigPath(a.dir)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.APIID == 0 || cfg.APIHash == "" || cfg.Phone == "" {
		if err := promptCredentials(cfg); err != nil {
			return err
		}
		if err := session.EnsureDir(a.dir); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved config to %s\n", path)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Skip the interactive flow when the stored session already works.
	if !a.daemonUp() {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		check := telegram.New(telegram.Options{
			APIID:       cfg.APIID,
			APIHash:     cfg.APIHash,
			SessionPath: session.SessionPath(a.dir),
			Logger:      a.logger(),
		})
		ok, err := check.Authorized(ctx)
		cancel()
		if err == nil && ok {
			fmt.Println("Already signed in.")
			return nil
		}
	}

	return a.withClientConfig(cfg, func(ctx context.Context, c *telegram.Client) error {
		fmt.Printf("Signed in. User id: %d\n", c.SelfID())
		return nil
	})
}

// promptCredentials fills in api_id, api_hash and phone interactively.
// Credentials come from https://my.telegram.org/apps.
func promptCredentials(cfg *config.Config) error {
	in := bufio.NewReader(os.Stdin)
	ask := func(prompt, current string) (string, error) {
		if current != "" {
			return current, nil
		}
		fmt.Fprint(os.Stderr, prompt)
		line, err := in.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	if cfg.APIID == 0 {
		raw, err := ask("API ID: ", "")
		if err != nil {
			return err
		}
		id, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("api id must be a number: %w", err)
		}
		cfg.APIID = id
	}
	var err error
	if cfg.APIHash, err = ask("API hash: ", cfg.APIHash); err != nil {
		return err
	}
	if cfg.Phone, err = ask("Phone (international format): ", cfg.Phone); err != nil {
		return err
	}
	return nil
}

func (a *app) cmdSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	chat := fs.Int64("chat", 0, "sync a single chat")
	full := fs.Bool("full", false, "ignore cursors and refetch up to --limit per chat")
	limit := fs.Int("limit", 0, "messages per chat for full fetches")
	media := fs.Bool("media", false, "download media attachments")
	markRead := fs.Bool("mark-read", false, "mark synced chats as read")
	chatsOnly := fs.Bool("chats-only", false, "refresh chat list and contacts only")
	messagesOnly := fs.Bool("messages-only", false, "re-sync history for cached chats only")
	skipArchived := fs.Bool("skip-archived", false, "skip archived dialogs")
	archivedOnly := fs.Bool("archived-only", false, "sync archived dialogs only")
	prune := fs.Int64("prune", 0, "keep only the newest N messages per chat")
	concurrency := fs.Int64("concurrency", 0, "parallel chat syncs")
	stream := fs.Bool("stream", false, "emit one JSON line per stored message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// A plain incremental sync goes through a running daemon; anything
	// fancier needs the connection to itself.
	socket := session.SocketPath(a.dir)
	simple := *chat == 0 && !*full && !*media && !*markRead && !*chatsOnly &&
		!*messagesOnly && !*skipArchived && !*archivedOnly && *prune == 0 && !*stream
	if a.daemonUp() {
		if !simple {
			return fmt.Errorf("daemon is running; flagged syncs need a direct connection, stop it first (`telesync stop`)")
		}
		c, err := ctl.Dial(socket)
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.Do(ctl.ActionSync, ctl.SyncRequest{Limit: *limit})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		if a.jsonOut {
			return outputJSON(resp)
		}
		synced := int64(0)
		if resp.Synced != nil {
			synced = *resp.Synced
		}
		fmt.Printf("Synced %d messages via daemon.\n", synced)
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := syncer.Options{
		Chat:            *chat,
		Incremental:     !*full,
		MessagesPerChat: *limit,
		Concurrency:     *concurrency,
		IgnoreChats:     cfg.IgnoreChats,
		IgnoreChannels:  cfg.IgnoreChannels,
		DownloadMedia:   *media,
		MediaDir:        cfg.MediaDir,
		MarkRead:        *markRead,
		PruneAfter:      *prune,
		SkipArchived:    *skipArchived,
		ArchivedOnly:    *archivedOnly,
		ChatsOnly:       *chatsOnly,
		MessagesOnly:    *messagesOnly,
		Progress:        !a.jsonOut && !*stream,
		Stream:          *stream,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = int64(cfg.Concurrency)
	}
	if opts.MediaDir == "" {
		opts.MediaDir = session.MediaDir(a.dir)
	}

	b := bus.New()
	stopEcho := a.echoSyncEvents(b, *stream)
	defer stopEcho()

	var result *syncer.Result
	err = a.withClientConfig(cfg, func(ctx context.Context, c *telegram.Client) error {
		engine := syncer.New(c, db, b, a.logger())
		result, err = engine.Sync(ctx, opts)
		return err
	})
	if err != nil {
		return err
	}
	stopEcho()
	if a.jsonOut {
		return outputJSON(result)
	}
	printSyncResult(result)
	return nil
}

// echoSyncEvents mirrors sync bus traffic to the terminal: progress
// lines to stderr, or full NDJSON events to stdout in stream mode.
func (a *app) echoSyncEvents(b *bus.Bus, stream bool) func() {
	events, unsubscribe := b.Subscribe("sync.", 256)
	quit := make(chan struct{})
	done := make(chan struct{})

	echo := func(evt bus.Event) {
		switch {
		case stream:
			line, err := ctl.Marshal(string(evt.Kind), evt.Payload)
			if err == nil {
				fmt.Println(string(line))
			}
		case evt.Kind == bus.KindSyncProgress:
			if p, ok := evt.Payload.(syncer.Progress); ok {
				fmt.Fprintf(os.Stderr, "  %s: %d messages\n", p.ChatName, p.MessagesStored)
			}
		}
	}

	go func() {
		defer close(done)
		for {
			select {
			case evt := <-events:
				echo(evt)
			case <-quit:
				// Flush whatever the publisher buffered before the stop.
				for {
					select {
					case evt := <-events:
						echo(evt)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(quit)
			<-done
		})
	}
}

func (a *app) cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.Int64("to", 0, "destination chat id (required)")
	message := fs.String("message", "", "message text (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == 0 || *message == "" {
		return fmt.Errorf("--to and --message are required")
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var sent *telegram.Message
	err = a.withClient(func(ctx context.Context, c *telegram.Client) error {
		// Dialog paging seeds the peer cache with access hashes.
		if _, err := c.Dialogs(ctx); err != nil {
			return err
		}
		sent, err = c.SendText(ctx, *to, *message)
		return err
	})
	if err != nil {
		return err
	}

	// Mirror the echo locally so the cache shows the message before the
	// next sync pass.
	if upsertErr := db.UpsertMessage(messageToStore(sent)); upsertErr != nil {
		fmt.Fprintf(os.Stderr, "warning: message sent but not cached: %v\n", upsertErr)
	}
	if a.jsonOut {
		return outputJSON(sent)
	}
	fmt.Printf("Sent message %d to chat %d.\n", sent.ID, sent.ChatID)
	return nil
}

func messageToStore(m *telegram.Message) *store.Message {
	sm := &store.Message{
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
		sm.MediaType = m.Media.Type
	}
	return sm
}

func (a *app) cmdRead(args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	chat := fs.Int64("chat", 0, "chat id (required)")
	message := fs.Int64("message", 0, "mark read up to this message id only")
	topic := fs.Int64("topic", 0, "mark one forum topic as read")
	allTopics := fs.Bool("all-topics", false, "mark every unread forum topic as read")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *chat == 0 {
		return fmt.Errorf("--chat is required")
	}
	if *topic != 0 && *allTopics {
		return fmt.Errorf("--topic and --all-topics are mutually exclusive")
	}

	// The daemon handles whole-chat and topic acknowledgements; a
	// partial --message watermark needs a direct call.
	if *message == 0 && a.daemonUp() {
		c, err := ctl.Dial(session.SocketPath(a.dir))
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.Do(ctl.ActionRead, ctl.ReadRequest{ChatID: *chat, TopicID: *topic, AllTopics: *allTopics})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		if a.jsonOut {
			return outputJSON(resp)
		}
		if *allTopics {
			fmt.Printf("Marked %d topics as read.\n", resp.TopicsCount)
		} else {
			fmt.Println("Marked as read.")
		}
		return nil
	}

	marked := 0
	err := a.withClient(func(ctx context.Context, c *telegram.Client) error {
		if _, err := c.Dialogs(ctx); err != nil {
			return err
		}
		switch {
		case *allTopics:
			topics, err := c.Topics(ctx, *chat)
			if err != nil {
				return err
			}
			for _, t := range topics {
				if t.UnreadCount == 0 {
					continue
				}
				if err := c.MarkReadTopic(ctx, *chat, t.ID); err != nil {
					return err
				}
				marked++
			}
			return nil
		case *topic != 0:
			return c.MarkReadTopic(ctx, *chat, *topic)
		default:
			return c.MarkRead(ctx, *chat, *message)
		}
	})
	if err != nil {
		return err
	}
	if *allTopics {
		fmt.Printf("Marked %d topics as read.\n", marked)
	} else {
		fmt.Println("Marked as read.")
	}
	return nil
}

func (a *app) cmdTopics(args []string) error {
	fs := flag.NewFlagSet("topics", flag.ExitOnError)
	chat := fs.Int64("chat", 0, "forum chat id (required)")
	refresh := fs.Bool("sync", false, "fetch the topic list from the server first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *chat == 0 {
		return fmt.Errorf("--chat is required")
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if *refresh {
		err := a.withClient(func(ctx context.Context, c *telegram.Client) error {
			if _, err := c.Dialogs(ctx); err != nil {
				return err
			}
			topics, err := c.Topics(ctx, *chat)
			if err != nil {
				return err
			}
			for _, t := range topics {
				if err := db.UpsertTopic(&store.Topic{
					ChatID:    *chat,
					TopicID:   t.ID,
					Name:      t.Title,
					IconColor: t.IconColor,
					IconEmoji: t.IconEmoji,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	topics, err := db.ListTopics(*chat)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return outputJSON(topics)
	}
	if len(topics) == 0 {
		fmt.Println("No topics cached. Try `telesync topics --chat <id> --sync`.")
		return nil
	}
	for _, t := range topics {
		printTopic(&t)
	}
	return nil
}

func (a *app) cmdPing() error {
	socket := session.SocketPath(a.dir)
	if !ctl.Ping(socket) {
		return fmt.Errorf("no daemon answering at %s", socket)
	}
	if a.jsonOut {
		return outputJSON(map[string]any{"ok": true, "socket": socket})
	}
	fmt.Printf("Daemon is running at %s\n", socket)
	return nil
}

func (a *app) cmdStop() error {
	c, err := ctl.Dial(session.SocketPath(a.dir))
	if err != nil {
		return fmt.Errorf("no daemon to stop: %w", err)
	}
	defer c.Close()
	resp, err := c.Do(ctl.ActionStop, nil)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	fmt.Println("Daemon stopping.")
	return nil
}
