package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lfmartins/telesync/internal/session"
	"github.com/lfmartins/telesync/internal/store"
)

// openStore opens the local cache read-write. Cache reads never need the
// daemon; the sqlite file is shared via WAL.
func (a *app) openStore() (*store.DB, error) {
	return store.Open(session.CachePath(a.dir))
}

func (a *app) cmdChats(args []string) error {
	fs := flag.NewFlagSet("chats", flag.ExitOnError)
	query := fs.String("query", "", "filter by name or username substring")
	limit := fs.Int64("limit", 50, "maximum number of chats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	chats, err := db.ListChats(*query, *limit)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return outputJSON(chats)
	}
	if len(chats) == 0 {
		fmt.Println("No chats cached. Run `telesync sync` first.")
		return nil
	}
	for _, c := range chats {
		printChat(&c)
	}
	return nil
}

func (a *app) cmdMessages(args []string) error {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	chatID := fs.Int64("chat", 0, "chat id (required)")
	around := fs.Int64("around", 0, "show the conversation around this message id")
	topicID := fs.Int64("topic", 0, "forum topic id")
	sender := fs.Int64("from", 0, "filter by sender id")
	media := fs.String("media", "", "filter by media type (photo, video, ...)")
	after := fs.String("after", "", "only messages after this time (YYYY-MM-DD or RFC 3339)")
	before := fs.String("before", "", "only messages before this time")
	limit := fs.Int64("limit", 50, "maximum number of messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *chatID == 0 {
		return fmt.Errorf("--chat is required")
	}

	if *around != 0 {
		db, err := a.openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		span := *limit / 2
		if span < 1 {
			span = 5
		}
		msgs, err := db.MessageContext(*chatID, *around, span, span)
		if err != nil {
			return err
		}
		if a.jsonOut {
			return outputJSON(msgs)
		}
		for _, m := range msgs {
			printMessage(&m)
		}
		return nil
	}

	p := store.ListMessagesParams{
		ChatID:    *chatID,
		TopicID:   *topicID,
		SenderID:  *sender,
		MediaType: *media,
		Limit:     *limit,
	}
	if *after != "" {
		t, err := parseTime(*after)
		if err != nil {
			return fmt.Errorf("--after: %w", err)
		}
		p.After = &t
	}
	if *before != "" {
		t, err := parseTime(*before)
		if err != nil {
			return fmt.Errorf("--before: %w", err)
		}
		p.Before = &t
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	msgs, err := db.ListMessages(p)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return outputJSON(msgs)
	}
	for _, m := range msgs {
		printMessage(&m)
	}
	return nil
}

func (a *app) cmdSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	chatID := fs.Int64("chat", 0, "restrict to one chat")
	sender := fs.Int64("from", 0, "filter by sender id")
	media := fs.String("media", "", "filter by media type")
	limit := fs.Int64("limit", 50, "maximum number of results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: telesync search <query>")
	}
	query := fs.Arg(0)

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if !db.HasFTS() {
		fmt.Fprintln(os.Stderr, "note: sqlite build lacks FTS5, using slower substring search")
	}
	msgs, err := db.SearchMessages(store.SearchMessagesParams{
		Query:     query,
		ChatID:    *chatID,
		SenderID:  *sender,
		MediaType: *media,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	if a.jsonOut {
		return outputJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, m := range msgs {
		printSearchHit(&m)
	}
	return nil
}

func (a *app) cmdContacts(args []string) error {
	fs := flag.NewFlagSet("contacts", flag.ExitOnError)
	query := fs.String("query", "", "filter by name, username or phone substring")
	limit := fs.Int64("limit", 100, "maximum number of contacts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	contacts, err := db.ListContacts(*query, *limit)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return outputJSON(contacts)
	}
	for _, c := range contacts {
		printContact(&c)
	}
	return nil
}

func (a *app) cmdClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	withChats := fs.Bool("chats", false, "also delete cached chats and cursors")
	withContacts := fs.Bool("contacts", false, "also delete cached contacts")
	yes := fs.Bool("y", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*yes {
		what := "messages and topics"
		if *withChats {
			what += ", chats"
		}
		if *withContacts {
			what += ", contacts"
		}
		fmt.Fprintf(os.Stderr, "This deletes all cached %s in %s. Continue? [y/N] ", what, a.dir)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "aborted")
			return nil
		}
	}

	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var counts store.ClearCounts
	if counts.Messages, err = db.ClearMessages(); err != nil {
		return err
	}
	if counts.Topics, err = db.ClearTopics(); err != nil {
		return err
	}
	if *withChats {
		if counts.Chats, err = db.ClearChats(); err != nil {
			return err
		}
	}
	if *withContacts {
		if counts.Contacts, err = db.ClearContacts(); err != nil {
			return err
		}
	}

	if a.jsonOut {
		return outputJSON(counts)
	}
	fmt.Printf("Deleted %d messages, %d topics", counts.Messages, counts.Topics)
	if *withChats {
		fmt.Printf(", %d chats", counts.Chats)
	}
	if *withContacts {
		fmt.Printf(", %d contacts", counts.Contacts)
	}
	fmt.Println(".")
	return nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
