package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lfmartins/telesync/internal/store"
	"github.com/lfmartins/telesync/internal/syncer"
)

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printChat(c *store.Chat) {
	var extra []string
	if c.Username != "" {
		extra = append(extra, "@"+c.Username)
	}
	if c.IsForum {
		extra = append(extra, "forum")
	}
	suffix := ""
	if len(extra) > 0 {
		suffix = " (" + strings.Join(extra, ", ") + ")"
	}
	ts := ""
	if c.LastMessageTS != nil {
		ts = "  " + c.LastMessageTS.Local().Format("2006-01-02 15:04")
	}
	fmt.Printf("%12d  %-7s  %s%s%s\n", c.ID, c.Kind, c.Name, suffix, ts)
}

func printMessage(m *store.Message) {
	who := fmt.Sprintf("%d", m.SenderID)
	if m.FromMe {
		who = "me"
	}
	body := m.Text
	if m.MediaType != "" {
		tag := "[" + m.MediaType + "]"
		if m.MediaPath != "" {
			tag = "[" + m.MediaType + ": " + m.MediaPath + "]"
		}
		if body == "" {
			body = tag
		} else {
			body = tag + " " + body
		}
	}
	edited := ""
	if m.EditTS != nil {
		edited = " (edited)"
	}
	fmt.Printf("%s  %8d  %s: %s%s\n", m.TS.Local().Format("2006-01-02 15:04"), m.ID, who, body, edited)
}

func printSearchHit(m *store.Message) {
	text := m.Snippet
	if text == "" {
		text = m.Text
	}
	fmt.Printf("%s  chat %d  msg %d  %s\n", m.TS.Local().Format("2006-01-02 15:04"), m.ChatID, m.ID, text)
}

func printContact(c *store.Contact) {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	var extra []string
	if c.Username != "" {
		extra = append(extra, "@"+c.Username)
	}
	if c.Phone != "" {
		extra = append(extra, "+"+strings.TrimPrefix(c.Phone, "+"))
	}
	suffix := ""
	if len(extra) > 0 {
		suffix = "  " + strings.Join(extra, " ")
	}
	fmt.Printf("%12d  %s%s\n", c.UserID, name, suffix)
}

func printTopic(t *store.Topic) {
	icon := ""
	if t.IconEmoji != "" {
		icon = t.IconEmoji + " "
	}
	fmt.Printf("%8d  %s%s\n", t.TopicID, icon, t.Name)
}

func printSyncResult(r *syncer.Result) {
	fmt.Printf("Synced %d chats, %d messages.\n", r.ChatsStored, r.MessagesStored)
	for _, c := range r.PerChat {
		if c.MessagesSynced == 0 && len(c.Topics) == 0 {
			continue
		}
		fmt.Printf("  %-30s %6d messages\n", c.ChatName, c.MessagesSynced)
		for _, t := range c.Topics {
			fmt.Printf("    # %-26s %6d messages\n", t.TopicName, t.MessagesSynced)
		}
	}
}
