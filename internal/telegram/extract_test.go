package telegram

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestTopicIDFromReplyHeader(t *testing.T) {
	tests := []struct {
		name  string
		reply tg.MessageReplyHeader
		want  int64
	}{
		{"not a forum reply", tg.MessageReplyHeader{ReplyToMsgID: 5}, 0},
		{"reply inside topic", tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 40, ReplyToTopID: 12}, 12},
		{"direct reply to topic root", tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 12}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topicID(&tt.reply); got != tt.want {
				t.Errorf("topicID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConvertMessageSenderFallback(t *testing.T) {
	const selfID = int64(777)

	// Outgoing DM without FromID: sender is self.
	out := convertMessage(&tg.Message{
		ID: 1, Out: true, Date: 1000,
		PeerID: &tg.PeerUser{UserID: 42},
	}, selfID)
	if out.SenderID != selfID {
		t.Errorf("outgoing sender = %d, want %d", out.SenderID, selfID)
	}
	if out.ChatID != 42 {
		t.Errorf("chat = %d, want 42", out.ChatID)
	}

	// Incoming DM without FromID: sender is the dialog partner.
	in := convertMessage(&tg.Message{
		ID: 2, Date: 1000,
		PeerID: &tg.PeerUser{UserID: 42},
	}, selfID)
	if in.SenderID != 42 {
		t.Errorf("incoming sender = %d, want 42", in.SenderID)
	}

	// Group message with explicit FromID.
	grp := convertMessage(&tg.Message{
		ID: 3, Date: 1000,
		PeerID: &tg.PeerChat{ChatID: 9},
		FromID: &tg.PeerUser{UserID: 5},
	}, selfID)
	if grp.SenderID != 5 || grp.ChatID != 9 {
		t.Errorf("group message: sender=%d chat=%d", grp.SenderID, grp.ChatID)
	}
}

func TestConvertMessageEditAndReply(t *testing.T) {
	m := convertMessage(&tg.Message{
		ID: 10, Date: 1000, EditDate: 2000,
		PeerID:  &tg.PeerChannel{ChannelID: 3},
		ReplyTo: &tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 7, ReplyToTopID: 2},
		Message: "edited text",
	}, 0)
	if m.EditTS == nil || !m.EditTS.Equal(time.Unix(2000, 0).UTC()) {
		t.Errorf("edit ts = %v", m.EditTS)
	}
	if m.ReplyToID != 7 || m.TopicID != 2 {
		t.Errorf("reply=%d topic=%d, want 7/2", m.ReplyToID, m.TopicID)
	}
}

func TestChannelKind(t *testing.T) {
	if k := channelKind(&tg.Channel{Megagroup: true}); k != KindGroup {
		t.Errorf("megagroup kind = %q, want %q", k, KindGroup)
	}
	if k := channelKind(&tg.Channel{Broadcast: true}); k != KindChannel {
		t.Errorf("broadcast kind = %q, want %q", k, KindChannel)
	}
}

func TestChatFromEntities(t *testing.T) {
	ents := tg.Entities{
		Users: map[int64]*tg.User{
			42: {ID: 42, FirstName: "Ana", Username: "ana", AccessHash: 7},
		},
		Chats: map[int64]*tg.Chat{
			9: {ID: 9, Title: "Team"},
		},
		Channels: map[int64]*tg.Channel{
			3: {ID: 3, Title: "News", Username: "news", Broadcast: true, AccessHash: 11},
			4: {ID: 4, Title: "Forum", Megagroup: true, Forum: true, AccessHash: 13},
		},
	}

	u := chatFromEntities(&tg.PeerUser{UserID: 42}, ents)
	if u == nil || u.Kind != KindUser || u.Title != "Ana" || u.AccessHash != 7 {
		t.Errorf("user dialog: %+v", u)
	}
	g := chatFromEntities(&tg.PeerChat{ChatID: 9}, ents)
	if g == nil || g.Kind != KindGroup || g.Title != "Team" || g.AccessHash != 0 {
		t.Errorf("group dialog: %+v", g)
	}
	ch := chatFromEntities(&tg.PeerChannel{ChannelID: 3}, ents)
	if ch == nil || ch.Kind != KindChannel || ch.Username != "news" || ch.AccessHash != 11 {
		t.Errorf("channel dialog: %+v", ch)
	}
	mg := chatFromEntities(&tg.PeerChannel{ChannelID: 4}, ents)
	if mg == nil || mg.Kind != KindGroup || !mg.IsForum || mg.AccessHash != 13 {
		t.Errorf("megagroup dialog: %+v", mg)
	}
	if got := chatFromEntities(&tg.PeerUser{UserID: 99}, ents); got != nil {
		t.Errorf("absent peer produced a dialog: %+v", got)
	}
}

func TestDocumentType(t *testing.T) {
	tests := []struct {
		name  string
		attrs []tg.DocumentAttributeClass
		want  string
	}{
		{"plain file", nil, "document"},
		{"voice note", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}, "voice"},
		{"music", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{}}, "audio"},
		{"video", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}, "video"},
		{"round video", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{RoundMessage: true}}, "video_note"},
		{"sticker", []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}}, "sticker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := documentType(&tg.Document{Attributes: tt.attrs}); got != tt.want {
				t.Errorf("documentType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMediaInfoClassification(t *testing.T) {
	if mediaInfo(nil) != nil {
		t.Error("nil media should classify as nil")
	}
	if mediaInfo(&tg.MessageMediaEmpty{}) != nil {
		t.Error("empty media should classify as nil")
	}

	doc := mediaInfo(&tg.MessageMediaDocument{Document: &tg.Document{
		MimeType: "application/pdf",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "report.pdf"},
		},
	}})
	if doc.Type != "document" || doc.Filename != "report.pdf" {
		t.Errorf("document info: %+v", doc)
	}
	if doc.location() == nil {
		t.Error("document should be downloadable")
	}

	poll := mediaInfo(&tg.MessageMediaPoll{})
	if poll.Type != "poll" || poll.location() != nil {
		t.Errorf("poll should be tagged but not downloadable: %+v", poll)
	}
}

func TestSentMessageShortForm(t *testing.T) {
	m := sentMessage(&tg.UpdateShortSentMessage{ID: 55, Date: 1000}, 42, 777)
	if m == nil {
		t.Fatal("short sent message not extracted")
	}
	if m.ID != 55 || m.ChatID != 42 || m.SenderID != 777 || !m.Out {
		t.Errorf("sent message: %+v", m)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		user tg.User
		want string
	}{
		{tg.User{FirstName: "Ana", LastName: "Lima"}, "Ana Lima"},
		{tg.User{FirstName: "Ana"}, "Ana"},
		{tg.User{Username: "ana"}, "ana"},
		{tg.User{}, "Deleted Account"},
	}
	for _, tt := range tests {
		if got := displayName(&tt.user); got != tt.want {
			t.Errorf("displayName(%+v) = %q, want %q", tt.user, got, tt.want)
		}
	}
}
