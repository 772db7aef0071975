package telegram

import (
	"strconv"
	"time"

	"github.com/gotd/td/tg"
)

// convertMessage flattens a wire message into the local shape, including
// topic resolution from the reply header and media classification.
func convertMessage(msg *tg.Message, selfID int64) Message {
	m := Message{
		ID:     int64(msg.ID),
		ChatID: peerID(msg.PeerID),
		TS:     time.Unix(int64(msg.Date), 0).UTC(),
		Out:    msg.Out,
		Text:   msg.Message,
	}

	if msg.EditDate != 0 {
		ts := time.Unix(int64(msg.EditDate), 0).UTC()
		m.EditTS = &ts
	}

	m.SenderID = peerID(msg.FromID)
	if m.SenderID == 0 {
		// DMs leave FromID empty: outgoing means self, incoming means
		// the dialog partner.
		if msg.Out {
			m.SenderID = selfID
		} else if p, ok := msg.PeerID.(*tg.PeerUser); ok {
			m.SenderID = p.UserID
		}
	}

	if reply, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok {
		m.ReplyToID = int64(reply.ReplyToMsgID)
		m.TopicID = topicID(reply)
	}

	m.Media = mediaInfo(msg.Media)
	return m
}

// topicID resolves the forum topic a message belongs to. A reply inside
// a topic carries the topic root in ReplyToTopID; a direct reply to the
// topic root carries it in ReplyToMsgID with the forum flag set.
func topicID(reply *tg.MessageReplyHeader) int64 {
	if !reply.ForumTopic {
		return 0
	}
	if reply.ReplyToTopID != 0 {
		return int64(reply.ReplyToTopID)
	}
	return int64(reply.ReplyToMsgID)
}

func convertTopic(ft *tg.ForumTopic) Topic {
	t := Topic{
		ID:          int64(ft.ID),
		Title:       ft.Title,
		IconColor:   int32(ft.IconColor),
		UnreadCount: ft.UnreadCount,
	}
	if ft.IconEmojiID != 0 {
		// Custom emoji are referenced by document id; keep it printable.
		t.IconEmoji = strconv.FormatInt(ft.IconEmojiID, 10)
	}
	return t
}

// chatFromEntities builds a Dialog for the peer a live update targets,
// from the entity set delivered alongside the update. Returns nil when
// the entities do not carry the peer.
func chatFromEntities(peer tg.PeerClass, e tg.Entities) *Dialog {
	switch p := peer.(type) {
	case *tg.PeerUser:
		u, ok := e.Users[p.UserID]
		if !ok {
			return nil
		}
		return &Dialog{ID: u.ID, Kind: KindUser, Title: displayName(u), Username: u.Username, AccessHash: u.AccessHash}
	case *tg.PeerChat:
		ch, ok := e.Chats[p.ChatID]
		if !ok {
			return nil
		}
		return &Dialog{ID: ch.ID, Kind: KindGroup, Title: ch.Title}
	case *tg.PeerChannel:
		ch, ok := e.Channels[p.ChannelID]
		if !ok {
			return nil
		}
		return &Dialog{
			ID:         ch.ID,
			Kind:       channelKind(ch),
			Title:      ch.Title,
			Username:   ch.Username,
			IsForum:    ch.Forum,
			AccessHash: ch.AccessHash,
		}
	}
	return nil
}

// channelKind distinguishes broadcast channels from megagroups, which
// behave like groups everywhere that matters locally.
func channelKind(ch *tg.Channel) string {
	if ch.Megagroup {
		return KindGroup
	}
	return KindChannel
}

func displayName(u *tg.User) string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	}
	return "Deleted Account"
}

func peerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	}
	return 0
}

// downloadSource pins the file location of an attachment so Download
// works from the cached message alone.
type downloadSource struct {
	photo *tg.InputPhotoFileLocation
	doc   *tg.InputDocumentFileLocation
	size  int64
}

// mediaInfo classifies an attachment and captures its download source.
// Returns nil for messages without downloadable or notable media.
func mediaInfo(media tg.MessageMediaClass) *MediaInfo {
	switch m := media.(type) {
	case nil, *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return &MediaInfo{Type: "photo"}
		}
		size, sizeBytes := largestPhotoSize(photo)
		return &MediaInfo{
			Type:     "photo",
			MimeType: "image/jpeg",
			loc: downloadSource{
				photo: &tg.InputPhotoFileLocation{
					ID:            photo.ID,
					AccessHash:    photo.AccessHash,
					FileReference: photo.FileReference,
					ThumbSize:     size,
				},
				size: sizeBytes,
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return &MediaInfo{Type: "document"}
		}
		info := &MediaInfo{
			Type:     documentType(doc),
			MimeType: doc.MimeType,
			loc: downloadSource{
				doc: &tg.InputDocumentFileLocation{
					ID:            doc.ID,
					AccessHash:    doc.AccessHash,
					FileReference: doc.FileReference,
				},
				size: doc.Size,
			},
		}
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				info.Filename = fn.FileName
			}
		}
		return info
	case *tg.MessageMediaContact:
		return &MediaInfo{Type: "contact"}
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return &MediaInfo{Type: "location"}
	case *tg.MessageMediaPoll:
		return &MediaInfo{Type: "poll"}
	case *tg.MessageMediaWebPage:
		return &MediaInfo{Type: "webpage"}
	case *tg.MessageMediaDice:
		return &MediaInfo{Type: "dice"}
	default:
		return &MediaInfo{Type: "unsupported"}
	}
}

func documentType(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return "sticker"
		case *tg.DocumentAttributeAnimated:
			return "animation"
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return "voice"
			}
			return "audio"
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return "video_note"
			}
			return "video"
		}
	}
	return "document"
}

func largestPhotoSize(photo *tg.Photo) (string, int64) {
	var (
		best      string
		bestBytes int
	)
	for _, sc := range photo.Sizes {
		if s, ok := sc.(*tg.PhotoSize); ok && s.Size > bestBytes {
			best, bestBytes = s.Type, s.Size
		}
	}
	return best, int64(bestBytes)
}

// sentMessage extracts the echoed message from a send response, if the
// server returned one.
func sentMessage(upd tg.UpdatesClass, chatID, selfID int64) *Message {
	switch u := upd.(type) {
	case *tg.Updates:
		for _, uc := range u.Updates {
			var wire tg.MessageClass
			switch inner := uc.(type) {
			case *tg.UpdateNewMessage:
				wire = inner.Message
			case *tg.UpdateNewChannelMessage:
				wire = inner.Message
			default:
				continue
			}
			if msg, ok := wire.(*tg.Message); ok {
				m := convertMessage(msg, selfID)
				if m.ChatID == 0 {
					m.ChatID = chatID
				}
				return &m
			}
		}
	case *tg.UpdateShortSentMessage:
		return &Message{
			ID:       int64(u.ID),
			ChatID:   chatID,
			SenderID: selfID,
			TS:       time.Unix(int64(u.Date), 0).UTC(),
			Out:      true,
		}
	}
	return nil
}
