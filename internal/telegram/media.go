package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// mimeExt maps common attachment MIME types to a file extension when
// the document carries no filename.
var mimeExt = map[string]string{
	"image/jpeg":              "jpg",
	"image/png":               "png",
	"image/gif":               "gif",
	"image/webp":              "webp",
	"video/mp4":               "mp4",
	"video/webm":              "webm",
	"video/quicktime":         "mov",
	"audio/mpeg":              "mp3",
	"audio/ogg":               "ogg",
	"audio/mp4":               "m4a",
	"audio/flac":              "flac",
	"application/pdf":         "pdf",
	"application/zip":         "zip",
	"application/x-tgsticker": "tgs",
}

// Download fetches a message attachment into dir, scoped per chat, and
// returns the written path. Messages without a fetchable file error out.
func (c *Client) Download(ctx context.Context, msg *Message, dir string) (string, error) {
	if msg.Media == nil {
		return "", fmt.Errorf("message %d/%d has no media", msg.ChatID, msg.ID)
	}
	loc := msg.Media.location()
	if loc == nil {
		return "", fmt.Errorf("media type %q is not downloadable", msg.Media.Type)
	}

	chatDir := filepath.Join(dir, fmt.Sprintf("%d", msg.ChatID))
	if err := os.MkdirAll(chatDir, 0o700); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(chatDir, fmt.Sprintf("%d.%s", msg.ID, msg.Media.ext()))

	// Re-syncs hit the same messages again; the file on disk wins.
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if _, err := downloader.NewDownloader().Download(c.api, loc).ToPath(ctx, path); err != nil {
		return "", fmt.Errorf("download %d/%d: %w", msg.ChatID, msg.ID, err)
	}
	return path, nil
}

// Downloadable reports whether a file can actually be fetched for this
// attachment. Polls, locations and the like are tagged but have no file.
func (m *MediaInfo) Downloadable() bool {
	return m.location() != nil
}

func (m *MediaInfo) location() tg.InputFileLocationClass {
	switch {
	case m.loc.photo != nil:
		return m.loc.photo
	case m.loc.doc != nil:
		return m.loc.doc
	}
	return nil
}

// ext picks a file extension: the original filename's first, then the
// MIME type, then a generic fallback.
func (m *MediaInfo) ext() string {
	if m.Filename != "" {
		if e := strings.TrimPrefix(filepath.Ext(m.Filename), "."); e != "" {
			return strings.ToLower(e)
		}
	}
	if e, ok := mimeExt[strings.ToLower(m.MimeType)]; ok {
		return e
	}
	return "bin"
}
