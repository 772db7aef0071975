package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"
)

const maxFloodRetries = 3

// withFloodWait runs fn, sleeping out FLOOD_WAIT responses up to a few
// times before giving up. Other errors pass through untouched.
func withFloodWait(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= maxFloodRetries; attempt++ {
		err = fn(ctx)
		d, ok := tgerr.AsFloodWait(err)
		if !ok {
			return err
		}
		select {
		case <-time.After(d + time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("flood wait retries exhausted: %w", err)
}
