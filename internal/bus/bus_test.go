package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("tg.", 10)
	defer unsub()

	b.Publish(NewEvent(KindNewMessage, "payload"))

	select {
	case evt := <-ch:
		if evt.Kind != KindNewMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindNewMessage)
		}
		if evt.ID == "" {
			t.Error("event id should be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(NewEvent(KindNewMessage, nil))
	b.Publish(NewEvent(KindSyncProgress, nil))

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncProgress {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSyncProgress)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("tg.", 10)
	unsub()

	b.Publish(NewEvent(KindNewMessage, nil))

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("tg.", 1)
	defer unsub()

	b.Publish(NewEvent(KindNewMessage, 1))
	b.Publish(NewEvent(KindNewMessage, 2))

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
}
