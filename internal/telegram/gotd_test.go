package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/tg"
)

func testClient() *Client {
	return New(Options{APIID: 1, APIHash: "hash"})
}

func TestRunBothReturnsWhenServeDoes(t *testing.T) {
	pumpStopped := make(chan struct{})
	err := runBoth(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error {
			// Stands in for the gap manager, which blocks until cancelled.
			<-ctx.Done()
			close(pumpStopped)
			return ctx.Err()
		})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	select {
	case <-pumpStopped:
	default:
		t.Error("pump kept running after serve returned")
	}
}

func TestRunBothSurfacesPumpFailure(t *testing.T) {
	boom := errors.New("connection lost")
	err := runBoth(context.Background(),
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		func(ctx context.Context) error { return boom })
	if err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunBothServeFailureWins(t *testing.T) {
	boom := errors.New("socket error")
	err := runBoth(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	if err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestTopicsRequiresKnownChannelPeer(t *testing.T) {
	c := testClient()

	if _, err := c.Topics(context.Background(), 5); err == nil || !strings.Contains(err.Error(), "unknown peer") {
		t.Errorf("unresolved peer err = %v", err)
	}

	c.cachePeer(5, &tg.InputPeerChat{ChatID: 5})
	if _, err := c.Topics(context.Background(), 5); err == nil || !strings.Contains(err.Error(), "not a channel") {
		t.Errorf("non-channel peer err = %v", err)
	}
}

func TestSeedPeersResolvesCachedKinds(t *testing.T) {
	c := testClient()
	c.SeedPeers([]Dialog{
		{ID: 1, Kind: KindUser, AccessHash: 7},
		{ID: 2, Kind: KindGroup},
		{ID: 3, Kind: KindGroup, AccessHash: 9},
		{ID: 4, Kind: KindChannel, AccessHash: 11},
	})

	if p, ok := c.inputPeer(1).(*tg.InputPeerUser); !ok || p.AccessHash != 7 {
		t.Errorf("user peer: %#v", c.inputPeer(1))
	}
	if _, ok := c.inputPeer(2).(*tg.InputPeerChat); !ok {
		t.Errorf("basic group peer: %#v", c.inputPeer(2))
	}
	// A group kind with an access hash is a megagroup, a channel on the wire.
	if p, ok := c.inputPeer(3).(*tg.InputPeerChannel); !ok || p.AccessHash != 9 {
		t.Errorf("megagroup peer: %#v", c.inputPeer(3))
	}
	if p, ok := c.inputPeer(4).(*tg.InputPeerChannel); !ok || p.AccessHash != 11 {
		t.Errorf("channel peer: %#v", c.inputPeer(4))
	}
}
