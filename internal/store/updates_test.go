package store

import (
	"database/sql"
	"testing"
)

func TestUpdateStateRoundTrip(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetUpdateState(1); err != nil || ok {
		t.Fatalf("fresh state: ok=%v err=%v", ok, err)
	}

	want := UpdateState{Pts: 10, Qts: 2, Date: 1700000000, Seq: 5}
	if err := db.SetUpdateState(1, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.GetUpdateState(1)
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}

	if err := db.SetUpdatePts(1, 11); err != nil {
		t.Fatal(err)
	}
	if err := db.SetUpdateDateSeq(1, 1700000100, 6); err != nil {
		t.Fatal(err)
	}
	got, _, _ = db.GetUpdateState(1)
	if got.Pts != 11 || got.Date != 1700000100 || got.Seq != 6 || got.Qts != 2 {
		t.Errorf("partial updates: %+v", got)
	}

	// Column setters require an existing row.
	if err := db.SetUpdatePts(2, 1); err != sql.ErrNoRows {
		t.Errorf("pts for unknown user err = %v, want sql.ErrNoRows", err)
	}
}

func TestChannelPtsRoundTrip(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetChannelPts(1, 100); err != nil || ok {
		t.Fatalf("fresh channel pts: ok=%v err=%v", ok, err)
	}

	if err := db.SetChannelPts(1, 100, 50); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChannelPts(1, 200, 60); err != nil {
		t.Fatal(err)
	}
	pts, ok, _ := db.GetChannelPts(1, 100)
	if !ok || pts != 50 {
		t.Errorf("channel pts = %d ok=%v, want 50", pts, ok)
	}

	seen := map[int64]int{}
	err := db.ForEachChannelPts(1, func(channelID int64, pts int) error {
		seen[channelID] = pts
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[100] != 50 || seen[200] != 60 {
		t.Errorf("iterated: %v", seen)
	}
}

func TestChannelAccessHashSharesRowWithPts(t *testing.T) {
	db := testDB(t)

	if err := db.SetChannelPts(1, 100, 50); err != nil {
		t.Fatal(err)
	}
	if err := db.SetChannelAccessHash(1, 100, 777); err != nil {
		t.Fatal(err)
	}

	hash, ok, err := db.GetChannelAccessHash(1, 100)
	if err != nil || !ok || hash != 777 {
		t.Fatalf("hash = %d ok=%v err=%v", hash, ok, err)
	}
	// The hash write must not clobber the pts.
	if pts, ok, _ := db.GetChannelPts(1, 100); !ok || pts != 50 {
		t.Errorf("pts after hash write = %d ok=%v", pts, ok)
	}

	// A zero stored hash reads back as not found.
	if err := db.SetChannelPts(1, 200, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.GetChannelAccessHash(1, 200); ok {
		t.Error("zero hash reported as found")
	}
}
