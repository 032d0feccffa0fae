package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestSaveAndGetSession(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.SaveSession(SessionRecord{SessionID: "sess1", Dir: "/tmp/sess1", CreatedUTC: now, Codec: "MJPG", FPS: 60}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetSession("sess1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("expected a session record, got nil")
	}
	if got.Codec != "MJPG" || got.FPS != 60 {
		t.Errorf("unexpected session record: %+v", got)
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetSession("nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing session, got %+v", got)
	}
}

func TestRecentPitchesOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	if err := s.SaveSession(SessionRecord{SessionID: "sess1", Dir: "/tmp/sess1", CreatedUTC: base}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	for i := 0; i < 3; i++ {
		err := s.SavePitch(PitchRecord{
			SessionID: "sess1", PitchIndex: i, Dir: "/tmp/sess1/pitch", CreatedUTC: base.Add(time.Duration(i) * time.Second),
			ObservationCount: 30, SpeedMph: 90 + float64(i),
		})
		if err != nil {
			t.Fatalf("SavePitch: %v", err)
		}
	}

	recent, err := s.RecentPitches(2)
	if err != nil {
		t.Fatalf("RecentPitches: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 pitches, got %d", len(recent))
	}
	if recent[0].PitchIndex != 2 {
		t.Errorf("expected newest pitch (index 2) first, got %d", recent[0].PitchIndex)
	}
}
