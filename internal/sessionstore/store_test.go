package sessionstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/sleepside/internal/bed"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func testSession(start time.Time, score int) *bed.LastSession {
	return &bed.LastSession{
		Date:         start,
		Score:        score,
		Breakdown:    bed.Breakdown{Awake: 600, Light: 12000, Deep: 9000},
		BedTemp:      21.0,
		RoomTemp:     18.0,
		RespRate:     15.0,
		HeartRate:    61.0,
		TossAndTurns: 3,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)
	start := time.Date(2019, 3, 11, 22, 21, 0, 0, time.UTC)

	if err := s.RecordCompleted("user-1", testSession(start, 88)); err != nil {
		t.Fatalf("RecordCompleted() error: %v", err)
	}

	sessions, err := s.Recent("user-1", 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}

	got := sessions[0]
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", got.UserID)
	}
	if !got.Start.Equal(start) {
		t.Errorf("Start = %v, want %v", got.Start, start)
	}
	if got.Score != 88 {
		t.Errorf("Score = %d, want 88", got.Score)
	}
	if got.Breakdown != (bed.Breakdown{Awake: 600, Light: 12000, Deep: 9000}) {
		t.Errorf("Breakdown = %+v", got.Breakdown)
	}
	if got.BedTemp != 21.0 || got.HeartRate != 61.0 {
		t.Errorf("metrics = bed %v heart %v, want 21.0 / 61.0", got.BedTemp, got.HeartRate)
	}
	if got.TossAndTurns != 3 {
		t.Errorf("TossAndTurns = %d, want 3", got.TossAndTurns)
	}
	if got.RecordedAt.IsZero() {
		t.Error("RecordedAt is zero")
	}
}

func TestRecordCompleted_UpsertOverwrites(t *testing.T) {
	s := testStore(t)
	start := time.Date(2019, 3, 11, 22, 21, 0, 0, time.UTC)

	if err := s.RecordCompleted("user-1", testSession(start, 70)); err != nil {
		t.Fatalf("RecordCompleted() error: %v", err)
	}

	// Same session start, rescored upstream.
	if err := s.RecordCompleted("user-1", testSession(start, 85)); err != nil {
		t.Fatalf("RecordCompleted() rescore error: %v", err)
	}

	sessions, err := s.Recent("user-1", 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d after rescore, want 1", len(sessions))
	}
	if sessions[0].Score != 85 {
		t.Errorf("Score = %d, want rescored 85", sessions[0].Score)
	}
}

func TestRecent_OrderAndLimit(t *testing.T) {
	s := testStore(t)
	base := time.Date(2019, 3, 1, 22, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sess := testSession(base.AddDate(0, 0, i), 80+i)
		if err := s.RecordCompleted("user-1", sess); err != nil {
			t.Fatalf("RecordCompleted() error: %v", err)
		}
	}

	sessions, err := s.Recent("user-1", 3)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("len(sessions) = %d, want limit 3", len(sessions))
	}
	for i := 0; i < len(sessions)-1; i++ {
		if !sessions[i].Start.After(sessions[i+1].Start) {
			t.Errorf("sessions not newest first: [%d]=%v, [%d]=%v",
				i, sessions[i].Start, i+1, sessions[i+1].Start)
		}
	}
	if sessions[0].Score != 84 {
		t.Errorf("newest Score = %d, want 84", sessions[0].Score)
	}
}

func TestRecent_PerUserIsolation(t *testing.T) {
	s := testStore(t)
	start := time.Date(2019, 3, 11, 22, 21, 0, 0, time.UTC)

	if err := s.RecordCompleted("user-1", testSession(start, 88)); err != nil {
		t.Fatalf("RecordCompleted() error: %v", err)
	}
	if err := s.RecordCompleted("user-2", testSession(start, 42)); err != nil {
		t.Fatalf("RecordCompleted() error: %v", err)
	}

	sessions, err := s.Recent("user-2", 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Score != 42 {
		t.Errorf("user-2 sessions = %+v, want one with score 42", sessions)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	start := time.Date(2019, 3, 11, 22, 21, 0, 0, time.UTC)

	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	if err := s.RecordCompleted("user-1", testSession(start, 88)); err != nil {
		t.Fatalf("RecordCompleted() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s, err = NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen NewStore() error: %v", err)
	}
	defer s.Close()

	sessions, err := s.Recent("user-1", 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Score != 88 {
		t.Errorf("sessions after reopen = %+v, want one with score 88", sessions)
	}
}
