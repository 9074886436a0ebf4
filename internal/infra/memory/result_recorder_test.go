package memory

import (
	"context"
	"testing"
)

func TestResultRecorderStoresScoresPerSession(t *testing.T) {
	ctx := context.Background()
	rec := NewResultRecorder()

	id, err := rec.CreateMatchSession(ctx, 1, "host-1", "ABC123")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if s, ok := rec.Session(id); !ok || s.MatchCode != "ABC123" || s.HostID != "host-1" {
		t.Fatalf("unexpected session %+v", s)
	}

	if err := rec.RecordFinalScore(ctx, id, "Alice", 240); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.RecordFinalScore(ctx, id+1, "Bob", 10); err == nil {
		t.Fatalf("expected error for unknown session")
	}

	scores := rec.Scores(id)
	if len(scores) != 1 || scores[0].PlayerName != "Alice" || scores[0].Score != 240 {
		t.Fatalf("unexpected scores %+v", scores)
	}
}
