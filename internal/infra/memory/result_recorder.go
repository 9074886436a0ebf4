package memory

import (
	"context"
	"sync"
	"time"

	"quiz-match-service/internal/domain"
)

// MatchSession is a recorded match.
type MatchSession struct {
	ID        int64
	QuizID    domain.ID
	HostID    string
	MatchCode string
	PlayedAt  time.Time
}

// FinalScore is a recorded player result.
type FinalScore struct {
	SessionID  int64
	PlayerName string
	Score      int
}

// ResultRecorder keeps match sessions and final scores in memory.
type ResultRecorder struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]MatchSession
	scores   []FinalScore
}

func NewResultRecorder() *ResultRecorder {
	return &ResultRecorder{sessions: make(map[int64]MatchSession)}
}

func (r *ResultRecorder) CreateMatchSession(_ context.Context, quizID domain.ID, hostID, matchCode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.sessions[r.nextID] = MatchSession{
		ID:        r.nextID,
		QuizID:    quizID,
		HostID:    hostID,
		MatchCode: matchCode,
		PlayedAt:  time.Now(),
	}
	return r.nextID, nil
}

func (r *ResultRecorder) RecordFinalScore(_ context.Context, sessionID int64, displayName string, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return domain.ErrMatchNotFound
	}
	r.scores = append(r.scores, FinalScore{SessionID: sessionID, PlayerName: displayName, Score: score})
	return nil
}

// Session returns a recorded session.
func (r *ResultRecorder) Session(id int64) (MatchSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Scores returns the final scores recorded for a session in write order.
func (r *ResultRecorder) Scores(sessionID int64) []FinalScore {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FinalScore
	for _, s := range r.scores {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out
}
