package app

import (
	"context"

	"quiz-match-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID domain.ID) (domain.Quiz, error)
}

// ContentInvalidator is implemented by quiz repositories that cache content.
type ContentInvalidator interface {
	Invalidate(ctx context.Context, quizID domain.ID) error
}

// ResultRecorder persists the durable record of a played match.
type ResultRecorder interface {
	CreateMatchSession(ctx context.Context, quizID domain.ID, hostID, matchCode string) (int64, error)
	RecordFinalScore(ctx context.Context, sessionID int64, displayName string, score int) error
}

// MatchStore abstracts where live matches are indexed (in-memory, Redis, etc).
// Insert must be atomic: it reports false when the code is already taken.
// Delete returns the removed match, if any.
type MatchStore interface {
	Insert(code string, match *Match) bool
	Get(code string) (*Match, bool)
	Delete(code string) (*Match, bool)
	Len() int
}

// Notifier delivers an outbound message to a single connection.
// Implementations must not block.
type Notifier interface {
	Notify(connID string, msg Message)
}
