package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-match-service/internal/domain"
)

type matchSession struct {
	bun.BaseModel `bun:"table:match_sessions"`

	ID        int64     `bun:"id,pk,autoincrement"`
	QuizID    int64     `bun:"quiz_id,notnull"`
	HostID    string    `bun:"host_id,notnull"`
	MatchCode string    `bun:"match_code,notnull"`
	PlayedAt  time.Time `bun:"played_at,nullzero,notnull,default:current_timestamp"`
}

type playerScore struct {
	bun.BaseModel `bun:"table:player_scores"`

	ID         int64  `bun:"id,pk,autoincrement"`
	SessionID  int64  `bun:"session_id,notnull"`
	PlayerName string `bun:"player_name,notnull"`
	Score      int    `bun:"score,notnull"`
}

// ResultRecorder writes match sessions and final scores with bun.
type ResultRecorder struct {
	db *bun.DB
}

func NewResultRecorder(db *bun.DB) *ResultRecorder {
	return &ResultRecorder{db: db}
}

func (r *ResultRecorder) CreateMatchSession(ctx context.Context, quizID domain.ID, hostID, matchCode string) (int64, error) {
	row := &matchSession{
		QuizID:    int64(quizID),
		HostID:    hostID,
		MatchCode: matchCode,
	}
	if _, err := r.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert match session: %w", err)
	}
	return row.ID, nil
}

func (r *ResultRecorder) RecordFinalScore(ctx context.Context, sessionID int64, displayName string, score int) error {
	row := &playerScore{
		SessionID:  sessionID,
		PlayerName: displayName,
		Score:      score,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert player score: %w", err)
	}
	return nil
}
