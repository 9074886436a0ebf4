package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-match-service/internal/domain"
)

// QuizLoader loads quiz content from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

const selectOptionsSQL = `
SELECT q.id, q.question_text, COALESCE(q.time_limit, 0), o.id, o.answer_text, o.is_correct
FROM questions q
LEFT JOIN answer_options o ON o.question_id = q.id
WHERE q.quiz_id = $1
ORDER BY q.id, o.id`

// LoadQuiz returns the quiz with questions and options ordered by id.
func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID domain.ID) (domain.Quiz, error) {
	quiz := domain.Quiz{ID: quizID}
	err := l.pool.QueryRow(ctx, `SELECT title FROM quizzes WHERE id=$1`, int64(quizID)).Scan(&quiz.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrContentNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := l.pool.Query(ctx, selectOptionsSQL, int64(quizID))
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID int64
			text       string
			timeLimit  int32
			optionID   *int64
			optionText *string
			correct    *bool
		)
		if err := rows.Scan(&questionID, &text, &timeLimit, &optionID, &optionText, &correct); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}

		n := len(quiz.Questions)
		if n == 0 || quiz.Questions[n-1].ID != domain.ID(questionID) {
			quiz.Questions = append(quiz.Questions, domain.Question{
				ID:        domain.ID(questionID),
				Text:      text,
				TimeLimit: int(timeLimit),
			})
			n++
		}
		if optionID == nil {
			continue
		}
		opt := domain.AnswerOption{ID: domain.ID(*optionID)}
		if optionText != nil {
			opt.Text = *optionText
		}
		if correct != nil {
			opt.Correct = *correct
		}
		quiz.Questions[n-1].Options = append(quiz.Questions[n-1].Options, opt)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("read questions: %w", err)
	}
	return quiz, nil
}
