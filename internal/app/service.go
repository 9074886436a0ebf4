package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"quiz-match-service/internal/domain"
)

// Timing holds the match pacing delays.
type Timing struct {
	RoundBuffer      time.Duration // added to a question's time limit before the round is forced closed
	SettleDelay      time.Duration // results display after a timed-out round
	EarlySettleDelay time.Duration // results display after everyone answered
	HostGrace        time.Duration
	Retention        time.Duration // completed matches stay readable this long
	PersistTimeout   time.Duration
	PersistRetry     time.Duration // first backoff interval for final-score writes
}

// DefaultTiming returns the production pacing.
func DefaultTiming() Timing {
	return Timing{
		RoundBuffer:      2 * time.Second,
		SettleDelay:      5 * time.Second,
		EarlySettleDelay: 2 * time.Second,
		HostGrace:        10 * time.Second,
		Retention:        30 * time.Second,
		PersistTimeout:   30 * time.Second,
		PersistRetry:     200 * time.Millisecond,
	}
}

// MatchService contains the live match use cases.
type MatchService struct {
	registry *Registry
	quizzes  QuizRepository
	results  ResultRecorder
	presence *presence
	env      *matchEnv
	logger   *slog.Logger
	tokens   func() string
	codes    CodeGenerator
}

// Option configures a MatchService.
type Option func(*MatchService)

func WithScheduler(s Scheduler) Option {
	return func(svc *MatchService) { svc.env.scheduler = s }
}

func WithTiming(t Timing) Option {
	return func(svc *MatchService) { svc.env.timing = t }
}

func WithScoring(r ScoringRule) Option {
	return func(svc *MatchService) { svc.env.scoring = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(svc *MatchService) { svc.logger = l }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(svc *MatchService) { svc.env.now = now }
}

func WithCodeGenerator(g CodeGenerator) Option {
	return func(svc *MatchService) { svc.codes = g }
}

func WithTokenSource(f func() string) Option {
	return func(svc *MatchService) { svc.tokens = f }
}

func NewMatchService(store MatchStore, quizzes QuizRepository, results ResultRecorder, notifier Notifier, opts ...Option) *MatchService {
	svc := &MatchService{
		quizzes:  quizzes,
		results:  results,
		presence: newPresence(),
		logger:   slog.Default(),
		tokens:   uuid.NewString,
		codes:    RandomCodes(DefaultCodeLength),
		env: &matchEnv{
			notifier:  notifier,
			scheduler: WallClock(),
			scoring:   DefaultScoring,
			timing:    DefaultTiming(),
			now:       time.Now,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.env.logger = svc.logger
	svc.registry = NewRegistry(store, svc.codes, svc.logger)
	svc.env.dispose = svc.registry.Destroy
	svc.env.persist = svc.persistFinalScores
	return svc
}

// Registry exposes the live match table.
func (s *MatchService) Registry() *Registry {
	return s.registry
}

// CreateMatch opens a lobby for quizID owned by hostID and returns its code.
// When connID is set, that connection is attached as the host.
func (s *MatchService) CreateMatch(ctx context.Context, connID, hostID string, quizID domain.ID) (string, error) {
	if hostID == "" {
		return "", domain.ErrUnauthenticated
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrContentUnavailable, err)
	}

	match, err := s.registry.Create(func(code string) *Match {
		return newMatch(code, quiz, hostID, s.env)
	})
	if err != nil {
		return "", err
	}
	code := match.Code()

	sessionID, err := s.results.CreateMatchSession(ctx, quiz.ID, hostID, code)
	if err != nil {
		s.registry.Destroy(code)
		return "", fmt.Errorf("%w: create match session: %v", domain.ErrPersistenceFailure, err)
	}
	match.setSessionID(sessionID)
	s.logger.InfoContext(ctx, "match created", "match", code, "quiz", quiz.ID, "host", hostID, "session", sessionID)

	if connID != "" {
		s.env.notifier.Notify(connID, Message{Type: EventMatchCreated, Payload: MatchCreated{MatchCode: code}})
		if err := match.AttachHost(connID); err != nil {
			return "", err
		}
		s.bindConn(connID, code)
	}
	return code, nil
}

// RefreshQuiz drops cached content for quizID so the next match start reads
// the backing store. Authors call it after editing a quiz.
func (s *MatchService) RefreshQuiz(ctx context.Context, hostID string, quizID domain.ID) error {
	if hostID == "" {
		return domain.ErrUnauthenticated
	}
	cache, ok := s.quizzes.(ContentInvalidator)
	if !ok {
		return nil
	}
	if err := cache.Invalidate(ctx, quizID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrContentUnavailable, err)
	}
	s.logger.InfoContext(ctx, "quiz cache invalidated", "quiz", quizID, "host", hostID)
	return nil
}

// StartMatch begins round 0. Only the match's host may start it.
func (s *MatchService) StartMatch(ctx context.Context, code, hostID string) error {
	match, ok := s.registry.Find(NormalizeCode(code))
	if !ok {
		return domain.ErrMatchNotFound
	}
	return match.Start(ctx, hostID, s.quizzes)
}

// EndMatch finalizes a running match early on the host's request.
func (s *MatchService) EndMatch(_ context.Context, code, hostID string) error {
	match, ok := s.registry.Find(NormalizeCode(code))
	if !ok {
		return domain.ErrMatchNotFound
	}
	return match.End(hostID)
}

// NextRound closes the open round early on the host's request.
func (s *MatchService) NextRound(_ context.Context, code, hostID string) error {
	match, ok := s.registry.Find(NormalizeCode(code))
	if !ok {
		return domain.ErrMatchNotFound
	}
	return match.SkipRound(hostID)
}

// SubmitAnswer scores the answer sent over connID for the open round of code.
func (s *MatchService) SubmitAnswer(_ context.Context, code, connID string, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	code = NormalizeCode(code)
	match, ok := s.registry.Find(code)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrMatchNotFound
	}
	if bound, ok := s.presence.lookup(connID); !ok || bound != code {
		return domain.AnswerOutcome{}, domain.ErrParticipantNotFound
	}
	identity, _, ok := match.IdentityOf(connID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrParticipantNotFound
	}
	return match.SubmitAnswer(identity, sub)
}

// persistFinalScores writes every player's final score with bounded retries.
// Failures are logged only; clients already have the ranking.
func (s *MatchService) persistFinalScores(code string, sessionID int64, scores []domain.RankedScore) {
	ctx, cancel := context.WithTimeout(context.Background(), s.env.timing.PersistTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(4)
	for _, score := range scores {
		score := score
		g.Go(func() error {
			return s.recordWithRetry(ctx, sessionID, score)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("final scores not persisted", "match", code, "session", sessionID,
			"error", fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err))
		return
	}
	s.logger.Info("final scores persisted", "match", code, "session", sessionID, "players", len(scores))
}

func (s *MatchService) recordWithRetry(ctx context.Context, sessionID int64, score domain.RankedScore) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.env.timing.PersistRetry
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)

	return backoff.Retry(func() error {
		err := s.results.RecordFinalScore(ctx, sessionID, score.Name, score.Score)
		if err != nil {
			s.logger.Warn("record final score failed", "session", sessionID, "player", score.Name, "error", err)
		}
		return err
	}, retry)
}
