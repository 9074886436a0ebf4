package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/infra/memory"
)

// fakeClock is a manual Scheduler; timers fire only from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves time forward by d and runs every timer that comes due, in
// deadline order, including timers armed by earlier callbacks.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// recordingNotifier keeps every message per connection.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[string][]app.Message
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{msgs: make(map[string][]app.Message)}
}

func (n *recordingNotifier) Notify(connID string, msg app.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs[connID] = append(n.msgs[connID], msg)
}

func (n *recordingNotifier) count(connID, typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.msgs[connID] {
		if m.Type == typ {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(connID, typ string) (app.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.msgs[connID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Type == typ {
			return list[i], true
		}
	}
	return app.Message{}, false
}

func (n *recordingNotifier) types(connID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs[connID]))
	for _, m := range n.msgs[connID] {
		out = append(out, m.Type)
	}
	return out
}

// failingRecorder creates sessions but never stores a score.
type failingRecorder struct {
	*memory.ResultRecorder
	attempts atomic.Int32
}

func (r *failingRecorder) RecordFinalScore(context.Context, int64, string, int) error {
	r.attempts.Add(1)
	return errors.New("connection refused")
}

// blockingRecorder holds every final score write until release is closed.
type blockingRecorder struct {
	*memory.ResultRecorder
	release  chan struct{}
	recorded atomic.Int32
}

func (r *blockingRecorder) RecordFinalScore(ctx context.Context, sessionID int64, name string, score int) error {
	<-r.release
	r.recorded.Add(1)
	return r.ResultRecorder.RecordFinalScore(ctx, sessionID, name, score)
}

// firingScheduler hands out timers of one duration that Stop can no longer
// cancel, the way a time.AfterFunc timer behaves once its callback is running.
// Those callbacks are kept for the test to run by hand.
type firingScheduler struct {
	*fakeClock
	span time.Duration

	mu    sync.Mutex
	fired []func()
}

type firedTimer struct{}

func (firedTimer) Stop() bool { return false }

func (s *firingScheduler) AfterFunc(d time.Duration, f func()) app.Timer {
	if d != s.span {
		return s.fakeClock.AfterFunc(d, f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired = append(s.fired, f)
	return firedTimer{}
}

func (s *firingScheduler) take() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fired := s.fired
	s.fired = nil
	return fired
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type brokenSessions struct {
	*memory.ResultRecorder
}

func (brokenSessions) CreateMatchSession(context.Context, domain.ID, string, string) (int64, error) {
	return 0, errors.New("connection refused")
}

type harness struct {
	svc      *app.MatchService
	clock    *fakeClock
	notifier *recordingNotifier
	results  *memory.ResultRecorder
}

const (
	quizID     domain.ID = 1
	emptyQuiz  domain.ID = 2
	hostID               = "host-1"
	hostConn             = "host-conn"
	aliceConn            = "alice-conn"
	bobConn              = "bob-conn"
	carolConn            = "carol-conn"
	questionA  domain.ID = 11
	questionB  domain.ID = 12
	questionC  domain.ID = 13
	correctA   domain.ID = 111
	wrongA     domain.ID = 112
	correctB   domain.ID = 121
	correctC   domain.ID = 131
	timeLimit            = 10
	roundSpan            = timeLimit*time.Second + 2*time.Second
	earlySpan            = 2 * time.Second
	settleSpan           = 5 * time.Second
)

func fixtureQuizzes() map[domain.ID]domain.Quiz {
	question := func(id, correct domain.ID, text string) domain.Question {
		return domain.Question{
			ID:        id,
			Text:      text,
			TimeLimit: timeLimit,
			Options: []domain.AnswerOption{
				{ID: correct, Text: "right", Correct: true},
				{ID: correct + 1, Text: "wrong"},
			},
		}
	}
	return map[domain.ID]domain.Quiz{
		quizID: {
			ID:    quizID,
			Title: "Capitals",
			Questions: []domain.Question{
				question(questionA, correctA, "Capital of France?"),
				question(questionB, correctB, "Capital of Japan?"),
				question(questionC, correctC, "Capital of Peru?"),
			},
		},
		emptyQuiz: {ID: emptyQuiz, Title: "Nothing yet"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, results app.ResultRecorder, opts ...app.Option) *harness {
	t.Helper()
	clock := newFakeClock()
	notifier := newRecordingNotifier()
	mem, _ := results.(*memory.ResultRecorder)
	if results == nil {
		mem = memory.NewResultRecorder()
		results = mem
	}
	var seq atomic.Int64
	timing := app.DefaultTiming()
	timing.PersistRetry = time.Millisecond
	base := []app.Option{
		app.WithScheduler(clock),
		app.WithClock(clock.Now),
		app.WithLogger(discardLogger()),
		app.WithTiming(timing),
		app.WithTokenSource(func() string { return fmt.Sprintf("token-%d", seq.Add(1)) }),
	}
	svc := app.NewMatchService(
		memory.NewMatchStore(),
		memory.NewQuizRepository(memory.NewStaticQuizLoader(fixtureQuizzes()), time.Minute),
		results,
		notifier,
		append(base, opts...)...,
	)
	return &harness{svc: svc, clock: clock, notifier: notifier, results: mem}
}

func (h *harness) create(t *testing.T) string {
	t.Helper()
	code, err := h.svc.CreateMatch(context.Background(), hostConn, hostID, quizID)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return code
}

func (h *harness) join(t *testing.T, code, connID, name string) app.JoinResult {
	t.Helper()
	res, err := h.svc.Join(context.Background(), app.JoinRequest{ConnID: connID, MatchCode: code, DisplayName: name})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return res
}

func (h *harness) start(t *testing.T, code string) {
	t.Helper()
	if err := h.svc.StartMatch(context.Background(), code, hostID); err != nil {
		t.Fatalf("start match: %v", err)
	}
}

func (h *harness) answer(code, connID string, question, option domain.ID, remaining int) (domain.AnswerOutcome, error) {
	return h.svc.SubmitAnswer(context.Background(), code, connID, domain.AnswerSubmission{
		QuestionID:    question,
		AnswerID:      domain.Some(option),
		TimeRemaining: remaining,
	})
}

func (h *harness) match(t *testing.T, code string) *app.Match {
	t.Helper()
	m, ok := h.svc.Registry().Find(code)
	if !ok {
		t.Fatalf("match %s not found", code)
	}
	return m
}

func rosterNames(views []domain.ParticipantView) []string {
	names := make([]string, 0, len(views))
	for _, v := range views {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

func newMemoryRecorder() *memory.ResultRecorder {
	return memory.NewResultRecorder()
}
