package app

import (
	"time"

	"quiz-match-service/internal/domain"
)

// startRoundLocked opens the question at the round cursor. Bumping the
// generation makes any timer armed for an earlier round a no-op.
func (m *Match) startRoundLocked() {
	m.gen++
	stopTimer(m.roundTimer)
	stopTimer(m.settleTimer)
	m.settleTimer = nil

	for _, p := range m.participants {
		p.Answered = false
		p.Correct = false
	}
	m.roundOpen = true
	m.roundAt = m.env.now()

	q := m.questions[m.round]
	m.broadcastLocked(Message{Type: EventRoundQuestion, Payload: m.roundQuestionLocked()})

	gen := m.gen
	wait := time.Duration(q.TimeLimit)*time.Second + m.env.timing.RoundBuffer
	m.roundTimer = m.env.scheduler.AfterFunc(wait, func() {
		m.onRoundTimeout(gen)
	})
	m.log.Debug("round started", "round", m.round+1, "question", q.ID, "wait", wait)
}

func (m *Match) onRoundTimeout(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || gen != m.gen || !m.roundOpen {
		return
	}
	answered, expected := m.progressLocked()
	m.log.Debug("round timed out", "round", m.round+1, "answered", answered, "expected", expected)
	m.closeRoundLocked(false)
}

// closeRoundLocked reveals the round to every connection at once, each with its
// own outcome, then arms the settle delay before the next round.
func (m *Match) closeRoundLocked(early bool) {
	m.roundOpen = false
	m.gen++
	stopTimer(m.roundTimer)
	m.roundTimer = nil

	correctID, _ := m.questions[m.round].CorrectOptionID()
	board := m.leaderboardLocked()
	for _, p := range m.participants {
		if !p.Connected() {
			continue
		}
		m.sendLocked(p.ConnID, Message{Type: EventQuestionResult, Payload: QuestionResult{
			IsCorrect:       p.Correct,
			NewScore:        p.Score,
			CorrectAnswerID: correctID,
			Leaderboard:     board,
		}})
	}

	delay := m.env.timing.SettleDelay
	if early {
		delay = m.env.timing.EarlySettleDelay
	}
	gen := m.gen
	m.settleTimer = m.env.scheduler.AfterFunc(delay, func() {
		m.onSettle(gen)
	})
	m.log.Debug("round closed", "round", m.round+1, "early", early, "settle", delay)
}

func (m *Match) onSettle(gen uint64) {
	m.mu.Lock()
	if m.disposed || gen != m.gen || m.state != domain.StateInProgress {
		m.mu.Unlock()
		return
	}
	m.settleTimer = nil
	m.round++

	var persist func()
	if m.round >= len(m.questions) {
		persist = m.finalizeLocked()
	} else {
		m.startRoundLocked()
	}
	m.mu.Unlock()

	if persist != nil {
		persist()
	}
}

// finalizeLocked completes the match and broadcasts the ranking. The returned
// func persists final scores and must run after mu is released.
func (m *Match) finalizeLocked() func() {
	m.gen++
	m.hostEpoch++
	stopTimer(m.roundTimer)
	stopTimer(m.settleTimer)
	stopTimer(m.graceTimer)
	m.roundTimer, m.settleTimer, m.graceTimer = nil, nil, nil

	m.roundOpen = false
	m.round = len(m.questions)
	m.state = domain.StateCompleted

	ranked := m.rankedLocked()
	m.broadcastLocked(Message{Type: EventMatchOver, Payload: MatchOver{MatchCode: m.code, RankedScores: ranked}})
	m.log.Info("match completed", "players", len(ranked), "duration", m.env.now().Sub(m.createdAt))

	code, sessionID := m.code, m.sessionID
	m.disposeTimer = m.env.scheduler.AfterFunc(m.env.timing.Retention, func() {
		m.env.dispose(code)
	})
	return func() {
		m.env.persist(code, sessionID, ranked)
	}
}

func (m *Match) roundQuestionLocked() RoundQuestion {
	q := m.questions[m.round]
	options := make([]OptionView, len(q.Options))
	for i, opt := range q.Options {
		options[i] = OptionView{ID: opt.ID, Text: opt.Text}
	}
	return RoundQuestion{
		QuestionID:  q.ID,
		Text:        q.Text,
		Options:     options,
		TimeLimit:   q.TimeLimit,
		RoundNumber: m.round + 1,
		TotalRounds: len(m.questions),
	}
}
