package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"quiz-match-service/internal/domain"
)

// defaultTimeLimit applies to questions stored without a time limit.
const defaultTimeLimit = 30

// matchEnv carries the collaborators a Match reaches outside its own state.
type matchEnv struct {
	notifier  Notifier
	scheduler Scheduler
	logger    *slog.Logger
	scoring   ScoringRule
	timing    Timing
	now       func() time.Time
	dispose   func(code string)
	persist   func(code string, sessionID int64, scores []domain.RankedScore)
}

// Match is one live quiz session. Every mutation happens under mu, including
// timer callbacks, which compare their captured generation before acting.
type Match struct {
	mu  sync.Mutex
	env *matchEnv
	log *slog.Logger

	code      string
	quizID    domain.ID
	title     string
	hostID    string
	sessionID int64
	createdAt time.Time

	state     domain.MatchState
	questions []domain.Question
	round     int
	roundOpen bool
	roundAt   time.Time

	participants []*domain.Participant
	byIdentity   map[string]*domain.Participant

	gen         uint64
	roundTimer  Timer
	settleTimer Timer

	hostEpoch     uint64
	hostAwaySince time.Time
	graceTimer    Timer

	disposeTimer Timer
	disposed     bool
}

func newMatch(code string, quiz domain.Quiz, hostID string, env *matchEnv) *Match {
	now := env.now()
	host := &domain.Participant{
		Identity:    hostID,
		DisplayName: "Host",
		Role:        domain.RoleHost,
		JoinedAt:    now,
	}
	return &Match{
		env:          env,
		log:          env.logger.With("match", code),
		code:         code,
		quizID:       quiz.ID,
		title:        quiz.Title,
		hostID:       hostID,
		createdAt:    now,
		state:        domain.StateLobby,
		participants: []*domain.Participant{host},
		byIdentity:   map[string]*domain.Participant{hostID: host},
	}
}

func (m *Match) Code() string { return m.code }

func (m *Match) Title() string { return m.title }

func (m *Match) HostID() string { return m.hostID }

func (m *Match) QuizID() domain.ID { return m.quizID }

// State returns the current lifecycle state.
func (m *Match) State() domain.MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Round returns the 0-based round cursor; it equals TotalRounds once complete.
func (m *Match) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

// RoundOpen reports whether answers are currently accepted.
func (m *Match) RoundOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundOpen
}

func (m *Match) TotalRounds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.questions)
}

func (m *Match) SessionID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Match) setSessionID(id int64) {
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
}

// HostAway reports whether the host connection is gone and since when.
func (m *Match) HostAway() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostAwaySince, !m.hostAwaySince.IsZero()
}

// Participant returns a copy of the participant with the given identity.
func (m *Match) Participant(identity string) (domain.Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byIdentity[identity]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Roster returns the participants currently visible in the lobby.
func (m *Match) Roster() []domain.ParticipantView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterLocked()
}

// AddPlayer joins identity as a player, or reattaches the existing record with
// that identity to connID.
func (m *Match) AddPlayer(identity, displayName, connID string) (domain.ParticipantView, error) {
	name := strings.TrimSpace(displayName)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return domain.ParticipantView{}, domain.ErrMatchNotFound
	}
	if p, ok := m.byIdentity[identity]; ok {
		if p.Role != domain.RolePlayer {
			return domain.ParticipantView{}, fmt.Errorf("%w: identity belongs to the host", domain.ErrInvalidInput)
		}
		m.reattachLocked(p, connID)
		return viewOf(p), nil
	}
	if name == "" {
		return domain.ParticipantView{}, fmt.Errorf("%w: display name is required", domain.ErrInvalidInput)
	}
	if m.state == domain.StateCompleted {
		return domain.ParticipantView{}, fmt.Errorf("%w: match is over", domain.ErrInvalidState)
	}

	p := &domain.Participant{
		Identity:    identity,
		DisplayName: name,
		Role:        domain.RolePlayer,
		ConnID:      connID,
		JoinedAt:    m.env.now(),
	}
	m.participants = append(m.participants, p)
	m.byIdentity[identity] = p
	m.log.Info("player joined", "player", name, "conn", connID)
	m.broadcastLocked(m.lobbyUpdateLocked())
	return viewOf(p), nil
}

// ReattachPlayer binds connID to an existing player record. It reports false when
// no player with that identity exists.
func (m *Match) ReattachPlayer(identity, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return false
	}
	p, ok := m.byIdentity[identity]
	if !ok || p.Role != domain.RolePlayer {
		return false
	}
	m.reattachLocked(p, connID)
	return true
}

func (m *Match) reattachLocked(p *domain.Participant, connID string) {
	p.ConnID = connID
	m.log.Info("player reattached", "player", p.DisplayName, "conn", connID, "score", p.Score)
	m.broadcastLocked(m.lobbyUpdateLocked())
}

// AttachHost routes host traffic to connID and cancels a pending host grace period.
func (m *Match) AttachHost(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return domain.ErrMatchNotFound
	}
	host := m.byIdentity[m.hostID]
	host.ConnID = connID

	m.hostEpoch++
	stopTimer(m.graceTimer)
	m.graceTimer = nil
	if !m.hostAwaySince.IsZero() {
		m.log.Info("host reconnected", "conn", connID, "away", m.env.now().Sub(m.hostAwaySince))
		m.hostAwaySince = time.Time{}
	}

	m.sendLocked(connID, Message{Type: EventYouAreHost, Payload: YouAreHost{MatchCode: m.code, State: m.state}})
	m.sendLocked(connID, m.lobbyUpdateLocked())
	return nil
}

// Detach unbinds connID. A host gets a grace period; a player leaves the live
// roster at once but keeps its record for a later reattach.
func (m *Match) Detach(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	p := m.byConnLocked(connID)
	if p == nil {
		return
	}
	p.ConnID = ""

	if p.Role == domain.RoleHost {
		if m.state == domain.StateCompleted {
			return
		}
		m.hostAwaySince = m.env.now()
		m.hostEpoch++
		epoch := m.hostEpoch
		stopTimer(m.graceTimer)
		m.graceTimer = m.env.scheduler.AfterFunc(m.env.timing.HostGrace, func() {
			m.onHostGraceExpired(epoch)
		})
		m.log.Warn("host disconnected, grace period armed", "grace", m.env.timing.HostGrace)
		return
	}

	m.log.Info("player left", "player", p.DisplayName)
	m.broadcastLocked(m.lobbyUpdateLocked())
	if m.state == domain.StateInProgress && m.roundOpen && m.allAnsweredLocked() {
		m.closeRoundLocked(true)
	}
}

func (m *Match) onHostGraceExpired(epoch uint64) {
	m.mu.Lock()
	if m.disposed || epoch != m.hostEpoch || m.state == domain.StateCompleted || m.byIdentity[m.hostID].Connected() {
		m.mu.Unlock()
		return
	}
	m.log.Warn("host grace period expired, cancelling match")
	m.broadcastLocked(Message{Type: EventHostDisconnected, Payload: HostDisconnected{MatchCode: m.code}})
	m.shutdownLocked()
	m.mu.Unlock()

	m.env.dispose(m.code)
}

// Start moves the match from the lobby into round 0. Only the recorded host may
// start it. Quiz content is loaded without holding the match lock.
func (m *Match) Start(ctx context.Context, hostID string, quizzes QuizRepository) error {
	m.mu.Lock()
	err := m.checkHostLocked(hostID)
	if err == nil && m.state != domain.StateLobby {
		err = fmt.Errorf("%w: match already started", domain.ErrInvalidState)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	quiz, err := quizzes.GetQuiz(ctx, m.quizID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrContentUnavailable, err)
	}
	if len(quiz.Questions) == 0 {
		return domain.ErrEmptyContent
	}
	questions := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		if q.TimeLimit <= 0 {
			q.TimeLimit = defaultTimeLimit
		}
		if _, ok := q.CorrectOptionID(); !ok {
			m.log.Warn("question has no correct option", "question", q.ID)
		}
		questions[i] = q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return domain.ErrMatchNotFound
	}
	if m.state != domain.StateLobby {
		return fmt.Errorf("%w: match already started", domain.ErrInvalidState)
	}
	m.questions = questions
	m.state = domain.StateInProgress
	m.round = 0
	m.log.Info("match started", "rounds", len(questions), "players", m.playerCountLocked())
	m.broadcastLocked(Message{Type: EventMatchStarted, Payload: MatchStarted{MatchCode: m.code, TotalRounds: len(questions)}})
	m.startRoundLocked()
	return nil
}

// SubmitAnswer records the first answer of identity for the open round.
func (m *Match) SubmitAnswer(identity string, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return domain.AnswerOutcome{}, domain.ErrMatchNotFound
	}
	if m.state != domain.StateInProgress || !m.roundOpen {
		return domain.AnswerOutcome{}, fmt.Errorf("%w: no round open", domain.ErrStalePayload)
	}
	q := m.questions[m.round]
	if q.ID != sub.QuestionID {
		return domain.AnswerOutcome{}, fmt.Errorf("%w: question %s is not open", domain.ErrStalePayload, sub.QuestionID)
	}
	p, ok := m.byIdentity[identity]
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrParticipantNotFound
	}
	if p.Role != domain.RolePlayer {
		return domain.AnswerOutcome{}, fmt.Errorf("%w: the host does not answer", domain.ErrUnauthorized)
	}
	if p.Answered {
		return domain.AnswerOutcome{}, domain.ErrAlreadyAnswered
	}

	correctID, hasCorrect := q.CorrectOptionID()
	correct := hasCorrect && sub.AnswerID.Valid && sub.AnswerID.Value == correctID
	remaining := min(sub.TimeRemaining, m.serverRemainingLocked(q))
	awarded := m.env.scoring.Points(correct, remaining, q.TimeLimit)

	p.Score += awarded
	p.Answered = true
	p.Correct = correct

	outcome := domain.AnswerOutcome{
		Correct:         correct,
		Awarded:         awarded,
		Score:           p.Score,
		CorrectAnswerID: correctID,
	}
	m.sendLocked(p.ConnID, Message{Type: EventAnswerResult, Payload: AnswerResult{
		IsCorrect:       correct,
		Score:           p.Score,
		CorrectAnswerID: correctID,
	}})
	if host := m.byIdentity[m.hostID]; host.Connected() {
		answered, expected := m.progressLocked()
		m.sendLocked(host.ConnID, Message{Type: EventPlayerAnswered, Payload: PlayerAnswered{
			Name:      p.DisplayName,
			IsCorrect: correct,
			Answered:  answered,
			Expected:  expected,
		}})
	}
	m.log.Debug("answer recorded", "player", p.DisplayName, "question", q.ID, "correct", correct, "awarded", awarded)

	if m.allAnsweredLocked() {
		m.closeRoundLocked(true)
	}
	return outcome, nil
}

// End finalizes an in-progress match immediately on the host's request.
func (m *Match) End(hostID string) error {
	m.mu.Lock()
	if err := m.checkHostLocked(hostID); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state != domain.StateInProgress {
		m.mu.Unlock()
		return fmt.Errorf("%w: match is not running", domain.ErrInvalidState)
	}
	m.log.Info("match ended by host", "round", m.round)
	persist := m.finalizeLocked()
	m.mu.Unlock()

	go persist()
	return nil
}

// SkipRound reveals the open round now. The settle delay then moves the match
// on as if every player had answered.
func (m *Match) SkipRound(hostID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkHostLocked(hostID); err != nil {
		return err
	}
	if m.state != domain.StateInProgress || !m.roundOpen {
		return fmt.Errorf("%w: no round open", domain.ErrInvalidState)
	}
	answered, expected := m.progressLocked()
	m.log.Info("round skipped by host", "round", m.round+1, "answered", answered, "expected", expected)
	m.closeRoundLocked(true)
	return nil
}

// SendRoundView sends match details and, while a round is open, the current
// question to connID.
func (m *Match) SendRoundView(connID, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	info := MatchInfo{
		MatchCode:   m.code,
		Title:       m.title,
		State:       m.state,
		TotalRounds: len(m.questions),
	}
	if p, ok := m.byIdentity[identity]; ok {
		info.Score = p.Score
	}
	m.sendLocked(connID, Message{Type: EventMatchInfo, Payload: info})
	if m.roundOpen {
		m.sendLocked(connID, Message{Type: EventRoundQuestion, Payload: m.roundQuestionLocked()})
	}
}

// shutdown marks the match disposed and cancels every pending timer.
func (m *Match) shutdown() {
	m.mu.Lock()
	m.shutdownLocked()
	m.mu.Unlock()
}

func (m *Match) shutdownLocked() {
	if m.disposed {
		return
	}
	m.disposed = true
	m.gen++
	m.hostEpoch++
	m.roundOpen = false
	stopTimer(m.roundTimer)
	stopTimer(m.settleTimer)
	stopTimer(m.graceTimer)
	stopTimer(m.disposeTimer)
	m.roundTimer, m.settleTimer, m.graceTimer, m.disposeTimer = nil, nil, nil, nil
}

func (m *Match) checkHostLocked(hostID string) error {
	if m.disposed {
		return domain.ErrMatchNotFound
	}
	if hostID == "" || hostID != m.hostID {
		return domain.ErrUnauthorized
	}
	return nil
}

// serverRemainingLocked bounds client-reported time by the server's own clock,
// allowing the round buffer for latency.
func (m *Match) serverRemainingLocked(q domain.Question) int {
	limit := time.Duration(q.TimeLimit)*time.Second + m.env.timing.RoundBuffer
	left := limit - m.env.now().Sub(m.roundAt)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (m *Match) byConnLocked(connID string) *domain.Participant {
	if connID == "" {
		return nil
	}
	for _, p := range m.participants {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

func (m *Match) playerCountLocked() int {
	n := 0
	for _, p := range m.participants {
		if p.Role == domain.RolePlayer && p.Connected() {
			n++
		}
	}
	return n
}

func (m *Match) progressLocked() (answered, expected int) {
	for _, p := range m.participants {
		if p.Role != domain.RolePlayer || !p.Connected() {
			continue
		}
		expected++
		if p.Answered {
			answered++
		}
	}
	return answered, expected
}

// allAnsweredLocked is true when at least one player is connected and every
// connected player has answered. The host never counts.
func (m *Match) allAnsweredLocked() bool {
	answered, expected := m.progressLocked()
	return expected > 0 && answered == expected
}

func (m *Match) rosterLocked() []domain.ParticipantView {
	roster := make([]domain.ParticipantView, 0, len(m.participants))
	for _, p := range m.participants {
		if p.Role == domain.RolePlayer && !p.Connected() {
			continue
		}
		roster = append(roster, viewOf(p))
	}
	return roster
}

func (m *Match) lobbyUpdateLocked() Message {
	return Message{Type: EventLobbyUpdate, Payload: LobbyUpdate{
		MatchCode:    m.code,
		Title:        m.title,
		Participants: m.rosterLocked(),
	}}
}

// leaderboardLocked lists every participant by descending score; ties keep join order.
func (m *Match) leaderboardLocked() []domain.LeaderboardEntry {
	ordered := make([]*domain.Participant, len(m.participants))
	copy(ordered, m.participants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})
	board := make([]domain.LeaderboardEntry, 0, len(ordered))
	for _, p := range ordered {
		board = append(board, domain.LeaderboardEntry{Name: p.DisplayName, Score: p.Score, Role: p.Role})
	}
	return board
}

// rankedLocked lists players only, by descending score with stable ties.
func (m *Match) rankedLocked() []domain.RankedScore {
	players := make([]*domain.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if p.Role == domain.RolePlayer {
			players = append(players, p)
		}
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Score > players[j].Score
	})
	ranked := make([]domain.RankedScore, len(players))
	for i, p := range players {
		ranked[i] = domain.RankedScore{Rank: i + 1, Name: p.DisplayName, Score: p.Score}
	}
	return ranked
}

func (m *Match) broadcastLocked(msg Message) {
	for _, p := range m.participants {
		if p.Connected() {
			m.env.notifier.Notify(p.ConnID, msg)
		}
	}
}

func (m *Match) sendLocked(connID string, msg Message) {
	if connID == "" {
		return
	}
	m.env.notifier.Notify(connID, msg)
}

func viewOf(p *domain.Participant) domain.ParticipantView {
	return domain.ParticipantView{Name: p.DisplayName, Role: p.Role, Score: p.Score}
}

// IdentityOf resolves the participant currently attached to connID.
func (m *Match) IdentityOf(connID string) (string, domain.Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byConnLocked(connID)
	if p == nil {
		return "", "", false
	}
	return p.Identity, p.Role, true
}
