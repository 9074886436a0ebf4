package domain

import "time"

// Role distinguishes the participant driving the match from those answering.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// MatchState is the lifecycle position of a live match.
type MatchState string

const (
	StateLobby      MatchState = "lobby"
	StateInProgress MatchState = "in_progress"
	StateCompleted  MatchState = "completed"
)

// AnswerOption is one selectable answer of a question.
type AnswerOption struct {
	ID      ID     `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is an immutable snapshot of quiz content with exactly one correct option.
type Question struct {
	ID        ID             `json:"id"`
	Text      string         `json:"text"`
	TimeLimit int            `json:"timeLimit"` // seconds
	Options   []AnswerOption `json:"options"`
}

// CorrectOptionID returns the id of the option marked correct.
func (q Question) CorrectOptionID() (ID, bool) {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID, true
		}
	}
	return 0, false
}

// Quiz is the content a match is played from.
type Quiz struct {
	ID        ID         `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Participant is a host or player inside a match. The record survives reconnects;
// only ConnID changes.
type Participant struct {
	Identity    string
	DisplayName string
	Role        Role
	Score       int
	Answered    bool
	Correct     bool
	ConnID      string // empty while disconnected
	JoinedAt    time.Time
}

// Connected reports whether the participant currently has a live connection.
func (p *Participant) Connected() bool {
	return p.ConnID != ""
}

// ParticipantView is the roster entry sent to clients.
type ParticipantView struct {
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Score int    `json:"score"`
}

// LeaderboardEntry is a row of the per-round standings.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Role  Role   `json:"role"`
}

// RankedScore is a row of the final standings.
type RankedScore struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// AnswerSubmission is a player's answer for the open round. An absent AnswerID
// is the empty answer a client sends when its countdown runs out.
type AnswerSubmission struct {
	QuestionID    ID
	AnswerID      OptionalID
	TimeRemaining int
}

// AnswerOutcome summarizes how a submission was scored.
type AnswerOutcome struct {
	Correct         bool
	Awarded         int
	Score           int
	CorrectAnswerID ID
}
