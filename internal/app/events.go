package app

import "quiz-match-service/internal/domain"

// Outbound event names.
const (
	EventMatchCreated     = "match_created"
	EventAuthError        = "auth_error"
	EventLobbyUpdate      = "lobby_update"
	EventMatchNotFound    = "match_not_found"
	EventYouAreHost       = "you_are_host"
	EventJoinSuccess      = "join_success"
	EventMatchStarted     = "match_started"
	EventMatchInfo        = "match_info"
	EventRoundQuestion    = "round_question"
	EventAnswerResult     = "answer_result"
	EventPlayerAnswered   = "player_answered"
	EventQuestionResult   = "question_result"
	EventMatchOver        = "match_over"
	EventHostDisconnected = "host_disconnected"
	EventError            = "error"
)

// Message is the envelope written to a connection.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type MatchCreated struct {
	MatchCode string `json:"matchCode"`
}

type LobbyUpdate struct {
	MatchCode    string                   `json:"matchCode"`
	Title        string                   `json:"title"`
	Participants []domain.ParticipantView `json:"participants"`
}

type YouAreHost struct {
	MatchCode string            `json:"matchCode"`
	State     domain.MatchState `json:"state"`
}

type JoinSuccess struct {
	MatchCode   string `json:"matchCode"`
	PlayerToken string `json:"playerToken"`
}

type MatchStarted struct {
	MatchCode   string `json:"matchCode"`
	TotalRounds int    `json:"totalRounds"`
}

// MatchInfo is sent to a connection entering the round view.
type MatchInfo struct {
	MatchCode   string            `json:"matchCode"`
	Title       string            `json:"title"`
	State       domain.MatchState `json:"state"`
	TotalRounds int               `json:"totalRounds"`
	Score       int               `json:"score"`
}

type OptionView struct {
	ID   domain.ID `json:"id"`
	Text string    `json:"text"`
}

type RoundQuestion struct {
	QuestionID  domain.ID    `json:"questionId"`
	Text        string       `json:"text"`
	Options     []OptionView `json:"options"`
	TimeLimit   int          `json:"timeLimit"`
	RoundNumber int          `json:"roundNumber"`
	TotalRounds int          `json:"totalRounds"`
}

type AnswerResult struct {
	IsCorrect       bool      `json:"isCorrect"`
	Score           int       `json:"score"`
	CorrectAnswerID domain.ID `json:"correctAnswerId"`
}

// PlayerAnswered feeds the host's live monitor.
type PlayerAnswered struct {
	Name      string `json:"name"`
	IsCorrect bool   `json:"isCorrect"`
	Answered  int    `json:"answered"`
	Expected  int    `json:"expected"`
}

type QuestionResult struct {
	IsCorrect       bool                      `json:"isCorrect"`
	NewScore        int                       `json:"newScore"`
	CorrectAnswerID domain.ID                 `json:"correctAnswerId"`
	Leaderboard     []domain.LeaderboardEntry `json:"leaderboard"`
}

type MatchOver struct {
	MatchCode    string               `json:"matchCode"`
	RankedScores []domain.RankedScore `json:"rankedScores"`
}

type HostDisconnected struct {
	MatchCode string `json:"matchCode"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
