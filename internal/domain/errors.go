package domain

import "errors"

var (
	// ErrMatchNotFound is returned when no live match has the given code.
	ErrMatchNotFound = errors.New("match not found")
	// ErrUnauthorized is returned when a non-host attempts a host-only action.
	ErrUnauthorized = errors.New("not authorized for this match")
	// ErrUnauthenticated is returned when a match is created without a host identity.
	ErrUnauthenticated = errors.New("host identity required")
	// ErrInvalidInput covers empty names and malformed payloads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrContentNotFound indicates the quiz identity did not resolve.
	ErrContentNotFound = errors.New("quiz not found")
	// ErrEmptyContent indicates the quiz has no questions.
	ErrEmptyContent = errors.New("quiz has no questions")
	// ErrContentUnavailable indicates quiz content could not be loaded.
	ErrContentUnavailable = errors.New("quiz content unavailable")
	// ErrStalePayload marks an answer for a round that is no longer open.
	ErrStalePayload = errors.New("answer for a closed round")
	// ErrAlreadyAnswered marks a duplicate answer within one round.
	ErrAlreadyAnswered = errors.New("already answered this round")
	// ErrParticipantNotFound is returned when an identity has not joined the match.
	ErrParticipantNotFound = errors.New("participant not found in match")
	// ErrInvalidState is returned when an operation does not apply to the match state.
	ErrInvalidState = errors.New("operation not allowed in current match state")
	// ErrPersistenceFailure wraps durable write failures.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// IsSilent reports whether err is an expected race outcome that is logged but never
// reported back to a client.
func IsSilent(err error) bool {
	return errors.Is(err, ErrStalePayload) || errors.Is(err, ErrAlreadyAnswered)
}
