package domain

import "errors"

// Error kinds
var (
	ErrBusinessRule = errors.New("business rule violation")
	ErrInvalidScore = errors.New("invalid score")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrPersistence  = errors.New("persistence error")
)

// Transport errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// LadderError carries a kind, the operation that failed and a human readable reason.
type LadderError struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *LadderError) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *LadderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, reason string) *LadderError {
	return &LadderError{Kind: kind, Op: op, Reason: reason}
}

// Violation returns a business rule error with the given reason.
func Violation(op, reason string) error {
	return newError(ErrBusinessRule, op, reason)
}

// Persistence wraps a store failure.
func Persistence(op string, err error) error {
	return &LadderError{Kind: ErrPersistence, Op: op, Reason: "could not " + op, Err: err}
}

// Score validation
var (
	ErrScoreNegative   = newError(ErrInvalidScore, "validate score", "Both scores must be positive.")
	ErrScoreNotInteger = newError(ErrInvalidScore, "validate score", "Both scores must be integers.")
	ErrScoreEqual      = newError(ErrInvalidScore, "validate score", "The final score cannot be equal.")
	ErrScoreTooFew     = newError(ErrInvalidScore, "validate score", "A valid set consists of at least 2 games.")
	ErrScoreTooMany    = newError(ErrInvalidScore, "validate score", "No more than 5 games should be played in a set.")
)

// Challenge eligibility
var (
	ErrSelfChallenge  = newError(ErrBusinessRule, "create challenge", "Players cannot challenge themselves.")
	ErrNotBusinessDay = newError(ErrBusinessRule, "create challenge", "You can only issue challenges on business days.")
	ErrRankBelow      = newError(ErrBusinessRule, "create challenge", "You cannot challenge an opponent below your rank.")
	ErrTierTooFar     = newError(ErrBusinessRule, "create challenge", "You cannot challenge an opponent beyond 1 tier.")
	ErrSelfExchange   = newError(ErrBusinessRule, "exchange ranks", "A player cannot exchange rank with themselves.")
)

// Challenge ownership and state
var (
	ErrNotChallenger       = newError(ErrUnauthorized, "revoke challenge", "Only the challenger can revoke this challenge.")
	ErrNotInvolved         = newError(ErrUnauthorized, "resolve challenge", "Only an involved player can resolve this challenge.")
	ErrNotInvolvedForfeit  = newError(ErrUnauthorized, "forfeit challenge", "Only an involved player can forfeit this challenge.")
	ErrChallengeNotPending = newError(ErrInvalidState, "transition challenge", "This challenge is no longer pending.")
)

// Player registration
var (
	ErrUsernameRequired = newError(ErrBusinessRule, "register player", "You must give a username.")
	ErrUsernameTaken    = newError(ErrBusinessRule, "register player", "Player username already exists.")
	ErrEmailInvalid     = newError(ErrBusinessRule, "register player", "The email address is not valid.")
)

// Not found
var (
	ErrPlayerNotFound    = newError(ErrNotFound, "load player", "Player not found.")
	ErrChallengeNotFound = newError(ErrNotFound, "load challenge", "Challenge not found.")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KindOf returns the kind of a ladder error, or nil for foreign errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrBusinessRule, ErrInvalidScore, ErrUnauthorized, ErrNotFound, ErrInvalidState, ErrPersistence} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Reason returns the human readable reason of a ladder error.
func Reason(err error) string {
	var le *LadderError
	if errors.As(err, &le) && le.Reason != "" {
		return le.Reason
	}
	return err.Error()
}
