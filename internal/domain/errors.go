package domain

import "errors"

// Domain errors
var (
	// Validation
	ErrInvalidScore = errors.New("score must be greater than 0")

	// Precondition
	ErrAlreadyInitialized        = errors.New("leaderboard already initialized")
	ErrPlayerAlreadyRegistered   = errors.New("player already registered")
	ErrLeaderboardNotInitialized = errors.New("leaderboard not initialized")
	ErrPlayerNotFound            = errors.New("player record not found")

	// Authorization
	ErrUnauthorized = errors.New("caller is not the owner of the player record")

	// Transport
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// IsValidationError reports whether err rejects caller-supplied data
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidScore)
}

// IsPreconditionError reports whether err was caused by calling an operation
// in the wrong lifecycle state
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrAlreadyInitialized) ||
		errors.Is(err, ErrPlayerAlreadyRegistered) ||
		errors.Is(err, ErrLeaderboardNotInitialized) ||
		errors.Is(err, ErrPlayerNotFound)
}

// IsAuthorizationError checks if an error is an ownership violation
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrLeaderboardNotInitialized)
}

// IsDomainError reports whether err belongs to the ledger's error taxonomy
func IsDomainError(err error) bool {
	return IsValidationError(err) || IsPreconditionError(err) || IsAuthorizationError(err)
}
