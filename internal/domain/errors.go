package domain

import "errors"

// Domain errors
var (
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrPlayerNotFound     = errors.New("player not found in tournament")
	ErrMatchNotFound      = errors.New("match not found in tournament")
	ErrDuplicatePlayer    = errors.New("player with the same name already exists")
	ErrInvalidResult      = errors.New("invalid result format")
	ErrInvalidSettings    = errors.New("invalid tournament settings")
	ErrInvalidImport      = errors.New("invalid import payload")
	ErrNoPairings         = errors.New("no pairings possible")
	ErrNothingToUndo      = errors.New("no pairing batch to undo")
	ErrExportDisabled     = errors.New("standings export is not configured")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTournamentNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrMatchNotFound)
}
