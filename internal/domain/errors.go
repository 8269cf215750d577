package domain

import "errors"

// Failure taxonomy for management operations. Callers wrap these with %w
// and classify with errors.Is; the HTTP layer maps each to a status code.
var (
	// ErrInvalidInput marks a malformed or unrecognized job source.
	ErrInvalidInput = errors.New("torrentd: invalid input")

	// ErrNotFound marks an operation against an unknown job id.
	ErrNotFound = errors.New("torrentd: job not found")

	// ErrEngineRejected marks a request the torrent engine refused.
	ErrEngineRejected = errors.New("torrentd: engine rejected request")

	// ErrEngineUnavailable marks a status query that produced no answer.
	ErrEngineUnavailable = errors.New("torrentd: engine unavailable")
)
