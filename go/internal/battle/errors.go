package battle

import "errors"

var (
	// ErrTransportUnavailable is returned by push emission while the
	// broker connection is down. Callers fall back to pull-only mode.
	ErrTransportUnavailable = errors.New("push transport unavailable")

	// ErrSnapshotFetchFailed wraps a failed authoritative snapshot fetch.
	ErrSnapshotFetchFailed = errors.New("snapshot fetch failed")

	// ErrAmbiguousOutcome indicates a completion event that names no
	// winner; resolution is deferred to the next snapshot.
	ErrAmbiguousOutcome = errors.New("ambiguous outcome payload")

	// ErrDuplicateTerminal indicates a terminal transition was attempted
	// after the session had already committed.
	ErrDuplicateTerminal = errors.New("terminal status already committed")
)
