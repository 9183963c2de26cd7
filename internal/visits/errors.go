package visits

import (
	"errors"
	"strings"
)

// Error kinds surfaced by the engine. The HTTP layer translates them to
// status codes; nothing below is retried internally.
var (
	// ErrScopeForbidden means the caller lacks permission for the
	// requested devices, groups or stations. No partial results leak.
	ErrScopeForbidden = errors.New("caller may not view the requested scope")

	// ErrUpstreamUnavailable means the recording store failed; the whole
	// request fails atomically.
	ErrUpstreamUnavailable = errors.New("recording store unavailable")
)

// InvalidQueryError rejects a malformed request before any segmentation
// work begins. It carries one message per offending parameter.
type InvalidQueryError struct {
	Messages []string
}

func (e *InvalidQueryError) Error() string {
	return "invalid query: " + strings.Join(e.Messages, "; ")
}

func invalidQuery(messages ...string) *InvalidQueryError {
	return &InvalidQueryError{Messages: messages}
}
