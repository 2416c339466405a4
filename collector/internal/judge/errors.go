package judge

import (
	"errors"
	"fmt"
)

var (
	errUnknownBackend = errors.New("unknown backend")
	errNotConfigured  = errors.New("backend has no api key")
	errUnparseable    = errors.New("response is not a verdict document")
)

// AIBackendError reports a failed or unparseable remote analysis call.
type AIBackendError struct {
	Backend string
	Op      string // select, request, parse
	Err     error
}

func (e *AIBackendError) Error() string {
	return fmt.Sprintf("analysis backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *AIBackendError) Unwrap() error {
	return e.Err
}
