package coze

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTimeout is returned when the upstream stops sending for longer than
	// the client's idle timeout.
	ErrTimeout = errors.New("upstream timed out")
	// ErrNotConfigured is returned when no API key or bot id is set.
	ErrNotConfigured = errors.New("upstream not configured")
	// ErrEmptyReply is returned when a stream completes without any content.
	ErrEmptyReply = errors.New("upstream returned no content")
)

// StatusError reports a non-2xx response from the upstream.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsTimeout reports whether err means the upstream took too long.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Sentinels are the replies stored in place of an answer when the upstream
// call does not produce one. Failure is a format string taking the error text.
type Sentinels struct {
	Timeout       string
	Failure       string
	Empty         string
	NotConfigured string
}

// Describe picks the sentinel reply for err.
func (s Sentinels) Describe(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return s.NotConfigured
	case errors.Is(err, ErrEmptyReply):
		return s.Empty
	case IsTimeout(err):
		return s.Timeout
	}
	return fmt.Sprintf(s.Failure, err.Error())
}
