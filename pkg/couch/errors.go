package couch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/Ratio1/couch_sdk_go/internal/couchapi"
	"github.com/Ratio1/couch_sdk_go/internal/httpx"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 1 << 20

// Error is returned for every response outside the documented success
// statuses of an operation.
type Error struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Code is the server's short error code ("conflict", "not_found", ...)
	// or, when the body was not a JSON error envelope, the raw body text.
	Code string
	// Reason is the human readable explanation, when the server sent one.
	Reason string
	// Body is the raw response text, kept for statuses the server does not
	// describe with an error envelope.
	Body string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason != "" {
		return fmt.Sprintf("couch: %d %s: %s", e.StatusCode, e.Code, e.Reason)
	}
	return fmt.Sprintf("couch: %d %s", e.StatusCode, e.Code)
}

// Unwrap exposes the errdefs class of the status code, so that
// errdefs.IsConflict, errdefs.IsNotFound and friends work on *Error.
func (e *Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest,
		e.StatusCode == http.StatusUnsupportedMediaType,
		e.StatusCode == http.StatusExpectationFailed,
		e.StatusCode == http.StatusRequestEntityTooLarge:
		return errdefs.ErrInvalidArgument
	case e.StatusCode == http.StatusUnauthorized:
		return errdefs.ErrUnauthenticated
	case e.StatusCode == http.StatusForbidden:
		return errdefs.ErrPermissionDenied
	case e.StatusCode == http.StatusNotFound:
		return errdefs.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return errdefs.ErrConflict
	case e.StatusCode == http.StatusPreconditionFailed:
		return errdefs.ErrAlreadyExists
	case e.StatusCode == http.StatusNotImplemented:
		return errdefs.ErrNotImplemented
	case e.StatusCode == http.StatusServiceUnavailable:
		return errdefs.ErrUnavailable
	case e.StatusCode >= 500:
		return errdefs.ErrInternal
	default:
		return errdefs.ErrUnknown
	}
}

// IsClientError reports whether the server blamed the request (4xx), e.g. a
// revision conflict the caller can correct.
func (e *Error) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// mapError turns a failed response into an *Error and closes its body.
func mapError(resp *http.Response) error {
	defer httpx.DrainAndClose(resp)

	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return fmt.Errorf("couch: read error response (status %d): %w", resp.StatusCode, err)
		}
		body = data
	}

	text := strings.TrimSpace(string(body))
	if code, reason, ok := couchapi.DecodeError(body); ok {
		return &Error{StatusCode: resp.StatusCode, Code: code, Reason: reason, Body: text}
	}
	code := text
	if code == "" {
		code = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Code: code, Body: text}
}

// StatusCode returns the HTTP status carried by err, or 0 when err does not
// come from a server response.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// IsConflict reports whether err is a revision conflict (409).
func IsConflict(err error) bool {
	return errdefs.IsConflict(err)
}

// IsUnauthorized reports whether the server rejected the credentials.
func IsUnauthorized(err error) bool {
	return errdefs.IsUnauthorized(err)
}

// IsTransportError reports whether err was raised below the HTTP layer,
// before any response was received.
func IsTransportError(err error) bool {
	return httpx.IsConnectionError(err)
}
