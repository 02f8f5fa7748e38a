package httpx

import (
	"errors"

	"github.com/containerd/errdefs"
)

// errUnavailable classifies connection failures for errdefs.IsUnavailable.
var errUnavailable = errdefs.ErrUnavailable

// IsConnectionError reports whether err (or any error it wraps) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
