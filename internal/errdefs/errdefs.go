// Package errdefs holds error kinds shared by the stores and the service.
package errdefs

import "errors"

// ErrConfiguration marks a store or service that cannot be built from the
// values it was given. It is never retried.
var ErrConfiguration = errors.New("configuration error")

// IsConfiguration reports whether err is (or wraps) ErrConfiguration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
