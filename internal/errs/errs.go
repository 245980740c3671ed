// Package errs holds the error types shared by the journal readers and the
// repository readers.
package errs

import (
	"errors"
	"fmt"
)

// IOError reports a file system failure: unreadable folder, permission
// problem, failed write.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err carries an IOError and returns it.
func IsIOError(err error) (*IOError, bool) {
	var ioe *IOError
	if errors.As(err, &ioe) {
		return ioe, true
	}
	return nil, false
}
