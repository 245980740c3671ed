package vcs

import (
	"errors"
	"fmt"
)

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // The connected path is not a repository anymore
//	}
var (
	// ErrNotInVCS is returned when a path is expected to be inside
	// a repository but none was found.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the git binary is not
	// installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// RepoError reports a failure tied to one repository path. Commit listing
// returns it so callers can tell which of several connected repositories
// is invalid or inaccessible.
type RepoError struct {
	Repo string
	Err  error
}

func (e *RepoError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Repo, e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// IsRepoError reports whether err carries a RepoError and returns it.
func IsRepoError(err error) (*RepoError, bool) {
	var re *RepoError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable returns true if the error is likely to succeed on retry.
// Timeouts are transient; a missing repository or binary is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsFatal returns true if the error indicates a state that a refresh
// cannot recover from without user action (repository removed, git
// missing).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}

	return false
}
