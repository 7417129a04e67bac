package worktree

import (
	"errors"
	"strings"
)

var (
	ErrNoWorktree      = errors.New("session has no worktree")
	ErrDestroyDeferred = errors.New("worktree has uncommitted changes, destroy deferred")
)

// GitErrorKind classifies a failed git operation so callers can decide
// between retry, surfacing, and giving up.
type GitErrorKind int

const (
	GitErrorOther GitErrorKind = iota
	GitErrorNetwork
	GitErrorAuth
	GitErrorMergeConflict
)

func (k GitErrorKind) String() string {
	switch k {
	case GitErrorNetwork:
		return "network"
	case GitErrorAuth:
		return "auth"
	case GitErrorMergeConflict:
		return "merge-conflict"
	default:
		return "other"
	}
}

// GitError wraps a git failure with its classification and captured output.
type GitError struct {
	Kind   GitErrorKind
	Op     string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	msg := e.Op + " failed"
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// Retryable reports whether backoff-and-retry is worthwhile.
func (e *GitError) Retryable() bool { return e.Kind == GitErrorNetwork }

// classify inspects git's stderr text for known failure signatures.
func classify(op string, output []byte, err error) *GitError {
	text := strings.ToLower(string(output))
	kind := GitErrorOther
	switch {
	case strings.Contains(text, "could not resolve host"),
		strings.Contains(text, "connection timed out"),
		strings.Contains(text, "connection refused"),
		strings.Contains(text, "could not read from remote"),
		strings.Contains(text, "network is unreachable"):
		kind = GitErrorNetwork
	case strings.Contains(text, "authentication failed"),
		strings.Contains(text, "permission denied"),
		strings.Contains(text, "could not read username"):
		kind = GitErrorAuth
	case strings.Contains(text, "conflict"),
		strings.Contains(text, "needs merge"),
		strings.Contains(text, "automatic merge failed"):
		kind = GitErrorMergeConflict
	}
	return &GitError{Kind: kind, Op: op, Output: strings.TrimSpace(string(output)), Err: err}
}
