package cuberepo

import (
	"fmt"
	"sort"
	"strings"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// InvalidInput covers null/empty/invalid AppId tuples, bad cube names,
	// empty batches and attempts to touch reserved versions or RELEASE AppIds.
	InvalidInput
	// SecurityViolation is a denied permission check.
	SecurityViolation
	// LockBlocked means the application advisory lock is held by another user.
	LockBlocked
	// InvalidState covers missing collaborators and broken configuration.
	InvalidState
	// MergeConflictFailure is carried by MergeError.
	MergeConflictFailure
	// NotFoundFailure is a hard not-found (soft misses return nil instead).
	NotFoundFailure
	// ResourceFailure means a resource/URL could not be resolved.
	ResourceFailure
)

// Error is the module's custom error carrying a taxonomy code.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with the given code and formatted details.
func Errorf(code ErrorCode, format string, a ...any) Error {
	return Error{Code: code, Err: fmt.Errorf(format, a...)}
}

// HasCode reports whether err is (or wraps) an Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(Error); ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// MergeConflictInfo describes one cube that could not be three-way merged.
type MergeConflictInfo struct {
	Message  string   `json:"message"`
	Sha1     string   `json:"sha1"`
	HeadSha1 string   `json:"headSha1"`
	Diff     []string `json:"diff,omitempty"`
}

// MergeError reports the cubes of a branch operation that could not be merged.
// Operations that raise it may have committed the non-conflicted subset of the
// batch already; callers retry only the cubes named here.
type MergeError struct {
	Errors map[string]MergeConflictInfo
}

func (e MergeError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for n := range e.Errors {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("merge conflict on cube(s): %s", strings.Join(names, ", "))
}

// AsMergeError extracts a MergeError from err, if present.
func AsMergeError(err error) (MergeError, bool) {
	me, ok := err.(MergeError)
	return me, ok
}
