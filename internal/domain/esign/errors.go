package esign

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy. Handlers map these to HTTP codes; services wrap them with
// context using %w so errors.Is keeps working.
var (
	// ErrNotFound covers unknown tokens and ids. Revoked tokens also resolve
	// to ErrNotFound so a probe cannot tell "revoked" from "never existed".
	ErrNotFound = errors.New("signature request not found")

	// ErrInvalidDocument means the document collaborator could not resolve
	// the documentId at creation time.
	ErrInvalidDocument = errors.New("document could not be resolved")

	// ErrInvalidFieldLayout means the requested field layout is unusable.
	ErrInvalidFieldLayout = errors.New("invalid field layout")

	// ErrInvalidStateTransition means the action is illegal in the request's
	// current status (e.g. revoking a signed request).
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrRequestNotSignable means submit/decline hit a request that is no
	// longer pending or viewed.
	ErrRequestNotSignable = errors.New("request is not signable")

	// ErrExpired means the request's expiry passed; the lazy expiration
	// check has flipped it to expired.
	ErrExpired = errors.New("signature request expired")

	// ErrDocumentChanged means the document's content identity no longer
	// matches the hash captured when the request was created.
	ErrDocumentChanged = errors.New("document changed since request was created")

	// ErrRateLimited is surfaced by the gateway rate limiter.
	ErrRateLimited = errors.New("rate limited")
)

// StateError decorates a lifecycle error with the request's current status so
// callers can refresh their view instead of retrying blindly.
type StateError struct {
	Current Status
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v (current status: %s)", e.Err, e.Current)
}

func (e *StateError) Unwrap() error { return e.Err }

func stateErr(current Status, err error) error {
	return &StateError{Current: current, Err: err}
}

// ValidationError carries per-field validation detail for submitted values.
// It is returned before any mutation happens.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
