// Package cmn holds types, errors and helpers shared by every component of
// the orchestrator, the way aistore's own cmn package anchors its daemons.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error kinds enumerated in the orchestration
// design (§7): the HTTP/bus layer maps a Kind to a status code or an
// ack/nack decision without caring about the wrapped cause.
type Kind string

const (
	KindBadRequest          Kind = "BadRequest"
	KindNoApplicableProfile Kind = "NoApplicableProfiles"
	KindBlobUnreachable     Kind = "BlobUnreachable"
	KindBusPublishFailed    Kind = "BusPublishFailed"
	KindProfileWorkFailed   Kind = "ProfileWorkFailed"
	KindFaceWorkFailed      Kind = "FaceWorkFailed"
	KindStaleMessage        Kind = "StaleMessage"
	KindDuplicateMessage    Kind = "DuplicateMessage"
	KindStorageConflict     Kind = "StorageConflict"
	KindCallbackFailed      Kind = "CallbackDeliveryFailed"
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
)

// Error wraps a Kind, a human message and an optional cause. It implements
// Unwrap so callers can still errors.Is/As through to the cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func NewErrBadRequest(msg string) *Error                { return newErr(KindBadRequest, msg, nil) }
func NewErrNoApplicableProfiles(msg string) *Error       { return newErr(KindNoApplicableProfile, msg, nil) }
func NewErrBlobUnreachable(msg string, cause error) *Error {
	return newErr(KindBlobUnreachable, msg, cause)
}
func NewErrBusPublishFailed(msg string, cause error) *Error {
	return newErr(KindBusPublishFailed, msg, cause)
}
func NewErrStorageConflict(msg string) *Error  { return newErr(KindStorageConflict, msg, nil) }
func NewErrNotFound(msg string) *Error         { return newErr(KindNotFound, msg, nil) }
func NewErrConflict(msg string) *Error         { return newErr(KindConflict, msg, nil) }
func NewErrCallbackFailed(msg string, cause error) *Error {
	return newErr(KindCallbackFailed, msg, cause)
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Wrap is the package's one blessed way to attach context to an error,
// matching aistore's use of github.com/pkg/errors for call-site context
// instead of ad hoc fmt.Errorf("...: %w", err) chains.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
