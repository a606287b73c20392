package domain

import (
	"context"
	"errors"
)

// Domain errors. Adapters wrap one of these so callers can classify failures
// with errors.Is.
var (
	// ErrRepositoryAccess indicates the remote is unreachable or rejected the transport.
	ErrRepositoryAccess = errors.New("repository access failed")

	// ErrRepositoryState indicates the local repository cannot be opened or initialized.
	ErrRepositoryState = errors.New("repository state is invalid")

	// ErrAuthentication indicates an explicitly configured credential is invalid or rejected.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotification indicates the mail transport failed.
	ErrNotification = errors.New("notification failed")

	// ErrConfiguration indicates a required setting is missing or invalid.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNoRemote indicates the configured remote does not exist in the repository.
	ErrNoRemote = errors.New("remote not configured")
)

// ErrorKind is the reportable classification of an error.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindRepositoryAccess ErrorKind = "RepositoryAccessError"
	ErrorKindRepositoryState  ErrorKind = "RepositoryStateError"
	ErrorKindAuthentication   ErrorKind = "AuthenticationError"
	ErrorKindNotification     ErrorKind = "NotificationError"
	ErrorKindConfiguration    ErrorKind = "ConfigurationError"
	ErrorKindCanceled         ErrorKind = "Canceled"
	ErrorKindUnknown          ErrorKind = "UnknownError"
)

// KindOf classifies err. Authentication is checked before access because
// adapters may wrap both.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrAuthentication):
		return ErrorKindAuthentication
	case errors.Is(err, ErrRepositoryState):
		return ErrorKindRepositoryState
	case errors.Is(err, ErrRepositoryAccess), errors.Is(err, ErrNoRemote):
		return ErrorKindRepositoryAccess
	case errors.Is(err, ErrNotification):
		return ErrorKindNotification
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindUnknown
	}
}
