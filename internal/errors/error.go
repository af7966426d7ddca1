// Package errors implements the sync engine's typed error taxonomy.
package errors

import (
	"fmt"

	"github.com/lucidfs/davsync/internal/types"
)

// Kind is one of the error kinds defined by the sync engine's error handling
// design: storage, protocol, unexpectedStatus, network, authenticationRequired,
// cancelled, invalidArgument.
type Kind string

const (
	KindStorage                Kind = "storage"
	KindProtocol                Kind = "protocol"
	KindUnexpectedStatus        Kind = "unexpectedStatus"
	KindNetwork                 Kind = "network"
	KindAuthenticationRequired  Kind = "authenticationRequired"
	KindCancelled                Kind = "cancelled"
	KindInvalidArgument          Kind = "invalidArgument"
)

// SyncError is the concrete error type returned by every sync-engine
// operation that can fail.
type SyncError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	ResourceID *types.ResourceID
	Retryable_ bool
	Context    map[string]any
	Cause      error
}

func (e *SyncError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the transport wrapper in internal/remote should
// retry the boundary call that produced this error. An error built with
// WithRetryable(true) is retryable whatever its kind; otherwise only network
// errors and a fixed set of 5xx/429 "unexpectedStatus" codes are retryable,
// and every other kind is terminal.
func (e *SyncError) Retryable() bool {
	if e.Retryable_ {
		return true
	}
	switch e.Kind {
	case KindNetwork:
		return true
	case KindUnexpectedStatus:
		switch e.HTTPStatus {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// Builder constructs a SyncError fluently, mirroring the teacher's
// CLIErrorBuilder.
type Builder struct {
	err SyncError
}

// New starts building a SyncError of the given kind.
func New(kind Kind, message string) *Builder {
	return &Builder{err: SyncError{Kind: kind, Message: message}}
}

func (b *Builder) WithHTTPStatus(status int) *Builder {
	b.err.HTTPStatus = status
	return b
}

func (b *Builder) WithResourceID(id types.ResourceID) *Builder {
	b.err.ResourceID = &id
	return b
}

func (b *Builder) WithRetryable(retryable bool) *Builder {
	b.err.Retryable_ = retryable
	return b
}

func (b *Builder) WithCause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) WithContext(key string, value any) *Builder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]any)
	}
	b.err.Context[key] = value
	return b
}

func (b *Builder) Build() *SyncError {
	out := b.err
	return &out
}

// Storage, Protocol, Network, AuthenticationRequired, Cancelled, and
// InvalidArgument are convenience constructors for the common case of an
// error with no extra context.

func Storage(message string, cause error) *SyncError {
	return New(KindStorage, message).WithCause(cause).Build()
}

func Protocol(message string) *SyncError {
	return New(KindProtocol, message).Build()
}

func UnexpectedStatus(status int) *SyncError {
	return New(KindUnexpectedStatus, fmt.Sprintf("unexpected status %d", status)).
		WithHTTPStatus(status).Build()
}

func Network(message string, cause error) *SyncError {
	return New(KindNetwork, message).WithCause(cause).WithRetryable(true).Build()
}

func AuthenticationRequired(message string) *SyncError {
	return New(KindAuthenticationRequired, message).Build()
}

func Cancelled() *SyncError {
	return New(KindCancelled, "operation cancelled").Build()
}

func InvalidArgument(message string) *SyncError {
	return New(KindInvalidArgument, message).Build()
}

// As reports whether err is (or wraps) a *SyncError, returning it if so.
func As(err error) (*SyncError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if se, ok := err.(*SyncError); ok {
			return se, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// KindOf returns err's Kind if it is (or wraps) a *SyncError, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	se, ok := As(err)
	if !ok {
		return "", false
	}
	return se.Kind, true
}
