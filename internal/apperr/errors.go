// Package apperr defines the closed set of error kinds surfaced by clipsync.
// Kinds are strings so they read well in logs and serialize naturally to JSON.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies an error condition.
type Kind string

const (
	KindAuthentication       Kind = "AUTHENTICATION_FAILED"
	KindNetwork              Kind = "NETWORK_ERROR"
	KindDatabase             Kind = "DATABASE_ERROR"
	KindEncryption           Kind = "ENCRYPTION_FAILED"
	KindDecryption           Kind = "DECRYPTION_FAILED"
	KindSyncConflict         Kind = "SYNC_CONFLICT"
	KindDeviceNotFound       Kind = "DEVICE_NOT_FOUND"
	KindInvalidConfiguration Kind = "INVALID_CONFIGURATION"
	KindServiceUnavailable   Kind = "SERVICE_UNAVAILABLE"
	KindSerialization        Kind = "SERIALIZATION_ERROR"
	KindIO                   Kind = "IO_ERROR"
	KindUnknown              Kind = "UNKNOWN"
)

var labels = map[Kind]string{
	KindAuthentication:       "Authentication failed",
	KindNetwork:              "Network error",
	KindDatabase:             "Database error",
	KindEncryption:           "Encryption failed",
	KindDecryption:           "Decryption failed",
	KindSyncConflict:         "Sync conflict",
	KindDeviceNotFound:       "Device not found",
	KindInvalidConfiguration: "Invalid configuration",
	KindServiceUnavailable:   "Service unavailable",
	KindSerialization:        "Serialization error",
	KindIO:                   "IO error",
	KindUnknown:              "Unknown error",
}

// Label returns the human readable name of the kind.
func (k Kind) Label() string {
	if l, ok := labels[k]; ok {
		return l
	}
	return labels[KindUnknown]
}

// Error is a kind-tagged error carrying a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Label(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// message only matches when the messages are equal too.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// MarshalJSON renders the error as its display string.
func (e *Error) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", e.Error())), nil
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with a kind. The cause message is appended to msg.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return &Error{Kind: kind, Message: msg}
	}
	return &Error{Kind: kind, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Sentinels usable with errors.Is.
var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrDecryption     = &Error{Kind: KindDecryption}
	ErrNotConnected   = &Error{Kind: KindNetwork, Message: "WebSocket not connected"}
)
