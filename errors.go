package recstore

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrNoMemory is returned when a block or segment cannot be allocated.
	ErrNoMemory = errors.New("no memory available")

	// ErrInvalidArgument is returned for nil, oversized or otherwise invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotEnoughSpace is returned when the key arena is exhausted.
	ErrNotEnoughSpace = errors.New("not enough space")

	// ErrFileCorrupt is returned when a persistent table was truncated by a
	// peer or fails structural validation.
	ErrFileCorrupt = errors.New("file corrupt")

	// ErrDeadlockAvoided is returned when an advisory lock times out.
	// The operation can be retried.
	ErrDeadlockAvoided = errors.New("resource deadlock avoided")

	// ErrOperationNotSupported is returned for queue operations on a table
	// that was not created as a queue.
	ErrOperationNotSupported = errors.New("operation not supported")

	// ErrInvalidFormat is returned when a file has an unexpected type or layout.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrTooLargeOffset is returned when the hash index cannot grow any further.
	ErrTooLargeOffset = errors.New("too large offset")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIO is returned when the file system fails underneath a persistent
	// table. The underlying error is kept as the cause.
	ErrIO = errors.New("input/output error")
)

// Code is a stable numeric error classification.
type Code int

const (
	CodeSuccess Code = iota
	CodeNoMemory
	CodeInvalidArgument
	CodeNotEnoughSpace
	CodeFileCorrupt
	CodeDeadlockAvoided
	CodeOperationNotSupported
	CodeInvalidFormat
	CodeTooLargeOffset
	CodeNotFound
	CodeIO
	CodeUnknown
)

var codeKinds = []struct {
	code Code
	kind error
	name string
}{
	{CodeNoMemory, ErrNoMemory, "no memory"},
	{CodeInvalidArgument, ErrInvalidArgument, "invalid argument"},
	{CodeNotEnoughSpace, ErrNotEnoughSpace, "not enough space"},
	{CodeFileCorrupt, ErrFileCorrupt, "file corrupt"},
	{CodeDeadlockAvoided, ErrDeadlockAvoided, "deadlock avoided"},
	{CodeOperationNotSupported, ErrOperationNotSupported, "operation not supported"},
	{CodeInvalidFormat, ErrInvalidFormat, "invalid format"},
	{CodeTooLargeOffset, ErrTooLargeOffset, "too large offset"},
	{CodeNotFound, ErrNotFound, "not found"},
	{CodeIO, ErrIO, "input/output error"},
}

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeUnknown:
		return "unknown"
	}
	for _, k := range codeKinds {
		if k.code == c {
			return k.name
		}
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// CodeOf classifies err. A nil error is CodeSuccess.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	for _, k := range codeKinds {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return CodeUnknown
}

// Error carries the operation, the error kind and a human-readable message.
//
// Both the kind and the underlying cause (if any) can be matched with
// errors.Is / errors.As.
type Error struct {
	Op    string
	Kind  error
	Msg   string
	cause error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	switch {
	case e.Op != "" && msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Kind)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case msg != "":
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.cause}
}

var lastError atomic.Pointer[Error]

// Errorf builds an *Error of the given kind and records it as the last error.
func Errorf(kind error, op string, format string, args ...any) error {
	e := &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
	lastError.Store(e)
	return e
}

// Wrap attaches kind and op to cause and records the result as the last
// error. Errors that already carry a kind are recorded unchanged.
func Wrap(kind error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		lastError.Store(e)
		return cause
	}
	e = &Error{Op: op, Kind: kind, cause: cause}
	lastError.Store(e)
	return e
}

// LastError returns the most recent error recorded by any table or cache in
// this process, or nil.
func LastError() error {
	if e := lastError.Load(); e != nil {
		return e
	}
	return nil
}

// ClearLastError resets the last-error slot.
func ClearLastError() {
	lastError.Store(nil)
}
