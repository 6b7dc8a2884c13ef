package hashdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/gostonefire/hashdb/internal/chain"
	"github.com/gostonefire/hashdb/internal/record"
	"github.com/gostonefire/hashdb/internal/storage"
	"github.com/gostonefire/hashdb/internal/wal"
)

// Kind - Classifies every error returned from a HashDB
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindCorrupt
	KindTypeMismatch
	KindOverflow
	KindWouldBlock
	KindIO
	KindFatal
	KindInvalid
	KindReadOnly
	KindAlreadyActive
	KindNotActive
	KindStale
	KindClosed
)

// String - Returns a short description of the kind
func (K Kind) String() string {
	switch K {
	case KindNotFound:
		return "no record found"
	case KindCorrupt:
		return "corrupt data"
	case KindTypeMismatch:
		return "value has wrong width for numeric operation"
	case KindOverflow:
		return "numeric overflow"
	case KindWouldBlock:
		return "file is locked by another handle"
	case KindIO:
		return "i/o error"
	case KindFatal:
		return "database needs repair"
	case KindInvalid:
		return "invalid operation"
	case KindReadOnly:
		return "database opened for reading only"
	case KindAlreadyActive:
		return "transaction already active"
	case KindNotActive:
		return "no active transaction"
	case KindStale:
		return "iterator invalidated"
	case KindClosed:
		return "database is closed"
	default:
		return fmt.Sprintf("unknown error kind %d", int(K))
	}
}

// Error - Custom error carrying the kind of failure, the operation that failed and the underlying cause.
// Errors compare equal under errors.Is when their kinds are equal, so errors.Is(err, ErrNotFound) holds for
// every not found error regardless of operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error - Returns the error message
func (E *Error) Error() string {
	msg := E.Kind.String()
	if E.Op != "" {
		msg = fmt.Sprintf("%s: %s", E.Op, msg)
	}
	if E.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, E.Err)
	}

	return "hashdb: " + msg
}

// Unwrap - Returns the underlying cause
func (E *Error) Unwrap() error {
	return E.Err
}

// Is - Returns true if target is an *Error of the same kind
func (E *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == E.Kind
}

var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrCorrupt       = &Error{Kind: KindCorrupt}
	ErrTypeMismatch  = &Error{Kind: KindTypeMismatch}
	ErrOverflow      = &Error{Kind: KindOverflow}
	ErrWouldBlock    = &Error{Kind: KindWouldBlock}
	ErrIO            = &Error{Kind: KindIO}
	ErrFatal         = &Error{Kind: KindFatal}
	ErrInvalid       = &Error{Kind: KindInvalid}
	ErrReadOnly      = &Error{Kind: KindReadOnly}
	ErrAlreadyActive = &Error{Kind: KindAlreadyActive}
	ErrNotActive     = &Error{Kind: KindNotActive}
	ErrStale         = &Error{Kind: KindStale}
	ErrClosed        = &Error{Kind: KindClosed}
)

// newError - Returns a new *Error
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// toError - Classifies an error coming from the internal packages
func toError(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return newError(e.Kind, op, e.Err)
		}
		return err
	}

	kind := KindIO
	switch {
	case errors.Is(err, record.ErrCorrupt), errors.Is(err, storage.ErrBadHeader), errors.Is(err, chain.ErrCycle):
		kind = KindCorrupt
	case errors.Is(err, storage.ErrWouldBlock):
		kind = KindWouldBlock
	case errors.Is(err, storage.ErrReadOnly):
		kind = KindReadOnly
	case errors.Is(err, storage.ErrAddressRange):
		kind = KindInvalid
	case errors.Is(err, wal.ErrBadLog):
		kind = KindFatal
	case errors.Is(err, os.ErrNotExist):
		kind = KindNotFound
	}

	return newError(kind, op, err)
}
