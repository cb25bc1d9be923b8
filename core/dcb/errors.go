package dcb

import (
	"errors"
	"fmt"
)

// Kind classifies every error the engine reports.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindSerialization
	KindStorage
	KindProjection
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("tag concurrency conflict")
	ErrNotFound      = errors.New("not found")
	ErrSerialization = errors.New("serialization failed")
	ErrStorage       = errors.New("storage failed")
	ErrProjection    = errors.New("projection failed")
)

var kindSentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindConflict:      ErrConflict,
	KindNotFound:      ErrNotFound,
	KindSerialization: ErrSerialization,
	KindStorage:       ErrStorage,
	KindProjection:    ErrProjection,
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindSerialization:
		return "serialization"
	case KindStorage:
		return "storage"
	case KindProjection:
		return "projection"
	default:
		return "unknown"
	}
}

// Error carries the kind and the failing operation. errors.Is matches both the
// kind's sentinel and anything in the wrapped chain.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err as kind. A nil err is replaced by the kind's sentinel.
func NewError(kind Kind, op string, err error) *Error {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return NewError(kind, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first *Error in err's chain, falling back to
// matching the bare sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

// storageError wraps adapter failures, keeping NotFound and already classified
// errors intact.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return NewError(KindStorage, op, err)
}

// StorageError is exported for adapters.
func StorageError(op string, err error) error { return storageError(op, err) }
