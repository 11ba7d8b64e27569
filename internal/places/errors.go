package places

import (
	"errors"
	"fmt"
)

// Kind classifies gateway failures.
type Kind uint8

const (
	// KindNetwork covers transport failures, timeouts, non-2xx statuses and
	// provider-side refusals.
	KindNetwork Kind = iota + 1
	// KindDecode means the body was not JSON or lacked the expected shape.
	KindDecode
	// KindNoCoordinate means a place could not be located.
	KindNoCoordinate
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrNetwork      = errors.New("network failure")
	ErrDecode       = errors.New("decode failure")
	ErrNoCoordinate = errors.New("no coordinate")
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindNoCoordinate:
		return "no coordinate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindDecode:
		return ErrDecode
	case KindNoCoordinate:
		return ErrNoCoordinate
	}
	return nil
}

// Error is returned by every Client operation.
type Error struct {
	Err  error
	Op   string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("places %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("places %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNetwork) and friends match by kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the kind of a gateway error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// NoCoordinate builds the error reported when a picked place cannot be located.
func NoCoordinate(op, address string) *Error {
	return &Error{Kind: KindNoCoordinate, Op: op, Err: fmt.Errorf("no geocode match for %q", address)}
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
