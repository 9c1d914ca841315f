package types

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	// KindTransient failures are retried on the next tick.
	KindTransient ErrorKind = iota
	// KindAnomaly marks data that can never be delivered as is. The entry is dropped.
	KindAnomaly
	// KindFatal stops the process.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAnomaly:
		return "anomaly"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Anomaly(op string, err error) error {
	return &Error{Kind: KindAnomaly, Op: op, Err: err}
}

func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Untyped errors
// are treated as transient.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}

func IsAnomaly(err error) bool {
	return err != nil && KindOf(err) == KindAnomaly
}
