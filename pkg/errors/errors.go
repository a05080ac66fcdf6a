package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Op names the operation an error passed through, e.g.
// "(*Service).handleRequest"
type Op string

func (op Op) String() string {
	return string(op)
}

type Kind int

const (
	Internal Kind = iota + 1
	IO
	Network
	BadArgument
	Protocol
	NotFound
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "IO Error"
	case Network:
		return "Network Error"
	case BadArgument:
		return "Bad arguments"
	case Protocol:
		return "Protocol Error"
	case NotFound:
		return "Not found"
	default:
		return "Internal Error"
	}
}

type Error struct {
	err  error
	op   Op
	kind Kind
}

func (e Error) Error() string {
	return e.err.Error()
}

func (e Error) Unwrap() error {
	return e.err
}

type Errors []error

func (errs Errors) Error() string {
	var sb strings.Builder

	for i, err := range errs {
		sb.WriteString(err.Error())

		if i < len(errs)-1 {
			sb.WriteString(", ")
		}
	}

	return sb.String()
}

// Ops returns the trail of operations the error was wrapped
// in, outermost first
func Ops(e error) []string {
	var out []string

	err, ok := e.(Error)
	if !ok {
		return out
	}

	if err.op != "" {
		out = append(out, string(err.op))
	}
	out = append(out, Ops(err.err)...)

	return out
}

// KindOf returns the kind of the outermost Error in the
// chain, or Internal
func KindOf(e error) Kind {
	var err Error
	if errors.As(e, &err) && err.kind != 0 {
		return err.kind
	}

	return Internal
}

func Wrap(e error, args ...interface{}) error {
	if e == nil {
		return nil
	}

	err := Error{err: e, kind: Internal}

	if _err, ok := e.(Error); ok {
		err.kind = _err.kind
	}

	for _, arg := range args {
		switch v := arg.(type) {
		case Kind:
			err.kind = v
		case Op:
			err.op = v
		}
	}

	return err
}

func New(e string) error {
	return errors.New(e)
}

func Newf(fmtStr string, args ...interface{}) error {
	return fmt.Errorf(fmtStr, args...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsEOF reports whether err signals an orderly end of stream
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
