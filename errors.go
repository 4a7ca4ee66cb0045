package rft

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrClass identifies which collaborator failed, per spec.md §7.
type ErrClass string

const (
	ClassSocketOpen ErrClass = "socket-open"
	ClassBind       ErrClass = "bind"
	ClassListen     ErrClass = "listen"
	ClassAccept     ErrClass = "accept"
	ClassSelect     ErrClass = "select"
	ClassRecv       ErrClass = "recv"
	ClassSend       ErrClass = "send"
	ClassConnect    ErrClass = "connect"
	ClassHostLookup ErrClass = "host-lookup"
	ClassClose      ErrClass = "close"
	ClassOpenFile   ErrClass = "open-file"
	ClassAlloc      ErrClass = "alloc"
)

// fatalClasses are the error classes that, per spec.md §7, cause the
// process to exit rather than being reported back through a sentinel
// failure value: socket creation, bind, and listen setup.
var fatalClasses = map[ErrClass]bool{
	ClassSocketOpen: true,
	ClassBind:       true,
	ClassListen:     true,
}

// Error is the typed, classed error this module returns from any
// high-level operation whose underlying collaborator failed.
type Error struct {
	Class ErrClass
	cause error
}

func (e *Error) Error() string {
	return string(e.Class) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// IsFatal reports whether this error's class is one that spec.md §7 says
// should terminate the process rather than be handled by the caller.
func (e *Error) IsFatal() bool { return fatalClasses[e.Class] }

func wrapClass(class ErrClass, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Class: class, cause: errors.WithStack(cause)}
}

// exitCodes assigns each class a distinct process exit status, grounded on
// the source's rdt_error.h ERR_VAL table (ERR_SOCKOPT has no class here
// since socket-option tuning is always best-effort and never returned as an
// error; see socket_linux.go/socket_other.go).
var exitCodes = map[ErrClass]int{
	ClassOpenFile:   1,
	ClassAlloc:      2,
	ClassSocketOpen: 3,
	ClassBind:       4,
	ClassAccept:     5,
	ClassListen:     6,
	ClassSelect:     8,
	ClassRecv:       9,
	ClassClose:      10,
	ClassHostLookup: 11,
	ClassConnect:    12,
	ClassSend:       13,
}

// ExitCode maps err to the process exit status its failure class calls
// for, per spec.md §6's "a nonzero error code on failure keyed to the
// failure class." An err that does not carry one of this module's classes
// (e.g. a flag-parsing error at the CLI boundary) exits 1.
func ExitCode(err error) int {
	var classed *Error
	if stderrors.As(err, &classed) {
		if code, ok := exitCodes[classed.Class]; ok {
			return code
		}
	}
	return 1
}

// assertf panics, per spec.md §7's "A full unacked buffer is a programming
// error ... and triggers an assertion." Apart from these assertions, the
// only panic in this module is randomSeq's when the system random source
// fails; every other failure path returns an error.
func assertf(cond bool, msg string, args ...interface{}) {
	if !cond {
		panic(errors.Errorf(msg, args...))
	}
}
