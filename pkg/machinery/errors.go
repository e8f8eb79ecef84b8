/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package machinery

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMachinery is matched by every error returned by a Machinery
// implementation. Callers that only care whether the backend failed can test
// against it with errors.Is.
var ErrMachinery = errors.New("machinery error")

// Error kinds.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrConnection      = errors.New("connection error")
	ErrMissingMachine  = errors.New("machine does not exist")
	ErrMissingSnapshot = errors.New("snapshot does not exist")
	ErrAlreadyRunning  = errors.New("machine is already running")
	ErrRevert          = errors.New("could not revert machine to snapshot")
	ErrStart           = errors.New("could not start machine")
	ErrStop            = errors.New("could not stop machine")
	ErrStatus          = errors.New("could not get machine power state")
	ErrNotInitialized  = errors.New("machinery is not initialized")
)

// ErrMachineNotFound is returned by a Registry when no machine carries the
// requested label.
var ErrMachineNotFound = errors.New("machine not found in registry")

// Error is the error type returned by Machinery implementations.
//
// Kind is one of the Err* kinds of this package. Machine and Snapshot carry
// the identifiers involved, when known. Err is the underlying cause, usually
// the hypervisor client's error.
type Error struct {
	Kind     error
	Machine  string
	Snapshot string
	Msg      string
	Err      error
}

// NewError returns a new *Error of the given kind.
func NewError(kind error, machine, snapshot string, cause error) *Error {
	return &Error{
		Kind:     kind,
		Machine:  machine,
		Snapshot: snapshot,
		Err:      cause,
	}
}

// WithMessage sets a free-form detail appended to the error string.
func (e *Error) WithMessage(format string, args ...any) *Error {
	e.Msg = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString("machinery: ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString(ErrMachinery.Error())
	}

	if e.Machine != "" {
		fmt.Fprintf(&b, " (machine %q", e.Machine)
		if e.Snapshot != "" {
			fmt.Fprintf(&b, ", snapshot %q", e.Snapshot)
		}
		b.WriteString(")")
	} else if e.Snapshot != "" {
		fmt.Fprintf(&b, " (snapshot %q)", e.Snapshot)
	}

	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Is reports whether target is ErrMachinery or the kind of this error.
func (e *Error) Is(target error) bool {
	return target == ErrMachinery || (e.Kind != nil && target == e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err if it is, or wraps, an *Error. It returns nil
// otherwise.
func KindOf(err error) error {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return nil
}
