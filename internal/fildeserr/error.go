// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fildeserr defines the error taxonomy the file-descriptor
// transaction engine reports to its callers (see spec.md §7).
package fildeserr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so that a host STM can decide how to
// react: propagate to userspace, restart irrevocably, or roll back and
// retry.
type Kind int

const (
	// KindErrno wraps a passthrough kernel errno. The caller may propagate
	// it unchanged to userspace.
	KindErrno Kind = iota
	// KindRevocable means the attempted operation has no undo support under
	// the transaction's current CC mode. The host should restart the
	// transaction in NoUndo (irrevocable) mode.
	KindRevocable
	// KindConflict means a concurrent transaction precludes success. The
	// caller must abort and may retry.
	KindConflict
	// KindResource covers out-of-memory and similar internal allocation
	// failures. The transaction aborts and may be retried.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindErrno:
		return "errno"
	case KindRevocable:
		return "revocable"
	case KindConflict:
		return "conflict"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by the engine. Errno is only
// meaningful when Kind == KindErrno.
type Error struct {
	Kind  Kind
	Errno error // underlying syscall.Errno, wrapped so callers can errors.Is it
	msg   string

	// Fatal marks an error raised while applying or undoing an already
	// logged event, or while an internal lock primitive failed. Such
	// errors are non-recoverable: the commit or rollback in progress
	// cannot proceed, and the host's recover_from_error hook (spec.md
	// §6.1) is the only way forward.
	Fatal bool
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	switch e.Kind {
	case KindErrno:
		return fmt.Sprintf("fildestx: %v", e.Errno)
	case KindRevocable:
		return "fildestx: operation has no undo in the current cc mode"
	case KindConflict:
		return "fildestx: conflicting concurrent transaction"
	case KindResource:
		return "fildestx: resource exhausted"
	default:
		return "fildestx: unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Errno }

// Errno wraps a kernel errno as a KindErrno error.
func Errno(err error) *Error {
	return &Error{Kind: KindErrno, Errno: err}
}

// Revocable reports that the call has no undo under the transaction's
// current CC mode.
func Revocable() *Error {
	return &Error{Kind: KindRevocable}
}

// Conflict reports that a concurrent transaction precludes success. msg,
// if non-empty, is used verbatim as the error text (useful for tests and
// logging that want to name the conflicting resource).
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, msg: msg}
}

// Resource reports an internal allocation failure (out of memory, a full
// file table, and the like).
func Resource(msg string) *Error {
	return &Error{Kind: KindResource, msg: msg}
}

// Fatalf builds a non-recoverable error, for failures raised while
// applying or undoing an already-committed-to event, or when an internal
// lock primitive itself fails (spec.md §7).
func Fatalf(format string, args ...any) *Error {
	return &Error{Kind: KindResource, msg: fmt.Sprintf(format, args...), Fatal: true}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsConflict is shorthand for Is(err, KindConflict).
func IsConflict(err error) bool { return Is(err, KindConflict) }

// IsRevocable is shorthand for Is(err, KindRevocable).
func IsRevocable(err error) bool { return Is(err, KindRevocable) }

// IsFatal reports whether err is a non-recoverable engine error.
func IsFatal(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Fatal
	}
	return false
}
