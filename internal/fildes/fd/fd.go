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

// Package fd implements the L5 layer of spec.md: the per-fildes
// descriptor slot state machine (spec.md §3.4, §4.4).
package fd

import (
	"sync"

	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// State is one of the three states a descriptor slot may be in.
type State int

const (
	Unused State = iota
	InUse
	Closing
)

func (s State) String() string {
	switch s {
	case Unused:
		return "Unused"
	case InUse:
		return "InUse"
	case Closing:
		return "Closing"
	default:
		return "unknown"
	}
}

// FD is the per-fildes slot (spec.md §3.4): it tracks which fildes is
// claimed by a transaction and carries fildes-local state such as
// FD_CLOEXEC behind a monotonically non-decreasing version counter
// (invariant: slot monotonicity, spec.md §8.3).
type FD struct {
	mu sync.Mutex

	fildes  int
	state   State
	ref     int
	version uint64
	cloexec bool

	file *file.File

	// closeFn issues the real close(2) when the last reference to a
	// Closing slot drops. Injected so tests can intern synthetic
	// descriptors without touching the kernel.
	closeFn func(fildes int) error
}

// New creates an Unused slot for fildes. closeFn performs the real
// kernel close when the slot's last reference drops while Closing.
func New(fildes int, closeFn func(int) error) *FD {
	return &FD{fildes: fildes, closeFn: closeFn}
}

// Fildes returns the kernel descriptor number this slot tracks.
func (f *FD) Fildes() int { return f.fildes }

// State reports the slot's current state.
func (f *FD) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Version reports the slot's current version counter.
func (f *FD) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// Cloexec reports the slot's current FD_CLOEXEC bit.
func (f *FD) Cloexec() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cloexec
}

// Acquire implements spec.md §4.4's ref_state. If the slot is Unused it
// is bound via resolve (a filetab lookup performed by the caller);
// wantNew forces Conflict against an existing InUse binding so a fresh
// one is created instead (used by open/pipe/dup/accept/socket, which
// must never silently share another transaction's OFD).
func (f *FD) Acquire(wantNew bool, resolve func() (*file.File, error)) (*file.File, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Closing:
		return nil, 0, fildeserr.Conflict("fd: slot is closing")
	case InUse:
		if wantNew {
			return nil, 0, fildeserr.Conflict("fd: caller wanted a fresh binding")
		}
		f.ref++
		return f.file, f.version, nil
	default: // Unused
		bound, err := resolve()
		if err != nil {
			return nil, 0, err
		}
		f.file = bound
		f.state = InUse
		f.ref = 1
		f.version++
		return f.file, f.version, nil
	}
}

// Close transitions an InUse slot to Closing (spec.md §4.4). It does not
// decrement the reference count; the real close(2) happens when the
// last reference is dropped via Unref.
func (f *FD) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Closing:
		return fildeserr.Conflict("fd: already closing")
	case Unused:
		return fildeserr.Conflict("fd: not open")
	default:
		f.state = Closing
		return nil
	}
}

// Reopen reverses a close this transaction itself performed on this
// transaction's own abort: spec.md §4.5's close undo "leaves the slot as
// it was" means the Closing transition close's exec applied must vanish,
// since no effect of an aborted transaction may be observable (spec.md
// §8 invariant 7). It is a no-op if the slot is not Closing.
func (f *FD) Reopen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Closing {
		f.state = InUse
	}
}

// SetCloexec mutates the fildes-local CLOEXEC bit and bumps the version
// counter, so that any concurrent transaction validating against an
// older snapshot of this slot sees a Conflict (spec.md §4.4/§7).
func (f *FD) SetCloexec(v bool) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cloexec = v
	f.version++
	return f.version
}

// Validate implements spec.md §4.4's fd_tx.validate predicate: Conflict
// if the slot moved to Closing after acquisition by someone other than
// the validating transaction itself, or if localStateChanged is set and
// the slot's version has advanced past acquiredVersion.
func (f *FD) Validate(acquiredVersion uint64, localStateChanged, selfClosing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Closing && !selfClosing {
		return fildeserr.Conflict("fd: slot closed by a concurrent transaction")
	}
	if localStateChanged && f.version > acquiredVersion {
		return fildeserr.Conflict("fd: fildes-local state changed since acquisition")
	}
	return nil
}

// Unref drops one reference. When the last reference drops, the slot
// returns to Unused; if it was Closing, the real kernel close(2) runs
// first. Either way the bound file's own reference is dropped, matching
// spec.md §4.4's "file ref dropped" side effect.
func (f *FD) Unref() error {
	f.mu.Lock()

	f.ref--
	if f.ref < 0 {
		f.mu.Unlock()
		panic("fd: negative reference count")
	}
	if f.ref > 0 {
		f.mu.Unlock()
		return nil
	}

	wasClosing := f.state == Closing
	bound := f.file
	f.file = nil
	f.state = Unused
	fildes := f.fildes
	closeFn := f.closeFn
	f.mu.Unlock()

	if bound != nil {
		bound.Unref()
	}
	if wasClosing && closeFn != nil {
		return closeFn(fildes)
	}
	return nil
}

// Table is the process-wide collection of descriptor slots, one per
// fildes, lazily created on first touch (spec.md §3.4: "index is the
// fildes itself").
type Table struct {
	mu      sync.Mutex
	slots   map[int]*FD
	closeFn func(int) error
}

// NewTable creates an empty descriptor table. closeFn is used to issue
// the real close(2) for every slot it creates.
func NewTable(closeFn func(int) error) *Table {
	return &Table{slots: make(map[int]*FD), closeFn: closeFn}
}

// Slot returns (creating if necessary) the FD for fildes.
func (t *Table) Slot(fildes int) *FD {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[fildes]; ok {
		return s
	}
	s := New(fildes, t.closeFn)
	t.slots[fildes] = s
	return s
}

// Len reports how many slots have ever been touched, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
