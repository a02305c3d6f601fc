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

package tx

import (
	"github.com/google/uuid"

	"github.com/googlecloudplatform/fildestx/internal/fildes/cmap"
	"github.com/googlecloudplatform/fildestx/internal/fildes/fd"
	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/ofd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
)

// CallKind tags one event log entry so commit/rollback knows which
// apply/undo function to run (spec.md §3.7, §9 "the event log").
type CallKind int

const (
	CallRead CallKind = iota
	CallWrite
	CallPread
	CallPwrite
	CallLseek
	CallOpen
	CallClose
	CallPipe
	CallDup
	CallFcntlSetFD
	CallFsync
	CallSync
	CallAccept
	CallBind
	CallConnect
	CallListen
	CallSend
	CallRecv
	CallShutdown
	CallSocket
)

// Event is one entry of spec.md §3.7's event_log: {call_kind, cookie}.
// Fildes identifies which fdEntry/ofd_tx the event replays against;
// Cookie indexes into openRecords for CallOpen and is otherwise unused,
// since every other call's ancillary data already lives inside the
// owning ofd_tx (WriteOps/ReadOps/SeekOps) or fdEntry (wantNewOpened).
type Event struct {
	Call   CallKind
	Fildes int
	Cookie int
}

// openRecord is the ancillary table entry spec.md §3.7 calls "openop":
// enough to undo an O_CREAT|O_EXCL open by unlinking the path it just
// created, per spec.md §4.5.
type openRecord struct {
	path          string
	unlinkOnAbort bool
}

// fdEntry is fd_tx (spec.md §3.5): the per-transaction state for one
// fildes. fildes < 0 would mean "no reference" in the original; here a
// missing map entry plays that role instead.
type fdEntry struct {
	fildes  int
	slot    *fd.FD
	file    *file.File
	ofd     *ofd.OFDTx
	cc      file.CCMode

	acquiredVersion   uint64
	localStateChanged bool // LOCALSTATE flag (spec.md §3.5)
	cloexec           bool

	// cloexecChanged/cloexecBefore let rollback restore the fildes-local
	// CLOEXEC bit this transaction mutated via F_SETFD, since that
	// mutation (unlike every buffered OFD effect) is applied immediately
	// at exec and has no other undo path.
	cloexecChanged bool
	cloexecBefore  bool

	// wantNewOpened marks that this transaction itself created this
	// binding via open/pipe/dup/accept/socket (spec.md §4.5's "assigns a
	// fresh binding WANTNEW"). On rollback such fildes are closed
	// (undo_open/undo_pipe/undo_dup/undo_accept/undo_socket); on commit
	// they simply remain open.
	wantNewOpened bool

	// closedByTx records that this transaction called close(fildes)
	// (spec.md §4.5's close contract): at commit the slot's Closing
	// transition (already applied at exec time by fd.FD.Close) stands;
	// at rollback undoEvents reverses it with fd.FD.Reopen. This engine
	// flips the slot to Closing immediately at exec (see ExecClose)
	// because fd.FD's state machine has no separate "pending close"
	// stage; validate uses this flag so the transaction does not
	// conflict with its own close.
	closedByTx bool
}

// Tx is fildes_tx (spec.md §3.7): the transaction root. It is not safe
// for concurrent use by more than one goroutine — exactly one goroutine
// drives one transaction at a time, per spec.md §5's scheduling model.
type Tx struct {
	// id is this transaction's identity for logging/tracing only — it
	// has no bearing on commit ordering or conflict detection, which key
	// entirely off fildes and file-id.
	id uuid.UUID

	eng *Engine

	irrevocable bool // whole-transaction NoUndo override (spec.md §6.1)

	fds    map[int]*fdEntry
	events []Event

	openRecords []openRecord

	committed bool
	done      bool

	// semHeld marks that Begin acquired eng.sem's admission slot for
	// this transaction (Config.MaxConcurrentTx > 0); finish/finishAbort
	// release it exactly once.
	semHeld bool
}

// ID returns this transaction's log/trace identifier.
func (t *Tx) ID() uuid.UUID {
	return t.id
}

// releaseAdmission returns this transaction's admission slot, if Begin
// acquired one. Called from both finish (commit) and finishAbort
// (rollback) so the slot frees up on every exit path.
func (t *Tx) releaseAdmission() {
	if t.semHeld {
		t.eng.sem.Release(1)
		t.semHeld = false
	}
}

// ccModeFor resolves the CC mode an operation on f should use: the
// transaction-wide irrevocable override, if set, takes precedence over
// the file's own configured default (spec.md §6.2's is_noundo argument
// layered over §6.3's per-file-type default).
func (t *Tx) ccModeFor(f *file.File) file.CCMode {
	if t.irrevocable {
		return file.NoUndo
	}
	return f.CCMode()
}

// resolveFD looks up or lazily creates this transaction's fd_tx entry
// for fildes (spec.md §4's "looks up, or lazily initializes, the fd_tx
// for the fildes"). wantNew forces a fresh binding; open/pipe/dup/
// accept/socket obtain theirs through bindNew instead, so they never
// silently reuse another transaction's OFD for a newly minted kernel
// fildes.
func (t *Tx) resolveFD(fildes int, wantNew bool) (*fdEntry, error) {
	if e, ok := t.fds[fildes]; ok {
		if wantNew {
			return nil, fildeserr.Conflict("tx: fildes already bound in this transaction")
		}
		return e, nil
	}

	slot := t.eng.fdTab.Slot(fildes)
	var boundFile *file.File
	f, version, err := slot.Acquire(wantNew, func() (*file.File, error) {
		bf, err := t.eng.refFildes(fildes)
		boundFile = bf
		return bf, err
	})
	if err != nil {
		return nil, err
	}
	if boundFile == nil {
		boundFile = f
	}

	ccMode := t.ccModeFor(f)
	otx, err := ofd.New(f, fildes, 0)
	if err != nil {
		slot.Unref()
		return nil, fildeserr.Errno(err)
	}
	if t.irrevocable {
		otx.CCMode = file.NoUndo
	} else {
		otx.CCMode = ccMode
	}

	e := &fdEntry{
		fildes:          fildes,
		slot:            slot,
		file:            f,
		ofd:             otx,
		cc:              otx.CCMode,
		acquiredVersion: version,
		cloexec:         slot.Cloexec(),
	}
	t.fds[fildes] = e
	return e, nil
}

// bindNew registers a brand-new fildes this transaction itself produced
// (open/pipe/dup/accept/socket), wiring its OFD directly rather than
// going through the engine's file table a second time — the real
// syscall already proves this is a fresh kernel object.
func (t *Tx) bindNew(fildes int, f *file.File, wantNewOpened bool) (*fdEntry, error) {
	slot := t.eng.fdTab.Slot(fildes)
	_, version, err := slot.Acquire(true, func() (*file.File, error) { return f, nil })
	if err != nil {
		return nil, err
	}
	ccMode := t.ccModeFor(f)
	if t.irrevocable {
		ccMode = file.NoUndo
	}
	otx, err := ofd.New(f, fildes, 0)
	if err != nil {
		slot.Unref()
		return nil, fildeserr.Errno(err)
	}
	otx.CCMode = ccMode

	e := &fdEntry{
		fildes:          fildes,
		slot:            slot,
		file:            f,
		ofd:             otx,
		cc:              ccMode,
		acquiredVersion: version,
		wantNewOpened:   wantNewOpened,
	}
	t.fds[fildes] = e
	return e, nil
}

func (t *Tx) log(call CallKind, fildes, cookie int) {
	t.events = append(t.events, Event{Call: call, Fildes: fildes, Cookie: cookie})
}

// sortedFildes returns the fildes touched by this transaction, ascending
// (spec.md §4.6 step 1's locked_fildes_sorted), via cmap.SortedKeys, the
// same helper sortedOFDs uses.
func (t *Tx) sortedFildes() []int {
	out := make([]int, 0, len(t.fds))
	for fildes := range t.fds {
		out = append(out, fildes)
	}
	return cmap.SortedKeys(out, func(a, b int) bool { return a < b })
}

// sortedOFDs returns the distinct *file.File records touched, ordered by
// file-id, deduplicating fildes that dup to the same OFD (spec.md §4.6
// step 1's locked_ofd_sorted).
func (t *Tx) sortedOFDs() []*ofd.OFDTx {
	seen := make(map[*file.File]*ofd.OFDTx, len(t.fds))
	for _, e := range t.fds {
		seen[e.file] = e.ofd
	}
	files := make([]*file.File, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	files = cmap.SortedKeys(files, func(a, b *file.File) bool { return a.ID().Less(b.ID()) })
	out := make([]*ofd.OFDTx, 0, len(files))
	for _, f := range files {
		out = append(out, seen[f])
	}
	return out
}
