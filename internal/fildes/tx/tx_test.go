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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/googlecloudplatform/fildestx/clock"
	"github.com/googlecloudplatform/fildestx/internal/fildes/ofd"
)

type TxTest struct {
	suite.Suite
	dir string
	eng *Engine
}

func TestTxSuite(t *testing.T) {
	suite.Run(t, new(TxTest))
}

func (s *TxTest) SetupTest() {
	s.dir = s.T().TempDir()
	s.eng = NewEngine(DefaultConfig(64))
}

func (s *TxTest) path(name string) string {
	return filepath.Join(s.dir, name)
}

// TestWriteCommitIsDurable checks that a committed write reaches the
// kernel file: after Commit, reading the path directly returns the
// written bytes.
func (s *TxTest) TestWriteCommitIsDurable() {
	path := s.path("committed.txt")

	t1 := s.eng.Begin(false)
	fildes, err := t1.ExecOpen(unix.AT_FDCWD, path, unix.O_RDWR|unix.O_CREAT, 0644)
	require.NoError(s.T(), err)
	n, err := t1.ExecWrite(fildes, []byte("hello"))
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 5, n)
	require.NoError(s.T(), t1.Commit())

	got, err := os.ReadFile(path)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "hello", string(got))
}

// TestWriteRollbackLeavesNoTrace checks spec.md §8 invariant 7: no effect
// of an aborted transaction is ever observable, including the file it
// itself created.
func (s *TxTest) TestWriteRollbackLeavesNoTrace() {
	path := s.path("aborted.txt")

	t1 := s.eng.Begin(false)
	fildes, err := t1.ExecOpen(unix.AT_FDCWD, path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0644)
	require.NoError(s.T(), err)
	_, err = t1.ExecWrite(fildes, []byte("gone"))
	require.NoError(s.T(), err)
	require.NoError(s.T(), t1.Rollback())

	_, err = os.Stat(path)
	assert.True(s.T(), os.IsNotExist(err), "O_EXCL-created file must be unlinked on abort")
}

// TestCloseRollbackReopensSlot checks that undoing a close leaves the
// descriptor exactly as it was: still bound, still usable by the next
// transaction.
func (s *TxTest) TestCloseRollbackReopensSlot() {
	path := s.path("reopen.txt")
	require.NoError(s.T(), os.WriteFile(path, []byte("x"), 0644))

	fildes, err := unix.Open(path, unix.O_RDWR, 0)
	require.NoError(s.T(), err)
	defer unix.Close(fildes)

	t1 := s.eng.Begin(false)
	require.NoError(s.T(), t1.ExecClose(fildes))
	require.NoError(s.T(), t1.Rollback())

	slot := s.eng.fdTab.Slot(fildes)
	assert.Equal(s.T(), "InUse", slot.State().String())

	t2 := s.eng.Begin(false)
	_, err = t2.ExecWrite(fildes, []byte("y"))
	assert.NoError(s.T(), err)
	require.NoError(s.T(), t2.Commit())
}

// TestFcntlSetFDRollbackRestoresCloexec checks that F_SETFD's immediate
// mutation, unlike every buffered OFD effect, is explicitly undone.
func (s *TxTest) TestFcntlSetFDRollbackRestoresCloexec() {
	path := s.path("cloexec.txt")
	require.NoError(s.T(), os.WriteFile(path, []byte("x"), 0644))

	fildes, err := unix.Open(path, unix.O_RDWR, 0)
	require.NoError(s.T(), err)
	defer unix.Close(fildes)

	t1 := s.eng.Begin(false)
	_, err = t1.ExecFcntl(fildes, unix.F_SETFD, unix.FD_CLOEXEC)
	require.NoError(s.T(), err)
	require.NoError(s.T(), t1.Rollback())

	slot := s.eng.fdTab.Slot(fildes)
	assert.False(s.T(), slot.Cloexec())
}

// TestFcntlLockSetAndGetRoundTrip checks the supplemented F_SETLK/F_GETLK
// fcntl forms (SPEC_FULL.md) actually reach the kernel: F_SETLK installs a
// write lock this process holds, and a subsequent F_GETLK against the same
// range, issued while that lock is still held, reports l_type == F_UNLCK
// because a process's own lock never conflicts with its own query, rather
// than the call silently dispatching through ExecFcntlSetNoUndo.
func (s *TxTest) TestFcntlLockSetAndGetRoundTrip() {
	path := s.path("locked.txt")
	require.NoError(s.T(), os.WriteFile(path, []byte("0123456789"), 0644))

	t1 := s.eng.Begin(true) // irrevocable: F_SETLK/F_SETLKW are NoUndo-only
	fildes, err := t1.ExecOpen(unix.AT_FDCWD, path, unix.O_RDWR, 0)
	require.NoError(s.T(), err)

	lk := &unix.Flock_t{Type: unix.F_WRLCK, Whence: int16(unix.SEEK_SET), Start: 0, Len: 4}
	require.NoError(s.T(), t1.ExecFcntlLock(fildes, unix.F_SETLK, lk))

	query := &unix.Flock_t{Type: unix.F_WRLCK, Whence: int16(unix.SEEK_SET), Start: 0, Len: 4}
	require.NoError(s.T(), t1.ExecFcntlLock(fildes, unix.F_GETLK, query))
	assert.EqualValues(s.T(), unix.F_UNLCK, query.Type, "own lock must not show as a conflict against itself")

	require.NoError(s.T(), t1.Commit())
}

// TestFcntlLockRejectsUnknownCmd checks ExecFcntlLock doesn't silently
// accept a cmd it doesn't understand.
func (s *TxTest) TestFcntlLockRejectsUnknownCmd() {
	path := s.path("badcmd.txt")
	require.NoError(s.T(), os.WriteFile(path, []byte("x"), 0644))

	t1 := s.eng.Begin(true)
	fildes, err := t1.ExecOpen(unix.AT_FDCWD, path, unix.O_RDWR, 0)
	require.NoError(s.T(), err)

	err = t1.ExecFcntlLock(fildes, unix.F_GETFL, &unix.Flock_t{})
	assert.Error(s.T(), err)

	require.NoError(s.T(), t1.Rollback())
}

// TestPipeNoUndoWriteIsImmediatelyVisible checks spec.md §4.5's pipe/FIFO
// write contract: a write forces NoUndo and lands in the kernel pipe at
// exec time, not at commit.
func (s *TxTest) TestPipeNoUndoWriteIsImmediatelyVisible() {
	t1 := s.eng.Begin(true) // irrevocable: forces every op to NoUndo
	r, w, err := t1.ExecPipe(false)
	require.NoError(s.T(), err)

	_, err = t1.ExecWrite(w, []byte("ping"))
	require.NoError(s.T(), err)

	buf := make([]byte, 4)
	n, rerr := unix.Read(r, buf)
	require.NoError(s.T(), rerr)
	assert.Equal(s.T(), "ping", string(buf[:n]))

	require.NoError(s.T(), t1.Commit())
}

// TestDupSharesOFD checks the supplemented "ofdid" feature: two fildes
// produced by dup resolve to the same ofd_tx, so a write through one is
// visible to a read through the other inside the same transaction.
func (s *TxTest) TestDupSharesOFD() {
	path := s.path("dup.txt")

	t1 := s.eng.Begin(false)
	fildes, err := t1.ExecOpen(unix.AT_FDCWD, path, unix.O_RDWR|unix.O_CREAT, 0644)
	require.NoError(s.T(), err)
	dupFildes, err := t1.ExecDup(fildes, false)
	require.NoError(s.T(), err)

	e1 := t1.fds[fildes]
	e2 := t1.fds[dupFildes]
	assert.Same(s.T(), e1.ofd, e2.ofd)

	require.NoError(s.T(), t1.Commit())
}

// TestCommitTimingUsesInjectedClock checks that an injected Config.Clock
// becomes the engine's clock, the one Commit reads its start and end
// times from, and that a commit with a SimulatedClock
// (clock/simulated_clock.go) advanced in between succeeds.
func (s *TxTest) TestCommitTimingUsesInjectedClock() {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	cfg := DefaultConfig(64)
	cfg.Clock = sc
	eng := NewEngine(cfg)

	path := filepath.Join(s.dir, "timed.txt")
	tr := eng.Begin(false)
	fildes, err := tr.ExecOpen(unix.AT_FDCWD, path, unix.O_RDWR|unix.O_CREAT, 0644)
	require.NoError(s.T(), err)
	_, err = tr.ExecWrite(fildes, []byte("x"))
	require.NoError(s.T(), err)

	sc.AdvanceTime(3 * time.Second)
	require.NoError(s.T(), tr.Commit())

	assert.Equal(s.T(), sc, eng.clock)
}

// TestBeginAssignsDistinctIDs checks every transaction gets its own
// log/trace identity, even two begun back to back from the same engine.
func (s *TxTest) TestBeginAssignsDistinctIDs() {
	t1 := s.eng.Begin(false)
	t2 := s.eng.Begin(false)
	assert.NotEqual(s.T(), uuid.Nil, t1.ID())
	assert.NotEqual(s.T(), uuid.Nil, t2.ID())
	assert.NotEqual(s.T(), t1.ID(), t2.ID())

	require.NoError(s.T(), t1.Commit())
	require.NoError(s.T(), t2.Commit())
}

// TestMaxConcurrentTxBoundsAdmission checks that Begin blocks once
// Config.MaxConcurrentTx transactions are outstanding, and unblocks the
// instant one of them finishes (here, via Rollback).
func TestMaxConcurrentTxBoundsAdmission(t *testing.T) {
	cfg := DefaultConfig(64)
	cfg.MaxConcurrentTx = 1
	eng := NewEngine(cfg)

	first := eng.Begin(false)

	began := make(chan *Tx, 1)
	go func() { began <- eng.Begin(false) }()

	select {
	case <-began:
		t.Fatal("second Begin admitted while the admission slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	first.Rollback()

	select {
	case second := <-began:
		second.Rollback()
	case <-time.After(time.Second):
		t.Fatal("second Begin never admitted after the first transaction finished")
	}
}

// TestNewEngineAppliesListenPreflightTimeout checks that a non-zero
// Config.ListenPreflightTimeout overrides the ofd package's default
// preflight window for every listen() this engine's transactions issue.
func TestNewEngineAppliesListenPreflightTimeout(t *testing.T) {
	defer func() { ofd.ListenPreflightTimeout = 10 * time.Second }()

	cfg := DefaultConfig(64)
	cfg.ListenPreflightTimeout = 3 * time.Second
	NewEngine(cfg)

	assert.Equal(t, 3*time.Second, ofd.ListenPreflightTimeout)
}
