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
	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
	"github.com/googlecloudplatform/fildestx/internal/logger"
	"github.com/googlecloudplatform/fildestx/internal/metrics"
)

// Commit implements spec.md §4.6's commit protocol. Locks were already
// acquired incrementally during exec via non-blocking try-locks (field
// words and range-lock words never block, per spec.md §5); because a
// transaction can never be mid-acquire when another commits, the
// cross-file lock-ordering sort spec.md §4.6 step 2 calls for (to avoid
// deadlock among blocking acquirers) has no blocking acquisition left to
// order here. This engine keeps the sort for fildes/ofd touched-sets
// purely to make validate and apply deterministic and easy to test, a
// deliberate simplification recorded in DESIGN.md.
func (t *Tx) Commit() error {
	if t.done {
		return fildeserr.Fatalf("tx: commit called on a finished transaction")
	}
	start := t.eng.clock.Now()

	if err := t.validate(); err != nil {
		t.Rollback()
		return err
	}

	if err := t.applyEvents(); err != nil {
		metrics.CommitFailed()
		return err
	}

	t.updateCC()
	t.finish()
	t.committed = true
	t.done = true

	metrics.CommitSucceeded(t.eng.clock.Now().Sub(start))
	logger.Debugf("tx[%s]: commit ok (%d fildes, %d events)", t.id, len(t.fds), len(t.events))
	return nil
}

// validate implements spec.md §4.6 step 3 over the sorted fildes set.
func (t *Tx) validate() error {
	for _, fildes := range t.sortedFildes() {
		e := t.fds[fildes]
		if err := e.slot.Validate(e.acquiredVersion, e.localStateChanged, e.closedByTx); err != nil {
			metrics.ConflictDetected("validate")
			return err
		}
	}
	return nil
}

// applyEvents implements spec.md §4.6 step 4: replay the log in order.
// fd-creating and fd-closing events (open/close/pipe/dup/accept/socket)
// have no-op applies per spec.md §4.5; only regfile/chrdev/socket OFD
// effects and fsync/sync need real work, and every ofd_tx's effects are
// fully captured by running its Apply* methods once regardless of how
// many log entries reference it, which is equivalent to "adjacent
// same-call runs batched" for these call kinds.
func (t *Tx) applyEvents() error {
	appliedOFD := make(map[*fdEntry]bool, len(t.fds))
	needsFsync := make(map[*fdEntry]bool, len(t.fds))

	for _, ev := range t.events {
		e, ok := t.fds[ev.Fildes]
		if !ok {
			continue // CallSync carries Fildes == -1
		}
		switch ev.Call {
		case CallFsync:
			needsFsync[e] = true
		case CallWrite, CallPwrite, CallRead, CallPread, CallLseek, CallSend, CallListen:
			if !appliedOFD[e] {
				appliedOFD[e] = true
				if err := t.applyOFD(e); err != nil {
					return err
				}
			}
		}
	}

	for e := range needsFsync {
		if e.cc == file.TwoPL { // NoUndo already ran fsync at exec time
			if err := e.ofd.ApplyFsync(); err != nil {
				return err
			}
		}
	}

	for _, ev := range t.events {
		if ev.Call == CallSync {
			kfd.Sync()
		}
	}
	return nil
}

func (t *Tx) applyOFD(e *fdEntry) error {
	switch e.file.Variant() {
	case fileid.VariantRegular:
		if err := e.ofd.ApplyWrites(); err != nil {
			return err
		}
		return nil
	case fileid.VariantChrdev:
		if err := e.ofd.ApplyChrdevReadSeek(); err != nil {
			return err
		}
		return nil
	case fileid.VariantSocket:
		if err := e.ofd.ApplySocketSends(0); err != nil {
			return err
		}
		if err := e.ofd.ApplyListen(); err != nil {
			return err
		}
		return nil
	}
	return nil
}

// updateCC implements spec.md §4.6 step 5: release every field and
// range lock this transaction holds, per ofd; the fd layer holds no
// locks to release.
func (t *Tx) updateCC() {
	ofds := t.sortedOFDs()
	for i := len(ofds) - 1; i >= 0; i-- {
		otx := ofds[i]
		if otx.File.Variant() == fileid.VariantRegular && otx.Range != nil {
			otx.File.Range.Unlock(otx.Range)
		}
		otx.UnlockFields()
	}
}

// finish implements spec.md §4.6 step 7: drop every reference this
// transaction holds, cascading into the Closing->Unused kernel close(2)
// for any slot this transaction closed.
func (t *Tx) finish() {
	for _, fildes := range t.sortedFildes() {
		e := t.fds[fildes]
		if err := e.slot.Unref(); err != nil {
			logger.Errorf("tx[%s]: finish: closing fildes %d: %v", t.id, fildes, err)
		}
	}
	t.releaseAdmission()
}
