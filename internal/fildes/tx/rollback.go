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
	"github.com/googlecloudplatform/fildestx/internal/fildes/kfd"
	"github.com/googlecloudplatform/fildestx/internal/fildeserr"
	"github.com/googlecloudplatform/fildestx/internal/logger"
	"github.com/googlecloudplatform/fildestx/internal/metrics"
)

// Rollback implements spec.md §4.6's abort protocol: undo the event log in
// reverse, release every lock this transaction holds, and drop its
// references — closing, for real, every fildes this transaction itself
// created (open/pipe/dup/accept/socket), since none of their effects may
// remain observable (spec.md §8 invariant 7).
func (t *Tx) Rollback() error {
	if t.done {
		return fildeserr.Fatalf("tx: rollback called on a finished transaction")
	}

	t.undoEvents()
	t.clearCC()
	t.finishAbort()

	t.done = true
	metrics.TxAborted()
	logger.Debugf("tx[%s]: rollback (%d fildes, %d events)", t.id, len(t.fds), len(t.events))
	return nil
}

// undoEvents replays the log back to front. Only three call kinds need
// explicit reversal here: every buffered OFD effect (writes, sends,
// listen) simply never reaches applyEvents and is discarded along with
// the ofd_tx itself, and every newly created fildes is closed for real by
// finishAbort regardless of which call produced it.
func (t *Tx) undoEvents() {
	for i := len(t.events) - 1; i >= 0; i-- {
		ev := t.events[i]
		switch ev.Call {
		case CallOpen:
			rec := t.openRecords[ev.Cookie]
			if rec.unlinkOnAbort {
				e, ok := t.fds[ev.Fildes]
				st, err := kfd.Stat(rec.path)
				if ok && err == nil && uint64(st.Dev) == e.file.ID().Device && st.Ino == e.file.ID().Inode {
					if err := kfd.Unlink(rec.path); err != nil {
						logger.Errorf("tx[%s]: rollback: unlinking %s: %v", t.id, rec.path, err)
					}
				}
			}
		case CallClose:
			if e, ok := t.fds[ev.Fildes]; ok {
				e.slot.Reopen()
			}
		case CallFcntlSetFD:
			if e, ok := t.fds[ev.Fildes]; ok && e.cloexecChanged {
				e.slot.SetCloexec(e.cloexecBefore)
			}
		}
	}
}

// clearCC releases every lock this transaction holds, mirroring updateCC:
// locks are released the same way on every exit path, committed or not.
func (t *Tx) clearCC() {
	t.updateCC()
}

// finishAbort mirrors finish, but first closes every fildes this
// transaction itself minted so its kernel object vanishes along with the
// transaction, rather than simply dropping the reference finish takes on
// the commit path.
func (t *Tx) finishAbort() {
	for _, fildes := range t.sortedFildes() {
		e := t.fds[fildes]
		if e.wantNewOpened {
			if err := e.slot.Close(); err != nil && !fildeserr.IsConflict(err) {
				logger.Errorf("tx[%s]: rollback: marking fildes %d for close: %v", t.id, fildes, err)
			}
		}
		if err := e.slot.Unref(); err != nil {
			logger.Errorf("tx[%s]: rollback: closing fildes %d: %v", t.id, fildes, err)
		}
	}
	t.releaseAdmission()
}
