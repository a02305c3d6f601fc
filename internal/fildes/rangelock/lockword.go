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

package rangelock

import "sync/atomic"

// Word is picotm's picotm_rwlock (original_source lib/modules/libc/src,
// used throughout fd/*_tx.c for per-field locking) expressed as a single
// lock-free reader/writer lock: a reader count packed into the low 31
// bits and a writer-present bit in the top bit. It backs both the
// per-record cells of the byte-range map (spec.md §4.2) and the
// independent per-field locks on a file record (spec.md §3.2, §4.1),
// which is why it is exported from this package rather than kept
// private to the range map.
//
// Word never blocks: every acquire either succeeds immediately or
// reports failure, which callers surface as a Conflict (spec.md §5:
// "no transaction ever blocks waiting for another transaction's
// commit").
type Word struct {
	v atomic.Uint32
}

const (
	writerBit  uint32 = 1 << 31
	readerMask uint32 = writerBit - 1
)

// TryRLock acquires one more reader unless a writer is present.
func (w *Word) TryRLock() bool {
	for {
		cur := w.v.Load()
		if cur&writerBit != 0 {
			return false
		}
		if cur&readerMask == readerMask {
			return false // overflow guard, practically unreachable
		}
		if w.v.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// TryWLock acquires a fresh write lock (no prior reader), counting the
// caller as its own single reader the way spec.md §4.2 describes.
func (w *Word) TryWLock() bool {
	return w.v.CompareAndSwap(0, writerBit|1)
}

// TryUpgrade promotes the caller's existing read lock to a write lock.
// It only succeeds if the caller is the single reader.
func (w *Word) TryUpgrade() bool {
	cur := w.v.Load()
	if cur&writerBit != 0 || cur&readerMask != 1 {
		return false
	}
	return w.v.CompareAndSwap(cur, cur|writerBit)
}

// UnlockRead releases one reader slot.
func (w *Word) UnlockRead() {
	w.v.Add(^uint32(0)) // -1
}

// UnlockWrite releases the writer bit and the caller's own reader slot.
func (w *Word) UnlockWrite() {
	for {
		cur := w.v.Load()
		next := (cur &^ writerBit) - 1
		if w.v.CompareAndSwap(cur, next) {
			return
		}
	}
}
