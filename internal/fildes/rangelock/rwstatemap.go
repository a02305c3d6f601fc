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

import "sort"

// State is the lock kind a transaction locally holds on one record.
type State uint8

const (
	StateUnlocked State = iota
	StateRead
	StateWrite
)

// StateMap is the per-transaction shadow of RWLockMap: which records
// this transaction has locked and how (spec.md §4.2's rwstatemap). It
// is not safe for concurrent use; each transaction owns exactly one.
type StateMap struct {
	held map[uint64]State
}

// NewStateMap creates an empty shadow.
func NewStateMap() *StateMap {
	return &StateMap{held: make(map[uint64]State)}
}

func (sm *StateMap) get(record uint64) (State, bool) {
	st, ok := sm.held[record]
	return st, ok
}

func (sm *StateMap) set(record uint64, st State) {
	sm.held[record] = st
}

func (sm *StateMap) clear(record uint64) {
	delete(sm.held, record)
}

func (sm *StateMap) reset() {
	sm.held = make(map[uint64]State)
}

func (sm *StateMap) sortedRecords() []uint64 {
	recs := make([]uint64, 0, len(sm.held))
	for r := range sm.held {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i] < recs[j] })
	return recs
}

// Len reports how many records are currently held.
func (sm *StateMap) Len() int { return len(sm.held) }

// Holds reports what lock kind, if any, the transaction holds on
// record.
func (sm *StateMap) Holds(record uint64) State {
	return sm.held[record]
}
