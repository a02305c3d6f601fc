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

package fd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
)

func resolveDummy() (*file.File, error) {
	f := &file.File{}
	return f, nil
}

// TestAcquireFirstRefBindsAndBumpsVersion checks spec.md §3.4 invariant
// I3 (InUse implies file != nil) and the version-monotonicity invariant
// (spec.md §8.3): the first Acquire binds the slot and bumps version.
func TestAcquireFirstRefBindsAndBumpsVersion(t *testing.T) {
	f := New(3, nil)
	assert.Equal(t, Unused, f.State())

	bound, version, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)
	assert.NotNil(t, bound)
	assert.Equal(t, InUse, f.State())
	assert.EqualValues(t, 1, version)
}

// TestAcquireSecondRefIncrementsRefCountNotVersion checks that sharing an
// existing InUse binding does not itself bump the version counter (only
// fildes-local state changes like SetCloexec do, per spec.md §4.4).
func TestAcquireSecondRefIncrementsRefCountNotVersion(t *testing.T) {
	f := New(3, nil)
	_, v1, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)

	_, v2, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

// TestAcquireWantNewConflictsWithInUse checks spec.md §4.4's table row
// "InUse, ref_state(fildes, WANTNEW) -> fail Conflict".
func TestAcquireWantNewConflictsWithInUse(t *testing.T) {
	f := New(3, nil)
	_, _, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)

	_, _, err = f.Acquire(true, resolveDummy)
	assert.Error(t, err)
}

// TestCloseThenAcquireConflicts checks spec.md §4.4's "Closing,
// ref_state(...) -> fail Conflict" row.
func TestCloseThenAcquireConflicts(t *testing.T) {
	f := New(3, nil)
	_, _, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, Closing, f.State())

	_, _, err = f.Acquire(false, resolveDummy)
	assert.Error(t, err)
}

// TestUnrefOnClosingRunsRealCloseAndReturnsToUnused checks spec.md §4.4's
// "Closing, last unref() -> Unused, kernel close(fildes)" row.
func TestUnrefOnClosingRunsRealCloseAndReturnsToUnused(t *testing.T) {
	var closed int
	f := New(5, func(fildes int) error { closed = fildes; return nil })
	_, _, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, f.Unref())
	assert.Equal(t, Unused, f.State())
	assert.Equal(t, 5, closed)
}

// TestReopenReversesCloseForAbort checks spec.md §4.5's close-undo
// contract and invariant 7 (abort invisibility): Reopen undoes a Close
// this transaction itself performed, before any Unref ran the real
// close.
func TestReopenReversesCloseForAbort(t *testing.T) {
	f := New(5, nil)
	_, _, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f.Reopen()
	assert.Equal(t, InUse, f.State())
}

// TestValidateDetectsConcurrentClose checks spec.md §4.4's validate
// predicate: a slot closed by someone other than the validating
// transaction is a Conflict.
func TestValidateDetectsConcurrentClose(t *testing.T) {
	f := New(3, nil)
	_, version, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Error(t, f.Validate(version, false, false))
	assert.NoError(t, f.Validate(version, false, true))
}

// TestValidateDetectsVersionAdvance checks spec.md §4.4/§7's
// LOCALSTATE-flagged version check.
func TestValidateDetectsVersionAdvance(t *testing.T) {
	f := New(3, nil)
	_, version, err := f.Acquire(false, resolveDummy)
	require.NoError(t, err)

	f.SetCloexec(true)

	assert.Error(t, f.Validate(version, true, false))
	assert.NoError(t, f.Validate(version, false, false))
}

// TestSetCloexecNeverDecreasesVersion checks spec.md §8 invariant 3
// across repeated mutation.
func TestSetCloexecNeverDecreasesVersion(t *testing.T) {
	f := New(3, nil)
	var last uint64
	for i := 0; i < 5; i++ {
		v := f.SetCloexec(i%2 == 0)
		assert.GreaterOrEqual(t, v, last)
		last = v
	}
}

// TestUnrefNegativeCountPanics checks the defensive invariant guarding
// against a double-Unref bug.
func TestUnrefNegativeCountPanics(t *testing.T) {
	f := New(3, nil)
	assert.Panics(t, func() { _ = f.Unref() })
}

func TestTableSlotIsStableAcrossCalls(t *testing.T) {
	tab := NewTable(nil)
	a := tab.Slot(7)
	b := tab.Slot(7)
	assert.Same(t, a, b)
	assert.Equal(t, 1, tab.Len())
}
