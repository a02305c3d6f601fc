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

package fileid

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyIsZeroValue(t *testing.T) {
	assert.True(t, ID{}.IsEmpty())
	assert.True(t, Empty.IsEmpty())
	assert.False(t, ID{Inode: 1}.IsEmpty())
}

func TestLessOrdersByDeviceThenInodeThenModeThenFlags(t *testing.T) {
	a := ID{Device: 1, Inode: 5}
	b := ID{Device: 1, Inode: 6}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))

	c := ID{Device: 2, Inode: 0}
	assert.True(t, b.Less(c))
}

// TestOfSameFileSameID checks spec.md §4.3 invariant I4's building
// block: the same kernel file, opened twice, produces equal file-ids.
func TestOfSameFileSameID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	f1, err := os.Open(path)
	require.NoError(t, err)
	defer f1.Close()
	f2, err := os.Open(path)
	require.NoError(t, err)
	defer f2.Close()

	id1, err := Of(int(f1.Fd()))
	require.NoError(t, err)
	id2, err := Of(int(f2.Fd()))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestOfDistinctFilesDistinctID(t *testing.T) {
	dir := t.TempDir()
	p1, p2 := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(p1, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(p2, []byte("y"), 0644))

	f1, err := os.Open(p1)
	require.NoError(t, err)
	defer f1.Close()
	f2, err := os.Open(p2)
	require.NoError(t, err)
	defer f2.Close()

	id1, err := Of(int(f1.Fd()))
	require.NoError(t, err)
	id2, err := Of(int(f2.Fd()))
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestVariantOfClassifiesByModeBits(t *testing.T) {
	assert.Equal(t, VariantDir, VariantOf(ID{Mode: unix.S_IFDIR}))
	assert.Equal(t, VariantFIFO, VariantOf(ID{Mode: unix.S_IFIFO}))
	assert.Equal(t, VariantChrdev, VariantOf(ID{Mode: unix.S_IFCHR}))
	assert.Equal(t, VariantSocket, VariantOf(ID{Mode: unix.S_IFSOCK}))
	assert.Equal(t, VariantRegular, VariantOf(ID{Mode: unix.S_IFREG}))
}

// TestFIFOIdentityIncludesAccessMode checks spec.md §3.1: "For FIFOs the
// O_RDONLY/O_WRONLY flag is part of identity (read end != write end)."
func TestFIFOIdentityIncludesAccessMode(t *testing.T) {
	readEnd := ID{Mode: unix.S_IFIFO, Flags: unix.O_RDONLY}
	writeEnd := ID{Mode: unix.S_IFIFO, Flags: unix.O_WRONLY}
	assert.NotEqual(t, readEnd, writeEnd)
}
