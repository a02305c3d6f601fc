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

package kfd

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecvHonorsMSGPeek checks that a non-zero flags argument actually
// reaches the kernel: MSG_PEEK must leave the data queued so a second
// Recv (flags == 0) still reads it.
func TestRecvHonorsMSGPeek(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	_, err = Send(fds[0], []byte("hello"), 0)
	require.NoError(t, err)

	peeked := make([]byte, 5)
	n, err := Recv(fds[1], peeked, unix.MSG_PEEK)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(peeked[:n]))

	drained := make([]byte, 5)
	n, err = Recv(fds[1], drained, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(drained[:n]), "MSG_PEEK must not consume the queued data")
}

// TestSendPlainFlagsUsesWritePath checks the zero-flags fast path still
// behaves like a plain write/read.
func TestSendPlainFlagsUsesWritePath(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	n, err := Send(fds[0], []byte("abc"), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 3)
	n, err = Recv(fds[1], buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}
