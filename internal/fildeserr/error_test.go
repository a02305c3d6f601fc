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

package fildeserr

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
)

func TestIsConflictAndIsRevocable(t *testing.T) {
	assert.True(t, IsConflict(Conflict("busy")))
	assert.False(t, IsConflict(Revocable()))
	assert.True(t, IsRevocable(Revocable()))
	assert.False(t, IsRevocable(Conflict("busy")))
}

func TestIsConflictOnPlainErrorIsFalse(t *testing.T) {
	assert.False(t, IsConflict(errors.New("boom")))
}

func TestFatalfMarksFatal(t *testing.T) {
	err := Fatalf("apply failed: %v", errors.New("disk full"))
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindResource, err.Kind)
	assert.False(t, IsFatal(Conflict("busy")))
}

func TestErrnoUnwrapsToUnderlyingErrno(t *testing.T) {
	err := Errno(unix.EAGAIN)
	assert.True(t, errors.Is(err, unix.EAGAIN))
}

func TestErrorMessagesAreStable(t *testing.T) {
	assert.Contains(t, Revocable().Error(), "no undo")
	assert.Contains(t, Conflict("").Error(), "conflicting")
	assert.Contains(t, Resource("").Error(), "resource exhausted")
	assert.Equal(t, "custom", Conflict("custom").Error())
}

func TestKindStringNamesEveryKind(t *testing.T) {
	assert.Equal(t, "errno", KindErrno.String())
	assert.Equal(t, "revocable", KindRevocable.String())
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "resource", KindResource.String())
}
