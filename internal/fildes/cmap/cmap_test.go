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

package cmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func less(a, b int) bool { return a < b }

func TestSetAndGetKeepsSortedOrder(t *testing.T) {
	m := New[int, string](less)
	m.Set(5, "five")
	m.Set(1, "one")
	m.Set(3, "three")

	assert.Equal(t, []int{1, 3, 5}, m.Keys())
	v, ok := m.Get(3)
	assert.True(t, ok)
	assert.Equal(t, "three", v)
}

func TestSetOverwritesExistingKey(t *testing.T) {
	m := New[int, string](less)
	m.Set(1, "a")
	m.Set(1, "b")

	assert.Equal(t, 1, m.Len())
	v, _ := m.Get(1)
	assert.Equal(t, "b", v)
}

func TestGetMissingKeyReturnsZeroValue(t *testing.T) {
	m := New[int, string](less)
	v, ok := m.Get(42)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestDeleteRemovesKey(t *testing.T) {
	m := New[int, string](less)
	m.Set(1, "a")
	m.Set(2, "b")
	m.Delete(1)

	assert.Equal(t, 1, m.Len())
	_, ok := m.Get(1)
	assert.False(t, ok)
}

func TestEachVisitsInSortedOrder(t *testing.T) {
	m := New[int, string](less)
	m.Set(3, "c")
	m.Set(1, "a")
	m.Set(2, "b")

	var seen []int
	m.Each(func(k int, v string) { seen = append(seen, k) })
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestSortedKeysDedupsAdjacentEquals(t *testing.T) {
	got := SortedKeys([]int{3, 1, 2, 1, 3}, less)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestSortedKeysEmpty(t *testing.T) {
	assert.Empty(t, SortedKeys([]int{}, less))
}
