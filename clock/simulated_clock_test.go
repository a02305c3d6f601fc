// Copyright 2025 Google LLC
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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedClockNowReflectsSetTime(t *testing.T) {
	start := time.Unix(1000, 0)
	sc := NewSimulatedClock(start)
	assert.Equal(t, start, sc.Now())

	sc.AdvanceTime(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), sc.Now())

	next := start.Add(time.Hour)
	sc.SetTime(next)
	assert.Equal(t, next, sc.Now())
}

func TestSimulatedClockAfterFiresOnAdvance(t *testing.T) {
	sc := NewSimulatedClock(time.Unix(0, 0))
	ch := sc.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before target time")
	default:
	}

	sc.AdvanceTime(10 * time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, time.Unix(10, 0), fired)
	default:
		t.Fatal("After did not fire once target time was reached")
	}
}

func TestSimulatedClockAfterNonPositiveDurationFiresImmediately(t *testing.T) {
	sc := NewSimulatedClock(time.Unix(0, 0))
	ch := sc.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

// TestClockIsSatisfiedByAllThreeImplementations checks that RealClock,
// FakeClock and SimulatedClock are interchangeable through the Clock
// interface this engine's tx.Config.Clock field is typed against.
func TestClockIsSatisfiedByAllThreeImplementations(t *testing.T) {
	var clocks []Clock
	clocks = append(clocks, RealClock{}, &FakeClock{WaitTime: time.Millisecond}, NewSimulatedClock(time.Now()))
	for _, c := range clocks {
		assert.NotZero(t, c.Now())
	}
}
