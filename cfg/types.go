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

package cfg

import "fmt"

// CCMode names one of the two concurrency-control modes spec.md §6.3
// lets the host pick per file type: "noundo" (irrevocable, all effects
// happen at exec time) or "twopl" (buffered, applied under held locks at
// commit). Mirrors the teacher's own small string-enum datatypes
// (cfg.Protocol, cfg.LogSeverity) that validate on unmarshal rather than
// at first use.
type CCMode string

const (
	NoUndo CCMode = "noundo"
	TwoPL  CCMode = "twopl"
)

func (m *CCMode) UnmarshalText(text []byte) error {
	switch CCMode(text) {
	case NoUndo, TwoPL:
		*m = CCMode(text)
		return nil
	default:
		return fmt.Errorf("invalid cc-mode value: %q, want %q or %q", text, NoUndo, TwoPL)
	}
}

// ValidationMode names the two strategies spec.md §6.3 offers for when
// optimistic reads are checked: "op" checks at every operation, "domain"
// defers all checking to commit.
type ValidationMode string

const (
	ValidationOp     ValidationMode = "op"
	ValidationDomain ValidationMode = "domain"
)

func (m *ValidationMode) UnmarshalText(text []byte) error {
	switch ValidationMode(text) {
	case ValidationOp, ValidationDomain:
		*m = ValidationMode(text)
		return nil
	default:
		return fmt.Errorf("invalid validation-mode value: %q, want %q or %q", text, ValidationOp, ValidationDomain)
	}
}
