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

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlecloudplatform/fildestx/cfg"
	"github.com/googlecloudplatform/fildestx/internal/fildes/tx"
)

func TestAppendTwoBytesNeverInterleaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.txt")
	eng := tx.NewEngine(cfg.Default().EngineConfig())

	require.NoError(t, appendTwoBytes(eng, path, []byte("AB")))
	require.NoError(t, appendTwoBytes(eng, path, []byte("CD")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(got))
}

func TestRunDemoReportsSuccess(t *testing.T) {
	var out bytes.Buffer
	demoCmd.SetOut(&out)

	require.NoError(t, runDemo(demoCmd, nil))
	assert.Contains(t, out.String(), "S1 passed")
}
