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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDumpWritesYAML(t *testing.T) {
	var out bytes.Buffer
	configDumpCmd.SetOut(&out)

	require.NoError(t, configDumpCmd.RunE(configDumpCmd, nil))
	assert.Contains(t, out.String(), "max-num-fd:")
	assert.Contains(t, out.String(), "validation-mode:")
}

func TestConfigValidatePassesOnDefaults(t *testing.T) {
	var out bytes.Buffer
	configValidateCmd.SetOut(&out)

	require.NoError(t, configValidateCmd.RunE(configValidateCmd, nil))
	assert.Contains(t, out.String(), "config is valid")
}
