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

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsBadRecordSize(t *testing.T) {
	c := Default()
	c.RecordSizeBytes = 100
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveMaxNumFD(t *testing.T) {
	c := Default()
	c.MaxNumFD = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNegativeMaxConcurrentTx(t *testing.T) {
	c := Default()
	c.MaxConcurrentTx = -1
	assert.Error(t, c.Validate())
}

func TestEngineConfigCarriesMaxConcurrentTx(t *testing.T) {
	c := Default()
	c.MaxConcurrentTx = 4
	assert.Equal(t, 4, c.EngineConfig().MaxConcurrentTx)
}

func TestEngineConfigConvertsListenPreflightTimeoutToDuration(t *testing.T) {
	c := Default()
	c.ListenPreflightTimeoutSeconds = 5
	assert.Equal(t, 5*time.Second, c.EngineConfig().ListenPreflightTimeout)
}

func TestBindFlagsPopulatesConfigFromArgs(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("fildestxctl", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse([]string{"--cc-dir=noundo", "--max-num-fd=256"}))

	var c Config
	require.NoError(t, viper.Unmarshal(&c))

	assert.Equal(t, NoUndo, c.CC.Dir)
	assert.Equal(t, 256, c.MaxNumFD)
}

func TestEngineConfigTranslatesPerVariantCCMode(t *testing.T) {
	c := Default()
	c.CC.Socket = NoUndo

	ec := c.EngineConfig()

	assert.NotEqual(t, ec.DefaultCC[fileid.VariantRegular], ec.DefaultCC[fileid.VariantSocket])
}
