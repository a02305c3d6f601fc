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
	"fmt"
	"time"

	"github.com/googlecloudplatform/fildestx/internal/fildes/file"
	"github.com/googlecloudplatform/fildestx/internal/fildes/fileid"
	"github.com/googlecloudplatform/fildestx/internal/fildes/tx"
	"github.com/googlecloudplatform/fildestx/internal/logger"
)

// Validate rejects values no engine component accepts, the way the
// teacher's own cfg.validate.go checks SequentialReadSizeMb before
// handing the config to the filesystem.
func (c Config) Validate() error {
	if c.MaxNumFD <= 0 {
		return fmt.Errorf("max-num-fd must be positive, got %d", c.MaxNumFD)
	}
	if c.RecordSizeBytes != 0 && (c.RecordSizeBytes < 512 || c.RecordSizeBytes > 4096) {
		return fmt.Errorf("record-size-bytes must be 0 (default) or in [512, 4096], got %d", c.RecordSizeBytes)
	}
	if c.ListenPreflightTimeoutSeconds < 0 {
		return fmt.Errorf("listen-preflight-timeout-seconds must be non-negative, got %d", c.ListenPreflightTimeoutSeconds)
	}
	if c.MaxConcurrentTx < 0 {
		return fmt.Errorf("max-concurrent-tx must be non-negative, got %d", c.MaxConcurrentTx)
	}
	return nil
}

func ccMode(m CCMode) file.CCMode {
	if m == NoUndo {
		return file.NoUndo
	}
	return file.TwoPL
}

// EngineConfig translates the host-facing Config into the engine's own
// tx.Config, the boundary spec.md §6.3 draws between "host configuration
// surface" and "engine internals".
func (c Config) EngineConfig() tx.Config {
	return tx.Config{
		MaxNumFD: c.MaxNumFD,
		DefaultCC: map[fileid.Variant]file.CCMode{
			fileid.VariantRegular: ccMode(c.CC.Regular),
			fileid.VariantDir:     ccMode(c.CC.Dir),
			fileid.VariantFIFO:    ccMode(c.CC.Fifo),
			fileid.VariantChrdev:  ccMode(c.CC.Chrdev),
			fileid.VariantSocket:  ccMode(c.CC.Socket),
		},
		RecordSize:             int64(c.RecordSizeBytes),
		MaxConcurrentTx:        c.MaxConcurrentTx,
		ListenPreflightTimeout: time.Duration(c.ListenPreflightTimeoutSeconds) * time.Second,
	}
}

// LoggerConfig translates the logging section into internal/logger.Config.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		FilePath: c.Logging.FilePath,
		Format:   c.Logging.Format,
		Severity: c.Logging.Severity,
		LogRotateConfig: logger.LogRotateConfig{
			MaxFileSizeMB:   c.Logging.Rotate.MaxFileSizeMB,
			BackupFileCount: c.Logging.Rotate.BackupFileCount,
			Compress:        c.Logging.Rotate.Compress,
		},
	}
}
