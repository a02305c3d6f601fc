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

// Package cfg is fildestx's configuration surface (spec.md §6.3): the
// default CC mode per file-type, the validation mode, the byte-range
// record size, and the listen preflight window, plus the logging knobs
// internal/logger.Config needs. It follows the teacher's own cfg
// package: a plain struct tagged for YAML, populated either by a config
// file (viper) or by pflag flags bound onto it with viper.BindPFlag.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// CCModeConfig is the default CC mode assigned the first time a file
// record of each variant is bound to a file-id (spec.md §6.3).
type CCModeConfig struct {
	Regular CCMode `yaml:"regular"`
	Dir     CCMode `yaml:"dir"`
	Fifo    CCMode `yaml:"fifo"`
	Chrdev  CCMode `yaml:"chrdev"`
	Socket  CCMode `yaml:"socket"`
}

// LoggingConfig mirrors internal/logger.Config's fields so a config file
// or flags can drive the process logger the same way the teacher's own
// cfg.LoggingConfig drives its logger.
type LoggingConfig struct {
	FilePath string      `yaml:"file-path"`
	Format   string      `yaml:"format"`
	Severity string      `yaml:"severity"`
	Rotate   RotateConfig `yaml:"rotate"`
}

type RotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// Config is the engine's complete host-controlled surface (spec.md §6.3).
type Config struct {
	MaxNumFD int `yaml:"max-num-fd"`

	CC CCModeConfig `yaml:"cc"`

	ValidationMode ValidationMode `yaml:"validation-mode"`

	// RecordSizeBytes is the regular-file byte-range record size
	// (spec.md §4.2), 512-4096; zero selects the engine's own default.
	RecordSizeBytes int `yaml:"record-size-bytes"`

	// ListenPreflightTimeoutSeconds is the "briefly select it with a
	// 10-sec timeout" window spec.md §4.5 prescribes for non-blocking
	// listen.
	ListenPreflightTimeoutSeconds int `yaml:"listen-preflight-timeout-seconds"`

	// MaxConcurrentTx bounds how many transactions this engine admits at
	// once; zero means unbounded. Operators under heavy fan-in use this
	// to cap the number of transactions competing for the same hot
	// files, rather than letting every caller pile into validate/commit
	// at once.
	MaxConcurrentTx int `yaml:"max-concurrent-tx"`

	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration spec.md §6.3 suggests out of the
// box: TwoPL everywhere, op-granularity validation, the 10-second listen
// preflight, text logging to stderr.
func Default() Config {
	return Config{
		MaxNumFD: 1024,
		CC: CCModeConfig{
			Regular: TwoPL,
			Dir:     TwoPL,
			Fifo:    TwoPL,
			Chrdev:  TwoPL,
			Socket:  TwoPL,
		},
		ValidationMode:                ValidationOp,
		RecordSizeBytes:               4096,
		ListenPreflightTimeoutSeconds: 10,
		MaxConcurrentTx:               0,
		Logging: LoggingConfig{
			Format:   "text",
			Severity: "INFO",
			Rotate:   RotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10},
		},
	}
}

// BindFlags registers fildestxctl's flags and binds each onto viper at
// the dotted key its yaml tag spells out, following the teacher's own
// cfg.BindFlags (flagSet.XxxP then viper.BindPFlag, one pair per field).
func BindFlags(flagSet *pflag.FlagSet) error {
	d := Default()

	bind := func(key string, err error) error {
		if err != nil {
			return err
		}
		return viper.BindPFlag(key, flagSet.Lookup(flagNameFor(key)))
	}

	flagSet.Int("max-num-fd", d.MaxNumFD, "Capacity of the descriptor and file-interning tables (spec.md MAXNUMFD).")
	if err := bind("max-num-fd", nil); err != nil {
		return err
	}

	flagSet.String("cc-regular", string(d.CC.Regular), "Default CC mode for regular files: noundo or twopl.")
	if err := bind("cc.regular", nil); err != nil {
		return err
	}
	flagSet.String("cc-dir", string(d.CC.Dir), "Default CC mode for directories.")
	if err := bind("cc.dir", nil); err != nil {
		return err
	}
	flagSet.String("cc-fifo", string(d.CC.Fifo), "Default CC mode for FIFOs.")
	if err := bind("cc.fifo", nil); err != nil {
		return err
	}
	flagSet.String("cc-chrdev", string(d.CC.Chrdev), "Default CC mode for character devices.")
	if err := bind("cc.chrdev", nil); err != nil {
		return err
	}
	flagSet.String("cc-socket", string(d.CC.Socket), "Default CC mode for sockets.")
	if err := bind("cc.socket", nil); err != nil {
		return err
	}

	flagSet.String("validation-mode", string(d.ValidationMode), "Validation strategy: op or domain.")
	if err := bind("validation-mode", nil); err != nil {
		return err
	}

	flagSet.Int("record-size-bytes", d.RecordSizeBytes, "Byte-range lock record size for regular files (512-4096).")
	if err := bind("record-size-bytes", nil); err != nil {
		return err
	}

	flagSet.Int("listen-preflight-timeout-seconds", d.ListenPreflightTimeoutSeconds, "select(2) preflight window for non-blocking listen.")
	if err := bind("listen-preflight-timeout-seconds", nil); err != nil {
		return err
	}

	flagSet.Int("max-concurrent-tx", d.MaxConcurrentTx, "Maximum transactions admitted at once; 0 is unbounded.")
	if err := bind("max-concurrent-tx", nil); err != nil {
		return err
	}

	flagSet.String("log-file", d.Logging.FilePath, "Path to the log file; empty logs to stderr.")
	if err := bind("logging.file-path", nil); err != nil {
		return err
	}
	flagSet.String("log-format", d.Logging.Format, "Log format: text or json.")
	if err := bind("logging.format", nil); err != nil {
		return err
	}
	flagSet.String("log-severity", d.Logging.Severity, "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	return bind("logging.severity", nil)
}

// flagNameFor reverses the dotted-key convention BindFlags uses so a
// single bind helper can look the pflag back up by its viper key.
func flagNameFor(key string) string {
	switch key {
	case "max-num-fd":
		return "max-num-fd"
	case "cc.regular":
		return "cc-regular"
	case "cc.dir":
		return "cc-dir"
	case "cc.fifo":
		return "cc-fifo"
	case "cc.chrdev":
		return "cc-chrdev"
	case "cc.socket":
		return "cc-socket"
	case "validation-mode":
		return "validation-mode"
	case "record-size-bytes":
		return "record-size-bytes"
	case "listen-preflight-timeout-seconds":
		return "listen-preflight-timeout-seconds"
	case "max-concurrent-tx":
		return "max-concurrent-tx"
	case "logging.file-path":
		return "log-file"
	case "logging.format":
		return "log-format"
	case "logging.severity":
		return "log-severity"
	default:
		return key
	}
}
