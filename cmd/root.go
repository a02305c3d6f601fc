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

// Package cmd implements fildestxctl, a small cobra CLI that surfaces
// the engine's configuration surface (cfg.Config) for inspection and
// drives the spec's literal end-to-end scenario S1 against a
// real temp directory, so a host integrator can sanity-check the engine
// without writing Go. Grounded on the teacher's cmd/root.go: a
// package-level cobra.Command plus cfg.BindFlags wired into
// cobra.OnInitialize, trimmed of the FUSE-mount argument handling and
// daemonization this domain has no use for.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/googlecloudplatform/fildestx/cfg"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fildestxctl",
	Short: "Inspect and exercise the fildestx file-descriptor transaction engine",
	Long: `fildestxctl configures and drives the fildestx engine: software
transactional memory for POSIX file-descriptor operations (read, write,
lseek, open, pipe, dup and socket I/O) that appears atomic to concurrent
transactions.`,
}

// Execute runs the CLI; main.go's sole job is calling this.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	if err := cfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, "fildestxctl: binding flags:", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(configCmd, demoCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "fildestxctl: reading config file:", err)
		os.Exit(1)
	}
}

// loadConfig unmarshals viper's current state (flags + optional config
// file, per initConfig) into a cfg.Config, starting from cfg.Default()
// so unset sections keep their defaults.
func loadConfig() (cfg.Config, error) {
	c := cfg.Default()
	if err := viper.Unmarshal(&c); err != nil {
		return cfg.Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return c, nil
}
