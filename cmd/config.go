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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective engine configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration and exit non-zero on error",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDumpCmd, configValidateCmd)
}
