// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/siderolabs/uki-manager/internal/pkg/config"
	"github.com/siderolabs/uki-manager/internal/pkg/toml"
)

var configCmd = &cobra.Command{
	Use:   "config <kernel>",
	Short: "Print the effective configuration of a kernel",
	Long:  ``,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		global, err := loadGlobal(logger)
		if err != nil {
			return err
		}

		name := args[0]

		kernelConfig, err := global.Kernel(name, config.LoadKernel(GlobalArgs.ConfigDir, name, logger), logger)
		if err != nil {
			return err
		}

		out, err := toml.Encode(kernelConfig)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(out)

		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
