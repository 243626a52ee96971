// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cmd implements uki-manager commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/uki-manager/internal/pkg/config"
	"github.com/siderolabs/uki-manager/pkg/logging"
)

// GlobalArgs are the persistent flags of all commands.
var GlobalArgs struct {
	ConfigPath string
	ConfigDir  string
	Debug      bool
	NoColor    bool
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:               "uki-manager",
	Short:             "Generate unified kernel images for the installed kernels",
	Long:              ``,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if GlobalArgs.NoColor {
			color.NoColor = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	cmd, err := rootCmd.ExecuteContextC(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())

		errorString := err.Error()
		// arg-flag related validation returns simple `fmt.Errorf`, no way to distinguish these errors
		if strings.Contains(errorString, "arg(s)") || strings.Contains(errorString, "flag") || strings.Contains(errorString, "command") {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		}
	}

	return err
}

func newLogger() *zap.Logger {
	return logging.Console(os.Stderr, logging.ConsoleOptions{
		Debug:   GlobalArgs.Debug,
		NoColor: GlobalArgs.NoColor,
	})
}

// loadGlobal loads the global config and resolves the directories.
func loadGlobal(logger *zap.Logger) (*config.Global, error) {
	cfg, err := config.Load(GlobalArgs.ConfigPath, logger)
	if err != nil {
		return nil, err
	}

	return cfg.Resolve(logger)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&GlobalArgs.ConfigPath, "config", "c", config.DefaultConfigPath, "configuration file")
	rootCmd.PersistentFlags().StringVarP(&GlobalArgs.ConfigDir, "config-dir", "C", config.DefaultConfigDir, "path to the custom kernel config directory")
	rootCmd.PersistentFlags().BoolVar(&GlobalArgs.Debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&GlobalArgs.NoColor, "no-color", false, "disable colored output")
}
