// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/uki-manager/internal/pkg/watch"
	"github.com/siderolabs/uki-manager/pkg/cli"
	"github.com/siderolabs/uki-manager/pkg/logging"
)

var watchCmdFlags struct {
	generateOptions

	debounce time.Duration
}

// watchPatterns are the boot directory files which affect the generated UKIs.
var watchPatterns = []string{"vmlinuz-*", "initramfs-*", "*-ucode.img"}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Regenerate UKIs whenever kernels or initrds in the boot directory change",
	Long:  ``,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.WithContext(cmd.Context(), func(ctx context.Context) error {
			logger := newLogger()

			global, err := loadGlobal(logger)
			if err != nil {
				return err
			}

			run := func(ctx context.Context) error {
				return generate(ctx, global, GlobalArgs.ConfigDir, nil, watchCmdFlags.generateOptions, logger)
			}

			if err = run(ctx); err != nil {
				logger.Error("initial generation failed", zap.Error(err))
			}

			w := &watch.Watcher{
				Dir:      global.BootDir,
				Patterns: watchPatterns,
				Debounce: watchCmdFlags.debounce,
				Logger:   logger.With(logging.Component("watch")),
			}

			logger.Info("watching for changes", zap.String("dir", global.BootDir))

			return w.Run(ctx, run)
		})
	},
}

func init() {
	watchCmdFlags.addFlags(watchCmd.Flags(), false)
	watchCmd.Flags().DurationVar(&watchCmdFlags.debounce, "debounce", watch.DefaultDebounce, "quiet period after the last change before regenerating")

	rootCmd.AddCommand(watchCmd)
}
