// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/siderolabs/uki-manager/internal/pkg/config"
	"github.com/siderolabs/uki-manager/internal/pkg/kernel"
	"github.com/siderolabs/uki-manager/pkg/cli"
)

type generateOptions struct {
	jobs   int
	dryRun bool
}

var generateCmdFlags generateOptions

var generateCmd = &cobra.Command{
	Use:   "generate [kernel...]",
	Short: "Generate UKIs for all installed kernels, or the named ones",
	Long:  ``,
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.WithContext(cmd.Context(), func(ctx context.Context) error {
			logger := newLogger()

			global, err := loadGlobal(logger)
			if err != nil {
				return err
			}

			return generate(ctx, global, GlobalArgs.ConfigDir, args, generateCmdFlags, logger)
		})
	},
}

// generate builds the UKIs of the selected kernels concurrently.
//
// A failed kernel doesn't stop the others, all failures are returned together.
func generate(ctx context.Context, global *config.Global, configDir string, names []string, opts generateOptions, logger *zap.Logger) error {
	kernels, err := selectKernels(global, names, logger)
	if err != nil {
		return err
	}

	if len(kernels) == 0 {
		logger.Warn("no kernels found", zap.String("boot_dir", global.BootDir))

		return nil
	}

	jobs := opts.jobs
	if jobs <= 0 {
		jobs = global.Jobs
	}

	var (
		eg   errgroup.Group
		mu   sync.Mutex
		errs error
	)

	eg.SetLimit(jobs)

	for _, k := range kernels {
		eg.Go(func() error {
			if err := generateKernel(ctx, global, configDir, k, opts.dryRun, logger); err != nil {
				logger.Error("cannot generate UKI, skipping it", zap.String("kernel", k.Name), zap.Error(err))

				mu.Lock()
				errs = cli.AppendErrors(errs, err)
				mu.Unlock()
			}

			return nil
		})
	}

	eg.Wait() //nolint:errcheck

	return errs
}

func selectKernels(global *config.Global, names []string, logger *zap.Logger) ([]kernel.Kernel, error) {
	discovered, err := kernel.Discover(global.BootDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read boot directory: %w", err)
	}

	if len(names) > 0 {
		selected := make([]kernel.Kernel, 0, len(names))

		for _, name := range names {
			idx := slices.IndexFunc(discovered, func(k kernel.Kernel) bool { return k.Name == name })
			if idx < 0 {
				return nil, fmt.Errorf("kernel %q is not installed in %q", name, global.BootDir)
			}

			selected = append(selected, discovered[idx])
		}

		return selected, nil
	}

	var selected []kernel.Kernel

	for _, k := range discovered {
		if !global.Selected(k.Name) {
			logger.Debug("kernel excluded", zap.String("kernel", k.Name))

			continue
		}

		logger.Info("found installed kernel", zap.String("kernel", k.Name))

		selected = append(selected, k)
	}

	return selected, nil
}

func generateKernel(ctx context.Context, global *config.Global, configDir string, k kernel.Kernel, dryRun bool, logger *zap.Logger) error {
	kernelConfig, err := global.Kernel(k.Name, config.LoadKernel(configDir, k.Name, logger), logger)
	if err != nil {
		return err
	}

	builder := kernelConfig.Builder(logger)
	builder.DryRun = dryRun

	if !dryRun {
		if err = os.MkdirAll(filepath.Dir(kernelConfig.OutputPath), 0o755); err != nil {
			return fmt.Errorf("kernel %q: %w", k.Name, err)
		}
	}

	if err = builder.Build(ctx); err != nil {
		return fmt.Errorf("kernel %q: %w", k.Name, err)
	}

	return nil
}

func (opts *generateOptions) addFlags(flags *pflag.FlagSet, dryRun bool) {
	flags.IntVarP(&opts.jobs, "jobs", "j", 0, "number of UKIs built in parallel (defaults to the config or the number of CPUs)")

	if dryRun {
		flags.BoolVar(&opts.dryRun, "dry-run", false, "only print the sections which would be added")
	}
}

func init() {
	generateCmdFlags.addFlags(generateCmd.Flags(), true)

	rootCmd.AddCommand(generateCmd)
}
