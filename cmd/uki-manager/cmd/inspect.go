// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"github.com/siderolabs/uki-manager/internal/pkg/uki"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image.efi>",
	Short: "Print the headers and the sections of a PE image",
	Long:  ``,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := uki.Inspect(args[0])
		if err != nil {
			return err
		}

		// SBAT is optional, stubs built without it are still valid images
		sbat, _ := uki.GetSBAT(args[0]) //nolint:errcheck

		printInfo(cmd.OutOrStdout(), info, sbat)

		return nil
	},
}

func printInfo(w io.Writer, info *uki.Info, sbat []byte) {
	checksum := color.GreenString("valid")

	switch {
	case info.Signed:
		checksum = color.YellowString("signed, not verified")
	case !info.ChecksumValid():
		checksum = color.RedString("invalid (computed %#08x)", info.ComputedChecksum)
	}

	summary := []string{
		fmt.Sprintf("Format | %s", info.Variant),
		fmt.Sprintf("File alignment | %#x", info.FileAlignment),
		fmt.Sprintf("Section alignment | %#x", info.SectionAlignment),
		fmt.Sprintf("Size of headers | %#x", info.SizeOfHeaders),
		fmt.Sprintf("Size of initialized data | %s", humanize.IBytes(uint64(info.SizeOfInitializedData))),
		fmt.Sprintf("Size of image | %s", humanize.IBytes(uint64(info.SizeOfImage))),
		fmt.Sprintf("Checksum | %#08x %s", info.StoredChecksum, checksum),
	}

	if info.OSRelease != nil {
		summary = append(summary, fmt.Sprintf("OS | %s", info.OSRelease.PrettyName()))
	}

	if info.Uname != "" {
		summary = append(summary, fmt.Sprintf("Kernel | %s", info.Uname))
	}

	if info.Cmdline != "" {
		summary = append(summary, fmt.Sprintf("Cmdline | %s", info.Cmdline))
	}

	fmt.Fprintln(w, columnize.SimpleFormat(summary))
	fmt.Fprintln(w)

	sections := make([]string, 0, len(info.Sections)+1)
	sections = append(sections, "NAME | OFFSET | SIZE | VIRTUAL ADDRESS | VIRTUAL SIZE | FLAGS")

	for _, s := range info.Sections {
		sections = append(sections, fmt.Sprintf("%s | %#x | %s | %#x | %s | %#08x",
			s.Name, s.Offset, humanize.IBytes(uint64(s.Size)), s.VirtualAddress, humanize.IBytes(uint64(s.VirtualSize)), s.Characteristics))
	}

	fmt.Fprintln(w, columnize.SimpleFormat(sections))

	if len(sbat) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SBAT:")

		for _, line := range strings.Split(strings.TrimRight(string(sbat), "\x00\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
