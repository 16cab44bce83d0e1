// Package cmd assembles the command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mvirtane/flowdsp-go/cmd/check"
	"github.com/mvirtane/flowdsp-go/cmd/run"
	"github.com/mvirtane/flowdsp-go/cmd/version"
)

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowdsp",
		Short: "FlowDSP realtime audio processing engine",
		Long: "FlowDSP captures PCM audio from an input device, runs it through a\n" +
			"configurable processing pipeline, and plays the result on an output\n" +
			"device while keeping the capture and playback clocks aligned.",
	}

	rootCmd.AddCommand(
		run.Command(),
		check.Command(),
		version.Command(),
	)
	return rootCmd
}
