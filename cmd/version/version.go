// Package version implements the version subcommand.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvirtane/flowdsp-go/internal/buildinfo"
)

// Command creates the version subcommand.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and build date",
		Run: func(cmd *cobra.Command, args []string) {
			info := buildinfo.Current()
			fmt.Printf("flowdsp %s (built %s)\n", info.GetVersion(), info.GetBuildDate())
		},
	}
}
