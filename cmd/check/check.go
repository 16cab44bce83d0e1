// Package check implements the config validation subcommand.
package check

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvirtane/flowdsp-go/internal/conf"
)

// exitBadConfig is the exit code for an invalid config file.
const exitBadConfig = 101

// Command creates the check subcommand.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config>",
		Short: "Validate a config file and exit",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := conf.Load(args[0])
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
				os.Exit(exitBadConfig)
			}
			fmt.Println("config is valid")
		},
	}
}
