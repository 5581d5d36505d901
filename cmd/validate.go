// Package cmd holds auxiliary CLI commands.
package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/procfleet/procfleet/internal/config"
	"github.com/spf13/cobra"
)

// CreateValidateCmd creates the validate command. It checks a fleet
// definition file without starting anything: syntax, worker counts, and
// whether each command resolves to an executable.
func CreateValidateCmd() *cobra.Command {
	var fleetFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a fleet definition file",
		Long:  `Parse the fleet definition file and check every worker command resolves to an executable, without starting any processes.`,
		Run: func(cmd *cobra.Command, args []string) {
			quiet, _ := cmd.Flags().GetBool("quiet")

			fleet, err := config.LoadFleet(fleetFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
				os.Exit(1)
			}

			problems := 0
			check := func(label string, command []string) {
				if _, lookErr := exec.LookPath(command[0]); lookErr != nil {
					fmt.Fprintf(os.Stderr, "%s: command %q not found in PATH\n", label, command[0])
					problems++
					return
				}
				if !quiet {
					fmt.Printf("%s: ok (%s)\n", label, command[0])
				}
			}

			check("server", fleet.Server.Command)
			for _, w := range fleet.Workers {
				check("worker "+w.Name, w.Command)
			}

			if problems > 0 {
				fmt.Fprintf(os.Stderr, "%d problem(s) found in %s\n", problems, fleetFile)
				os.Exit(1)
			}
			if !quiet {
				fmt.Printf("%s is valid: %d server worker(s), %d background worker def(s)\n",
					fleetFile, fleet.Server.Workers, len(fleet.Workers))
			}
		},
	}

	validateCmd.Flags().StringVarP(&fleetFile, "fleet", "f", "fleet.toml", "Fleet definition file to validate")
	validateCmd.Flags().BoolP("quiet", "q", false, "Suppress per-worker output")

	return validateCmd
}
