// Command flyspace runs browser automation scripts one step at a time and
// lets an operator replay and advance every AI-driven step.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/heyglassy/flyspace/internal/discovery"
	v1 "github.com/heyglassy/flyspace/internal/transport/http/v1"
)

var rootCmd = &cobra.Command{
	Use:           "flyspace",
	Short:         "Step through browser automation scripts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var filesCmd = &cobra.Command{
	Use:   "files [folder]",
	Short: "List the runnable entry points of a scripts folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		files, err := discovery.Discover(dir)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "flyspace", v1.Version)
	},
}

func init() {
	rootCmd.AddCommand(startCmd, filesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
}
