package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/output"
	"github.com/marcus/offtask/internal/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the offtask version",
	GroupID: "system",
	// version must work with a broken config file
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(output.Stdout, "offtask %s\n", versionStr)
		if install, _ := cmd.Flags().GetBool("install"); install {
			if c := version.InstallCommand(versionStr); c != "" {
				fmt.Fprintln(output.Stdout, c)
			} else {
				output.Warning("%s is a development build; no install command", versionStr)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("install", false, "print the go install command for this version")
}
