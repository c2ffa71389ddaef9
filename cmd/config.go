package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/config"
	"github.com/marcus/offtask/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and OFFTASK_*
environment variables are merged.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keys, _ := cmd.Flags().GetBool("keys"); keys {
			names := config.Keys()
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintln(output.Stdout, k)
			}
			return nil
		}

		if jsonFlag {
			return output.JSON(cfg)
		}
		if cfgUsed != "" {
			fmt.Fprintf(output.Stdout, "# %s\n", cfgUsed)
		} else {
			fmt.Fprintf(output.Stdout, "# defaults (no config file in %s)\n", config.Dir())
		}
		return output.YAMLRaw(cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().Bool("keys", false, "list the configuration keys")
}
