package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version 由构建时 -ldflags 注入
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "maizone %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
