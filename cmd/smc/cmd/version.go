package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("smc version %s\n", version)
		fmt.Println("Smart-money-concepts futures trading core")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
