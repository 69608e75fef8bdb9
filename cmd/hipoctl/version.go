package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/hipo/internal/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of hipoctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hipoctl %s\n", version.Version)
	},
}
