package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "netcopyctl",
	Short: "Inspect and test netcopy connection identifiers",
	Long: `netcopyctl parses connection identifiers and opens pooled SSH, FTP and FTPS
sessions using the same settings as applications embedding netcopy.

Settings are read from NETCOPY_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env-prefix", "NETCOPY", "Prefix of the environment variables holding settings")
}
