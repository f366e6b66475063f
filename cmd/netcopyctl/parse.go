package main

import (
	"fmt"
	"io"

	"github.com/darshan-rambhia/netcopy"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse <identifier>",
	Short: "Print the parts of a connection identifier",
	Long:  `Parses an identifier the way the pool does and prints its fields. The password is never printed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runParse(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(w io.Writer, id string) error {
	info, err := netcopy.ParseConnectionInfo(id)
	if err != nil {
		return err
	}

	path := info.Path
	if path == "" {
		path = "(none)"
	}

	fmt.Fprintf(w, "identifier: %s\n", info.Redacted())
	fmt.Fprintf(w, "scheme:     %s\n", info.Scheme)
	fmt.Fprintf(w, "host:       %s\n", info.Host)
	fmt.Fprintf(w, "port:       %d\n", info.Port)
	fmt.Fprintf(w, "username:   %s\n", info.Username)
	fmt.Fprintf(w, "password:   %t\n", info.HasPassword)
	fmt.Fprintf(w, "path:       %s\n", path)
	fmt.Fprintf(w, "base:       %s\n", netcopy.RedactIdentifier(netcopy.BaseIdentifier(id)))
	return nil
}
