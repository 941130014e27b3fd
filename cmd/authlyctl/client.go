package main

import (
	"github.com/spf13/cobra"

	"github.com/protojour/authly/pkg/client"
)

// newClient builds a pkg/client.Client from the root command's persistent
// --server/--cert-dir flags, shared by every subcommand below.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	certDir, _ := cmd.Flags().GetString("cert-dir")
	return client.NewClient(server, certDir)
}
