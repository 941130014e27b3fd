// Command authlyctl is a thin CLI client for an Authly daemon: apply
// documents, test policy decisions, and submit/fetch mandates. It carries
// no server-side logic of its own; every subcommand dials through
// pkg/client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "authlyctl",
	Short:   "Authly command-line client",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("authlyctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("server", "127.0.0.1:4433", "Authly server address")
	rootCmd.PersistentFlags().String("cert-dir", defaultCertDir(), "Directory holding cert.pem, key.pem, ca.pem")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(mandateCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(authCmd)
}

func defaultCertDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authly/cli"
	}
	return home + "/.authly/cli"
}
