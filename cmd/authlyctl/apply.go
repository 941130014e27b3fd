package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a document against a directory",
	Long: `Compile and apply a YAML document (services, entity/resource
properties, policies, policy bindings) against a named directory.

Example:
  authlyctl apply -f fleet.yaml --directory fleet`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Document YAML file to apply (required)")
	applyCmd.Flags().String("directory", "default", "Directory label to apply the document to")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	directory, _ := cmd.Flags().GetString("directory")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.ApplyDocument(ctx, directory, string(data))
	if err != nil {
		return fmt.Errorf("applying document: %w", err)
	}

	if !resp.Applied {
		for _, e := range resp.Errors {
			fmt.Fprintf(os.Stderr, "  %s:%d: %s (%s)\n", filename, e.Line, e.Msg, e.Kind)
		}
		return fmt.Errorf("document rejected (%d error(s))", len(resp.Errors))
	}

	fmt.Printf("applied document to directory %q\n", directory)
	return nil
}
