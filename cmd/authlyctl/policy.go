package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy decision operations",
}

var policyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test whether a subject would be allowed against a resource",
	Long: `Evaluate a directory's currently applied policy set for a given
subject/resource pair, without the caller needing the policy-bound entity's
own credentials.

Example:
  authlyctl policy test --directory fleet --subject s.0123... --resource e.4567...`,
	RunE: runPolicyTest,
}

func init() {
	policyCmd.AddCommand(policyTestCmd)

	policyTestCmd.Flags().String("directory", "default", "Directory label")
	policyTestCmd.Flags().String("subject", "", "Subject entity reference (required)")
	policyTestCmd.Flags().String("resource", "", "Resource entity reference (required)")
	_ = policyTestCmd.MarkFlagRequired("subject")
	_ = policyTestCmd.MarkFlagRequired("resource")
}

func runPolicyTest(cmd *cobra.Command, args []string) error {
	directory, _ := cmd.Flags().GetString("directory")
	subject, _ := cmd.Flags().GetString("subject")
	resource, _ := cmd.Flags().GetString("resource")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.TestPolicy(ctx, directory, subject, resource)
	if err != nil {
		return fmt.Errorf("testing policy: %w", err)
	}

	fmt.Println(resp.Outcome)
	if resp.Outcome != "allow" {
		return fmt.Errorf("denied")
	}
	return nil
}
