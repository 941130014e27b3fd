package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/protojour/authly/pkg/client"
)

var mandateCmd = &cobra.Command{
	Use:   "mandate",
	Short: "Mandate issuance operations",
}

var mandateIssueCodeCmd = &cobra.Command{
	Use:   "issue-code",
	Short: "Mint a single-use mandate submission code (authority side)",
	RunE:  runMandateIssueCode,
}

var mandateSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a mandate code and obtain a signed identity (mandate instance side)",
	Long: `Generate a fresh keypair, present the submission code over an
unauthenticated-but-CA-trusted connection, and write the resulting
certificate (plus the key and the trusted CA) into --cert-dir for later use
by other authlyctl commands.`,
	RunE: runMandateSubmit,
}

var mandateFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Poll whether a mandate has been granted",
	RunE:  runMandateFetch,
}

func init() {
	mandateCmd.AddCommand(mandateIssueCodeCmd)
	mandateCmd.AddCommand(mandateSubmitCmd)
	mandateCmd.AddCommand(mandateFetchCmd)

	mandateSubmitCmd.Flags().String("code", "", "Submission code (required)")
	mandateSubmitCmd.Flags().String("entity", "", "Mandate entity reference (required)")
	mandateSubmitCmd.Flags().String("ca", "", "Path to the trusted CA certificate (required)")
	_ = mandateSubmitCmd.MarkFlagRequired("code")
	_ = mandateSubmitCmd.MarkFlagRequired("entity")
	_ = mandateSubmitCmd.MarkFlagRequired("ca")

	mandateFetchCmd.Flags().String("entity", "", "Mandate entity reference (required)")
	_ = mandateFetchCmd.MarkFlagRequired("entity")
}

func runMandateIssueCode(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.IssueMandateSubmissionCode(ctx)
	if err != nil {
		return fmt.Errorf("issuing submission code: %w", err)
	}
	fmt.Printf("code:       %s\n", resp.Code)
	fmt.Printf("expires at: %s\n", resp.ExpiresAt)
	return nil
}

func runMandateSubmit(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	entity, _ := cmd.Flags().GetString("entity")
	caPath, _ := cmd.Flags().GetString("ca")
	server, _ := cmd.Flags().GetString("server")
	certDir, _ := cmd.Flags().GetString("cert-dir")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("marshaling public key: %w", err)
	}

	c, err := client.NewBootstrapClient(server, caPath)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.SubmitMandate(ctx, code, entity, pubDER)
	if err != nil {
		return fmt.Errorf("submitting mandate: %w", err)
	}

	if err := os.MkdirAll(certDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", certDir, err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", caPath, err)
	}

	if err := writePEMFile(filepath.Join(certDir, "cert.pem"), "CERTIFICATE", resp.CertificateDER); err != nil {
		return err
	}
	if err := writePEMFile(filepath.Join(certDir, "key.pem"), "EC PRIVATE KEY", keyDER); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(certDir, "ca.pem"), caPEM, 0o600); err != nil {
		return fmt.Errorf("writing ca.pem: %w", err)
	}

	fmt.Printf("mandate identity written to %s\n", certDir)
	return nil
}

func runMandateFetch(cmd *cobra.Command, args []string) error {
	entity, _ := cmd.Flags().GetString("entity")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.FetchMandate(ctx, entity)
	if err != nil {
		return fmt.Errorf("fetching mandate: %w", err)
	}
	if !resp.Granted {
		fmt.Println("not yet granted")
		return nil
	}
	fmt.Printf("granted by:   %s\n", resp.GrantedByEntity)
	fmt.Printf("last contact: %s\n", resp.LastConnectionTime)
	return nil
}

func writePEMFile(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
