package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Persona authentication operations",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate a persona with a username and password, printing a session token",
	RunE:  runAuthLogin,
}

var authTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange a session token (or this connection's own mTLS identity) for an access token",
	RunE:  runAuthToken,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authTokenCmd)

	authLoginCmd.Flags().String("username", "", "Persona username (required)")
	_ = authLoginCmd.MarkFlagRequired("username")

	authTokenCmd.Flags().String("session", "", "Session token from 'auth login' (omit to use this connection's mTLS identity)")
	authTokenCmd.Flags().StringSlice("role", nil, "Roles to request on the access token")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")
	password, err := readPassword()
	if err != nil {
		return err
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	fmt.Println(resp.SessionToken)
	return nil
}

func runAuthToken(cmd *cobra.Command, args []string) error {
	session, _ := cmd.Flags().GetString("session")
	roles, _ := cmd.Flags().GetStringSlice("role")

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.RequestAccessToken(ctx, session, roles)
	if err != nil {
		return fmt.Errorf("requesting access token: %w", err)
	}
	fmt.Println(resp.AccessToken)
	return nil
}

// readPassword prompts on stderr and reads a password without echo when
// stdin is a terminal, falling back to a plain scanned line otherwise (for
// scripted/piped use).
func readPassword() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("reading password: %w", scanner.Err())
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}
