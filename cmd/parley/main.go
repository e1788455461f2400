// Command parley is the terminal chat client for the parley relay.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parley-im/parley/internal/client"
	"github.com/parley-im/parley/internal/tui"
	"github.com/parley-im/parley/pkg/cli"
)

var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Parley — terminal chat client",
		RunE:          runChat,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("server", "s", "http://localhost:8080", "relay server URL")
	root.PersistentFlags().StringP("nickname", "n", "", "nickname (prompted if empty)")
	root.PersistentFlags().Bool("insecure", false, "skip TLS certificate verification")

	root.AddCommand(newRegisterCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the parley version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	return root
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create a new identity on the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, nickname, password, err := buildClient(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := c.Register(ctx, nickname, password); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Printf("registered %s\n", nickname)
			return nil
		},
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	c, nickname, password, err := buildClient(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Login(ctx, nickname, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	go func() { _ = c.Connect(ctx) }()
	defer func() { _ = c.Close() }()

	return tui.Run(c)
}

// buildClient assembles a client from flags, prompting for whatever
// credentials were not supplied.
func buildClient(cmd *cobra.Command) (*client.Client, string, string, error) {
	serverURL, _ := cmd.Flags().GetString("server")
	nickname, _ := cmd.Flags().GetString("nickname")
	insecure, _ := cmd.Flags().GetBool("insecure")

	prompter := cli.DefaultPrompter()
	if nickname == "" {
		nickname = prompter.Ask("nickname", "")
	}
	if nickname == "" {
		return nil, "", "", fmt.Errorf("nickname is required")
	}
	password := prompter.AskPassword("password")

	// The TUI owns the terminal; keep log output away from it.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.New(client.Config{
		ServerURL:     strings.TrimRight(serverURL, "/"),
		TLSSkipVerify: insecure,
	}, logger)
	return c, nickname, password, nil
}
