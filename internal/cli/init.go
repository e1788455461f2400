package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-im/parley/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config file with sensible defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = "parley-config.json"
			}
			force, _ := cmd.Flags().GetBool("force")

			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			cfg := config.Config{
				Server: config.ServerConfig{
					Addr:              ":8080",
					AllowedOrigins:    []string{"*"},
					AvatarStoragePath: "./parley-avatars",
				},
				Storage: config.StorageConfig{
					Driver: "sqlite",
					DSN:    "parley.db",
				},
				Relay: config.RelayConfig{
					MaxMessageBytes: 64 * 1024,
					PingInterval:    config.Duration{Duration: 30 * time.Second},
					PongWait:        config.Duration{Duration: 60 * time.Second},
				},
				Logging: config.LoggingConfig{
					Level:  "info",
					Format: "json",
				},
				RateLimit: config.RateLimitConfig{
					RequestsPerSecond: 5,
					Burst:             10,
				},
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Printf("wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./parley-config.json)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}
