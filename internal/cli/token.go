package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-match-service/internal/auth"
	"quiz-match-service/internal/config"
)

// NewTokenCmd mints a host token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <host-id>",
		Short: "Mint a host token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret not configured")
			}
			if ttl <= 0 {
				ttl = config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour)
			}
			token, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer).Sign(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl")
	return cmd
}
