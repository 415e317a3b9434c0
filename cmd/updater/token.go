package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gameupdater/gameupdater/pkg/auth"
	"github.com/gameupdater/gameupdater/pkg/config"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a UI client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set; the API is unauthenticated")
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), ttl).Generate(subject, scopes...)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "desktop-ui", "token subject, used as the user id of local requests")
	cmd.Flags().StringSliceVar(&scopes, "scope", auth.DefaultScopes, "scopes granted to the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; defaults to auth.token_ttl")
	return cmd
}
