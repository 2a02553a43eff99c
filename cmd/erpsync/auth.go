package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/erpsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/erpsync/internal/config"
)

func authorizeCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Connect the ERP account with an OAuth authorization code",
		Long: `Exchange an authorization code for a token pair and store it as the
active credential, replacing any previous one.

Without --code the consent URL is printed instead. Open it, approve
access, and rerun with the code the ERP hands back.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOrBackground(cmd.Context())
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if code == "" {
				state := base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(16))
				fmt.Fprintln(cmd.OutOrStdout(), a.tokens.AuthorizeURL(state))
				return nil
			}

			cred, err := a.tokens.Authorize(ctx, code)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected: token expires %s\n", cred.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "authorization code returned by the ERP")

	return cmd
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Deactivate the stored ERP credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOrBackground(cmd.Context())
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.tokens.Disconnect(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disconnected")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the protected HTTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return errors.New("ERPSYNC_ADMIN_JWT_SECRET is not set")
			}

			token, err := httphandler.IssueOperatorToken([]byte(cfg.AdminJWTSecret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
