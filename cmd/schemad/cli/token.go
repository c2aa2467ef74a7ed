package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/schemad/internal/config"
	"github.com/faucetdb/schemad/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage module identity tokens",
		Long:  "Issue the bearer tokens calling modules present to identify themselves.",
	}

	cmd.AddCommand(newTokenIssueCmd())

	return cmd
}

// ---------- token issue ----------

func newTokenIssueCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue <module>",
		Short: "Issue a token identifying a module",
		Example: `  schemad token issue authentication
  schemad token issue billing --ttl 720h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errNoSecret
			}
			if ttl <= 0 {
				ttl, err = config.ParseDuration(cfg.Auth.TokenExpiry, 24*time.Hour)
				if err != nil {
					return err
				}
			}

			token, err := service.NewAuthService(cfg.Auth.JWTSecret).IssueModuleToken(args[0], ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "\nToken for module %q, expires %s.\n",
				args[0], time.Now().Add(ttl).Format(time.RFC3339))
			fmt.Fprintln(cmd.ErrOrStderr(), "Send it as: Authorization: Bearer <token>")
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default auth.token_expiry)")

	return cmd
}
