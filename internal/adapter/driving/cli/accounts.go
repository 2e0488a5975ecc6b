package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/claude-accounts/internal/application"
	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

func (a *app) addCommand() *cobra.Command {
	var (
		key   string
		oauth bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an account",
		Long: `Add an API key account, or an OAuth account to be captured with login.
Without --key or --oauth the API key is prompted for without echo.`,
		Example: `  claude-accounts add perso --key sk-ant-api03-...
  claude-accounts add client --oauth`,
		Args: cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			kind := model.KindAPIKey
			secret := key
			if oauth {
				kind = model.KindOAuth
			} else if secret == "" {
				var err error
				if secret, err = a.readSecret(cmd, "API key (sk-ant-...): "); err != nil {
					return err
				}
			}

			summary, err := rt.Vault.Add(cmd.Context(), args[0], kind, secret)
			if err != nil {
				return err
			}

			cmd.Printf("✓ Added %s account '%s'\n", summary.Kind, summary.Name)
			if summary.Kind == model.KindOAuth {
				cmd.Printf("  Next: run claude, sign in, then: claude-accounts login %s\n", summary.Name)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "API key (prompted when omitted)")
	cmd.Flags().BoolVar(&oauth, "oauth", false, "Create an OAuth account captured later with login")
	cmd.MarkFlagsMutuallyExclusive("key", "oauth")

	return cmd
}

func (a *app) loginCommand() *cobra.Command {
	var (
		watch   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login <name>",
		Short: "Capture the current claude session into an OAuth account",
		Long: `Capture the session stored by claude in its credentials file. The account is
created when it does not exist. With --watch, wait for claude to write a new
session (sign in with "claude" in another terminal) and capture it.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			name := args[0]

			if !watch {
				summary, err := rt.Vault.Capture(cmd.Context(), name)
				if errors.Is(err, driven.ErrSourceFileMissing) {
					return fmt.Errorf("%w\n  Run claude and sign in first, then: claude-accounts login %s", err, name)
				}
				if err != nil {
					return err
				}
				printCaptured(cmd, summary)
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cmd.Printf("Waiting for a new claude session in %s ...\n", a.env.Config.CredentialsPath)
			err := waitForFile(ctx, a.env.Config.CredentialsPath, func() (bool, error) {
				summary, err := rt.Vault.Capture(ctx, name)
				if errors.Is(err, driven.ErrSourceFileMalformed) || errors.Is(err, driven.ErrSourceFileMissing) {
					// The writer has not finished yet.
					return false, nil
				}
				if err != nil {
					return false, err
				}
				printCaptured(cmd, summary)
				return true, nil
			})
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("no new session within %s", timeout)
			}
			return err
		}),
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Wait for claude to write a new session, then capture it")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "How long --watch waits")

	return cmd
}

func printCaptured(cmd *cobra.Command, s *model.AccountSummary) {
	cmd.Printf("✓ Captured session for '%s'\n", s.Name)
	if !s.ExpiresAt.IsZero() {
		cmd.Printf("  Expires %s\n", formatExpiry(*s))
	}
	cmd.Printf("  Launch with: claude-accounts launch %s\n", s.Name)
}

func (a *app) refreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <name>",
		Short: "Exchange an OAuth account's refresh token for new tokens",
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			summary, err := rt.Vault.Refresh(cmd.Context(), args[0])
			if err != nil && !application.IsSyncError(err) {
				if errors.Is(err, driven.ErrRefreshRejected) {
					return fmt.Errorf("%w\n  Sign in again with claude, then: claude-accounts login %s", err, args[0])
				}
				return err
			}

			cmd.Printf("✓ Refreshed '%s', expires %s\n", summary.Name, formatExpiry(*summary))
			if err != nil {
				cmd.PrintErrf("warning: %v\n", err)
			}
			return nil
		}),
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show an account's status",
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			summary, err := rt.Vault.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		}),
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts",
		Args:    cobra.NoArgs,
		RunE: a.withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			accounts, err := rt.Vault.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				cmd.Println("No accounts. Add one with: claude-accounts add <name>")
				return nil
			}
			renderAccounts(cmd.OutOrStdout(), accounts)
			return nil
		}),
	}
}

func (a *app) removeCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete an account and its secrets",
		Args:    cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			name := args[0]
			if !yes {
				if err := a.confirm(cmd, fmt.Sprintf("Delete '%s'? [y/N] ", name), "y"); err != nil {
					cmd.Println("Cancelled")
					return nil
				}
			}

			if err := rt.Vault.Delete(cmd.Context(), name); err != nil {
				return err
			}
			cmd.Printf("✓ Deleted '%s'\n", name)
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")

	return cmd
}
