package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ainopay/internal/client"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email, err = a.valueOrPrompt(cmd, email, "Email"); err != nil {
				return err
			}
			if password, err = a.valueOrPrompt(cmd, password, "Password"); err != nil {
				return err
			}
			res, err := a.api.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Logged in as %s", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email, err = a.valueOrPrompt(cmd, email, "Email"); err != nil {
				return err
			}
			if name, err = a.valueOrPrompt(cmd, name, "Full name"); err != nil {
				return err
			}
			if password, err = a.valueOrPrompt(cmd, password, "Password"); err != nil {
				return err
			}
			res, err := a.api.Register(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Registered and logged in as %s", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, at least 6 characters")
	cmd.Flags().StringVarP(&name, "name", "n", "", "full name")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.api.Logout(cmd.Context()); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			u, err := a.api.Me(ctx)
			if err != nil {
				return err
			}
			creds, err := a.api.Credentials()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			field(w, "Email", u.Email)
			field(w, "Name", u.FullName)
			field(w, "Role", u.Role)
			if !creds.ExpiresAt.IsZero() {
				field(w, "Token expires", creds.ExpiresAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (a *app) forgotPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password EMAIL",
		Short: "Request a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.api.ForgotPassword(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func (a *app) resetPasswordCmd() *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Choose a new password with a reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if token, err = a.valueOrPrompt(cmd, token, "Reset token"); err != nil {
				return err
			}
			if password, err = a.valueOrPrompt(cmd, password, "New password"); err != nil {
				return err
			}
			if err := a.api.ResetPassword(cmd.Context(), token, password); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Password updated, you can log in now")
			return nil
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "token from the reset e-mail")
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password, at least 6 characters")
	return cmd
}

// sessionCmd keeps the stored session fresh until interrupted, so other
// ainopayctl invocations never see an expired token.
func (a *app) sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Keep the session refreshed until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			creds, err := a.api.Credentials()
			if err != nil {
				return err
			}
			if !creds.LoggedIn() {
				return errNotLoggedIn
			}
			sched := a.api.Scheduler()
			if err := sched.Start(ctx); err != nil {
				if errors.Is(err, client.ErrNoExpiry) {
					return fmt.Errorf("stored session has no token expiry, log in again: %w", err)
				}
				return err
			}
			defer func() {
				sched.Stop()
				sched.Wait()
			}()

			fmt.Fprintln(cmd.OutOrStdout(), "Keeping the session alive; press Ctrl-C to stop.")
			select {
			case <-ctx.Done():
				return nil
			case <-a.lost:
				return fmt.Errorf("session ended: log in again")
			}
		},
	}
}
