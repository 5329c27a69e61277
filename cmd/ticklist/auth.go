package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func signupCmd(e *env) *cobra.Command {
	var name, password string
	cmd := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create an account; a verification code is sent to the address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := e.prompt(cmd, "Password", password)
			if err != nil {
				return err
			}
			u, err := e.api.Signup(cmd.Context(), args[0], pw, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created for %s. Run `ticklist verify %s <code>` with the emailed code.\n", u.Email, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func verifyCmd(e *env) *cobra.Command {
	var resend bool
	cmd := &cobra.Command{
		Use:   "verify <email> [code]",
		Short: "Confirm an email address with its verification code",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			if resend {
				if err := e.api.ResendVerification(cmd.Context(), email); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "A new verification code was sent to %s.\n", email)
				return nil
			}
			code := ""
			if len(args) == 2 {
				code = args[1]
			}
			code, err := e.prompt(cmd, "Code", code)
			if err != nil {
				return err
			}
			if err := e.api.VerifyEmail(cmd.Context(), email, code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Email %s verified. You can now log in.\n", email)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resend, "resend", false, "send a new code instead of verifying")
	return cmd
}

func loginCmd(e *env) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in with email and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := e.prompt(cmd, "Password", password)
			if err != nil {
				return err
			}
			res, err := e.api.Signin(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (session expires %s).\n", res.User.Email, res.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func loginCodeCmd(e *env) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "login-code <email>",
		Short: "Sign in with a one-time code sent by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			if code == "" {
				if err := e.api.RequestOTP(cmd.Context(), email); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "A sign-in code was sent to %s.\n", email)
			}
			c, err := e.prompt(cmd, "Code", code)
			if err != nil {
				return err
			}
			res, err := e.api.VerifyOTP(cmd.Context(), email, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "code received earlier; skips requesting a new one")
	return cmd
}

func logoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.api.Logout(cmd.Context()); err != nil {
				e.logger.Printf("server logout failed: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func whoamiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who the current session belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := e.api.SessionInfo(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if info.Guest {
				fmt.Fprintf(w, "guest session %s\n", info.User.ID)
				return nil
			}
			verified := "unverified"
			if info.User.EmailVerified {
				verified = "verified"
			}
			fmt.Fprintf(w, "%s (%s)\n", info.User.Email, verified)
			if !info.ExpiresAt.IsZero() {
				fmt.Fprintf(w, "session expires %s\n", info.ExpiresAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func forgotPasswordCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Send a password reset code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.api.ForgotPassword(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "If %s has an account, a reset code is on its way.\n", args[0])
			return nil
		},
	}
}

func resetPasswordCmd(e *env) *cobra.Command {
	var code, password string
	cmd := &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Set a new password using a reset code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.prompt(cmd, "Code", code)
			if err != nil {
				return err
			}
			pw, err := e.prompt(cmd, "New password", password)
			if err != nil {
				return err
			}
			if err := e.api.ResetPassword(cmd.Context(), args[0], c, pw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated. Log in with the new password.")
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "reset code from the email")
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	return cmd
}
