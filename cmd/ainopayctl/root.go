package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ainopay/internal/client"
	"ainopay/internal/log"
)

// refreshMargin renews an access token this close to expiry before a command
// uses it.
const refreshMargin = 30 * time.Second

var errNotLoggedIn = errors.New("not logged in: run 'ainopayctl login' first")

// app carries the global flags and the API client shared by every command.
type app struct {
	apiURL    string
	credsPath string
	cacheDir  string
	debug     bool

	api  *client.API
	lost chan struct{}
	in   *bufio.Reader
	now  func() time.Time
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now}

	root := &cobra.Command{
		Use:   "ainopayctl",
		Short: "Command-line client for the AinoPay payments API",
		Long: `ainopayctl talks to an AinoPay server.

Log in once; the session is stored under your user config directory and
renewed automatically while it is still valid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.api != nil {
				a.api.Scheduler().Stop()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiURL, "api-url", envOr("AINOPAY_API_URL", client.DefaultBaseURL), "API base URL")
	flags.StringVar(&a.credsPath, "credentials", "", "credentials file (default: <user config dir>/ainopay/credentials.yaml)")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "lookup cache directory (default: <user cache dir>/ainopay)")
	flags.BoolVar(&a.debug, "debug", false, "log API failures to stderr")

	root.AddCommand(
		a.loginCmd(),
		a.registerCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.forgotPasswordCmd(),
		a.resetPasswordCmd(),
		a.sessionCmd(),
		a.paymentsCmd(),
		a.categoriesCmd(),
		a.methodsCmd(),
		a.dashboardCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (a *app) init(cmd *cobra.Command) error {
	if a.credsPath == "" {
		p, err := client.DefaultCredentialsPath()
		if err != nil {
			return fmt.Errorf("locate credentials file: %w", err)
		}
		a.credsPath = p
	}
	if a.cacheDir == "" {
		d, err := client.DefaultCacheDir()
		if err != nil {
			return fmt.Errorf("locate cache dir: %w", err)
		}
		a.cacheDir = d
	}

	level := slog.LevelWarn
	if a.debug {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, Component: log.ComponentClient, Output: cmd.ErrOrStderr()})

	a.lost = make(chan struct{}, 1)
	a.api = client.New(client.Config{
		BaseURL:     a.apiURL,
		Credentials: client.NewFileCredentials(a.credsPath),
		Storage:     client.NewDirStorage(a.cacheDir),
		Logger:      logger,
		OnLogout: func() {
			select {
			case a.lost <- struct{}{}:
			default:
			}
		},
	})
	return nil
}

// requireSession fails unless credentials are stored, and renews the access
// token first when it is about to expire.
func (a *app) requireSession(ctx context.Context) error {
	creds, err := a.api.Credentials()
	if err != nil {
		return err
	}
	if !creds.LoggedIn() {
		return errNotLoggedIn
	}
	if !creds.ExpiresAt.IsZero() && a.now().Add(refreshMargin).After(creds.ExpiresAt) {
		if err := a.api.Scheduler().RefreshNow(ctx); err != nil {
			return fmt.Errorf("session expired, log in again: %w", err)
		}
	}
	return nil
}

// valueOrPrompt returns v, or reads a line from stdin when it is empty.
func (a *app) valueOrPrompt(cmd *cobra.Command, v, label string) (string, error) {
	if v != "" {
		return v, nil
	}
	if a.in == nil {
		a.in = bufio.NewReader(cmd.InOrStdin())
	}
	fmt.Fprint(cmd.ErrOrStderr(), label+": ")
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}
