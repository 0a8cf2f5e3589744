package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/guard"
	"github.com/nkiryanov/thesisportal/internal/models"
	"github.com/nkiryanov/thesisportal/internal/token"
)

type cli struct {
	cfg    *Config
	app    *App
	stdin  io.Reader
	stdout io.Writer
}

func newCLI(cfg *Config, stdin io.Reader, stdout io.Writer) *cli {
	return &cli{cfg: cfg, stdin: stdin, stdout: stdout}
}

// rootCmd builds the command tree. Call stop when it finished.
func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Thesis portal session client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.start(cmd.Context())
		},
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	c.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.statusCmd(),
		c.refreshCmd(),
		c.passwdCmd(),
		c.profileCmd(),
		c.routeCmd(),
		c.navCmd(),
		c.getCmd(),
	)

	return root
}

// start builds the app after flags are parsed and restores the session
func (c *cli) start(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.app = app

	return app.Service.Init(ctx)
}

func (c *cli) stop() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

func (c *cli) loginCmd() *cobra.Command {
	var creds models.Credentials
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				p, err := c.readLine()
				if err != nil {
					return err
				}
				creds.Password = p
			}

			s, err := c.app.Service.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.stdout, "Logged in as %s (%s)\n", s.User.Username, s.User.Role)
			fmt.Fprintln(c.stdout, c.app.Service.LandingRoute())
			return nil
		},
	}
	cmd.Flags().StringVarP(&creds.Username, "username", "n", "", "Username")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "Password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read password from stdin")

	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var reg models.Registration
	var entityID int64
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a student account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				p, err := c.readLine()
				if err != nil {
					return err
				}
				reg.Password = p
			}
			if entityID > 0 {
				reg.EntityID = &entityID
			}

			s, err := c.app.Service.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.stdout, "Registered %s\n", s.User.Username)
			fmt.Fprintln(c.stdout, c.app.Service.LandingRoute())
			return nil
		},
	}
	cmd.Flags().StringVarP(&reg.Username, "username", "n", "", "Username")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email")
	cmd.Flags().StringVarP(&reg.Password, "password", "p", "", "Password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read password from stdin")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "Last name")
	cmd.Flags().Int64Var(&entityID, "entity", 0, "Entity id")

	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.app.Service.Logout(cmd.Context())
			fmt.Fprintln(c.stdout, "Logged out")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the current user from the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := c.app.Service.FetchCurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(user)
		},
	}
}

type statusOutput struct {
	State   string       `json:"state"`
	Role    models.Role  `json:"role,omitempty"`
	Landing string       `json:"landing"`
	User    *models.User `json:"user,omitempty"`
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session without calling the API",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			snap := c.app.Service.Snapshot()
			return c.printJSON(statusOutput{
				State:   snap.State.Status.String(),
				Role:    snap.State.Role,
				Landing: c.app.Service.LandingRoute(),
				User:    snap.User,
			})
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.app.Service.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			exp, err := token.ExpiresAt(s.Access)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Access token valid until %s\n", exp.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
}

func (c *cli) passwdCmd() *cobra.Command {
	var oldPassword, newPassword, confirm string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Service.ChangePassword(cmd.Context(), oldPassword, newPassword, confirm); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, "Password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&oldPassword, "old", "", "Current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "New password")
	cmd.Flags().StringVar(&confirm, "confirm", "", "New password again")

	return cmd
}

func (c *cli) profileCmd() *cobra.Command {
	var email, firstName, lastName string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update own profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var update models.ProfileUpdate
			if cmd.Flags().Changed("email") {
				update.Email = &email
			}
			if cmd.Flags().Changed("first-name") {
				update.FirstName = &firstName
			}
			if cmd.Flags().Changed("last-name") {
				update.LastName = &lastName
			}

			user, err := c.app.Service.UpdateProfile(cmd.Context(), update)
			if err != nil {
				return err
			}
			return c.printJSON(user)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email")
	cmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "Last name")

	return cmd
}

func (c *cli) routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <path>",
		Short: "Show whether the session may open the route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.app.Guard.Admit(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			switch {
			case d.Allow:
				fmt.Fprintf(c.stdout, "allow %s\n", guard.Normalize(args[0]))
			case d.Redirect != "":
				fmt.Fprintf(c.stdout, "redirect %s\n", d.Redirect)
			default:
				fmt.Fprintln(c.stdout, "pending")
			}
			return nil
		},
	}
}

func (c *cli) navCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nav",
		Short: "List sections available to the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := c.app.Guard.Navigation(cmd.Context())
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Fprintf(c.stdout, "%-28s %s\n", item.Href, item.Name)
			}
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Call an API endpoint with the session and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if err := c.app.Client.Do(cmd.Context(), http.MethodGet, args[0], nil, &body); err != nil {
				return err
			}
			return c.printJSON(body)
		},
	}
}

func (c *cli) readLine() (string, error) {
	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *cli) printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, string(out))
	return err
}

// Exit codes
const (
	exitOK = iota
	exitError
	exitCredentials
	exitSession
	exitForbidden
	exitNetwork
)

// describe turns error into a message for the terminal and exit code
func describe(err error) (string, int) {
	var verr *apperrors.ValidationError

	switch {
	case err == nil:
		return "", exitOK
	case errors.As(err, &verr):
		var b strings.Builder
		b.WriteString(verr.Message)
		for _, field := range slices.Sorted(maps.Keys(verr.Fields)) {
			fmt.Fprintf(&b, "\n  %s: %s", field, strings.Join(verr.Fields[field], " "))
		}
		return b.String(), exitCredentials
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return "Invalid username or password", exitCredentials
	case errors.Is(err, apperrors.ErrAccountDisabled):
		return "Account is disabled, contact the administration", exitCredentials
	case errors.Is(err, apperrors.ErrAccountExpired):
		return "Student account has expired", exitCredentials
	case errors.Is(err, apperrors.ErrPasswordMismatch):
		return "New passwords do not match", exitCredentials
	case errors.Is(err, apperrors.ErrSessionExpired):
		return "Session expired, log in again", exitSession
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return "Not logged in", exitSession
	case errors.Is(err, apperrors.ErrInsufficientPrivilege):
		return "Access denied", exitForbidden
	case errors.Is(err, apperrors.ErrNetworkFailure):
		return "API is unreachable: " + err.Error(), exitNetwork
	default:
		return err.Error(), exitError
	}
}
