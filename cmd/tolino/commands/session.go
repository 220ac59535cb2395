package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tolino-cloud/internal/app"
	"github.com/florianilch/tolino-cloud/internal/authenticator"
	"github.com/florianilch/tolino-cloud/internal/tokensource"
)

func partnersCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "partners",
		Usage: "list the known partner storefronts",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON"},
		},
		Action: r.withConfig(func(_ context.Context, cmd *cli.Command, cfg *app.Config) error {
			registry, err := cfg.NewRegistry()
			if err != nil {
				return err
			}

			type row struct {
				Name      string            `json:"name"`
				PartnerID string            `json:"partner_id"`
				Endpoints map[string]string `json:"endpoints"`
			}
			var rows []row
			for _, name := range registry.Names() {
				p, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				rows = append(rows, row{Name: p.Name, PartnerID: p.PartnerID, Endpoints: p.Endpoints.All()})
			}

			if cmd.Bool("json") {
				return printJSON(cmd, rows)
			}
			tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tPARTNER ID\tTOKEN ENDPOINT")
			for _, row := range rows {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, row.PartnerID, row.Endpoints["token"])
			}
			return tw.Flush()
		}),
	}
}

func accountsCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "list the accounts with a stored session",
		Action: r.withConfig(func(ctx context.Context, cmd *cli.Command, cfg *app.Config) error {
			store, err := cfg.Storage.NewStore()
			if err != nil {
				return err
			}
			accounts, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, account := range accounts {
				_, _ = fmt.Fprintln(stdout(cmd), account)
			}
			return nil
		}),
	}
}

func loginCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in through the partner website and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "account e-mail, prefilled on the login page",
			},
			&cli.StringFlag{
				Name:  "hardware-id",
				Usage: "device id to register (default: the stored one, else generated)",
			},
		},
		Action: r.withConfig(func(ctx context.Context, cmd *cli.Command, cfg *app.Config) error {
			manual := []authenticator.ManualOption{authenticator.WithPrompt(os.Stdin, stderr(cmd))}
			if id := cmd.String("hardware-id"); id != "" {
				manual = append(manual, authenticator.WithHardwareID(id))
			}

			application, err := app.New(cfg, app.WithManualLogin(manual...))
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}

			// The password is typed into the partner's page, never here.
			if err := application.Login(ctx, cmd.String("username"), ""); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout(cmd), "logged in, session stored as %q\n", application.Account())
			return nil
		}),
	}
}

func tokenCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "manage the stored session",
		Commands: []*cli.Command{
			{
				Name:  "store",
				Usage: "store tokens copied from a browser session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "access-token", Usage: "access token (prompted if empty)"},
					&cli.StringFlag{Name: "refresh-token", Usage: "refresh token (prompted if empty)"},
					&cli.IntFlag{Name: "expires-in", Usage: "access token lifetime in seconds", Required: true},
					&cli.IntFlag{Name: "refresh-expires-in", Usage: "refresh token lifetime in seconds", Required: true},
					&cli.StringFlag{Name: "hardware-id", Usage: "device id of the browser session", Required: true},
				},
				Action: r.withApp(tokenStoreAction),
			},
			{
				Name:  "refresh",
				Usage: "exchange the refresh token for new tokens",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if err := a.Refresh(ctx); err != nil {
						return err
					}
					return printStatus(ctx, cmd, a, false)
				}),
			},
			{
				Name:  "status",
				Usage: "show the state of the stored session",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print as JSON"},
				},
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					return printStatus(ctx, cmd, a, cmd.Bool("json"))
				}),
			},
			{
				Name:  "forget",
				Usage: "delete the stored session",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if err := a.Forget(ctx); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(stdout(cmd), "session %q deleted\n", a.Account())
					return nil
				}),
			},
		},
	}
}

func tokenStoreAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	access, err := flagOrSecret(cmd, "access-token", "Access token: ")
	if err != nil {
		return err
	}
	refresh, err := flagOrSecret(cmd, "refresh-token", "Refresh token: ")
	if err != nil {
		return err
	}

	grant := tokensource.Grant{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(cmd.Int("expires-in")),
		RefreshExpiresIn: int64(cmd.Int("refresh-expires-in")),
	}
	if err := a.StoreToken(ctx, grant, cmd.String("hardware-id")); err != nil {
		return err
	}
	return printStatus(ctx, cmd, a, false)
}

func printStatus(ctx context.Context, cmd *cli.Command, a *app.App, asJSON bool) error {
	status, err := a.Status(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, status)
	}

	tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "partner\t%s\n", status.Partner)
	_, _ = fmt.Fprintf(tw, "account\t%s\n", status.Account)
	_, _ = fmt.Fprintf(tw, "state\t%s\n", status.State)
	_, _ = fmt.Fprintf(tw, "hardware id\t%s\n", status.HardwareID)
	_, _ = fmt.Fprintf(tw, "access expiry\t%s\n", status.AccessExpiry.Local().Format(time.RFC3339))
	_, _ = fmt.Fprintf(tw, "refresh expiry\t%s\n", status.RefreshExpiry.Local().Format(time.RFC3339))
	return tw.Flush()
}

// stdinLines is shared so consecutive reads of piped input see every line.
var stdinLines = sync.OnceValue(func() *bufio.Reader { return bufio.NewReader(os.Stdin) })

// flagOrSecret returns the flag value or reads it from stdin without echo.
func flagOrSecret(cmd *cli.Command, name, prompt string) (string, error) {
	if v := cmd.String(name); v != "" {
		return v, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinLines().ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
		return strings.TrimSpace(line), nil
	}

	_, _ = fmt.Fprint(stderr(cmd), prompt)
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(stderr(cmd))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return strings.TrimSpace(string(secret)), nil
}
