package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tolino-cloud/internal/app"
	"github.com/florianilch/tolino-cloud/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ).Run(ctx, args)
}

func newRootCommand(environFunc func() []string) *cli.Command {
	r := &runner{environ: environFunc}

	return &cli.Command{
		Name:  "tolino",
		Usage: "tolino cloud client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otlp)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:    "partner",
				Aliases: []string{"p"},
				Usage:   "partner storefront, see 'tolino partners'",
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "name the session is stored under",
				Value:   app.DefaultConfigAccount,
			},
			&cli.StringFlag{
				Name:  "partners-file",
				Usage: "TOML file replacing the built-in partner list",
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "credential storage (file|keyring|memory)",
				Value: string(app.DefaultConfigStorageType),
			},
			&cli.StringFlag{
				Name:  "storage--dir",
				Usage: "directory for file storage",
			},
			&cli.StringFlag{
				Name:  "storage--keyring-service",
				Usage: "service name for keyring storage",
				Value: app.DefaultConfigKeyringService,
			},
			&cli.DurationFlag{
				Name:  "http--timeout",
				Usage: "timeout of a single request",
				Value: app.DefaultConfigHTTPTimeout,
			},
		},
		Commands: []*cli.Command{
			partnersCommand(r),
			accountsCommand(r),
			loginCommand(r),
			tokenCommand(r),
			inventoryCommand(r),
			uploadCommand(r),
			deleteCommand(r),
			collectionCommand(r),
			metadataCommand(r),
			coverCommand(r),
		},
	}
}

// runner loads configuration and logging once per invocation.
type runner struct {
	environ func() []string
}

type configAction func(ctx context.Context, cmd *cli.Command, cfg *app.Config) error

type appAction func(ctx context.Context, cmd *cli.Command, a *app.App) error

// withConfig loads the configuration and sets up logging before fn runs.
func (r *runner) withConfig(fn configAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd.String("config"), cmd, r.environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat))
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				_, _ = fmt.Fprintf(stderr(cmd), "flushing logs: %v\n", err)
			}
		}()

		return fn(ctx, cmd, cfg)
	}
}

// withApp builds the application for the configured partner account.
func (r *runner) withApp(fn appAction, opts ...app.Option) cli.ActionFunc {
	return r.withConfig(func(ctx context.Context, cmd *cli.Command, cfg *app.Config) error {
		application, err := app.New(cfg, opts...)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}
		return fn(ctx, cmd, application)
	})
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(stdout(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
