package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tolino-cloud/internal/app"
	"github.com/florianilch/tolino-cloud/internal/cloud"
)

var errUsage = errors.New("wrong number of arguments")

func inventoryCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "inventory",
		Usage: "list uploaded and purchased books",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the complete server response entries"},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			client, err := a.Cloud(ctx)
			if err != nil {
				return err
			}
			pubs, err := client.Inventory(ctx)
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(cmd, pubs)
			}
			tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTITLE")
			for _, p := range pubs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.DeliverableID(), p.Title())
			}
			return tw.Flush()
		}),
	}
}

func uploadCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "upload EPUB or PDF files",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "upload--workers",
				Usage: "number of files uploaded at the same time",
				Value: app.DefaultConfigUploadWorkers,
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "also add every uploaded book to this collection",
			},
		},
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return fmt.Errorf("%w: expected at least one file", errUsage)
			}

			results, uploadErr := a.UploadAll(ctx, paths)
			for _, res := range results {
				if res.Err == nil {
					_, _ = fmt.Fprintf(stdout(cmd), "%s\t%s\n", res.DeliverableID, res.Path)
				}
			}

			collection := cmd.String("collection")
			if collection == "" {
				return uploadErr
			}

			client, err := a.Cloud(ctx)
			if err != nil {
				return errors.Join(uploadErr, err)
			}
			errs := []error{uploadErr}
			for _, res := range results {
				if res.Err != nil {
					continue
				}
				if err := client.AddToCollection(ctx, res.DeliverableID, collection); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", res.Path, err))
				}
			}
			return errors.Join(errs...)
		}),
	}
}

func deleteCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete books from the cloud",
		ArgsUsage: "ID...",
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			ids := cmd.Args().Slice()
			if len(ids) == 0 {
				return fmt.Errorf("%w: expected at least one id", errUsage)
			}
			client, err := a.Cloud(ctx)
			if err != nil {
				return err
			}

			var errs []error
			for _, id := range ids {
				if err := client.Delete(ctx, id); err != nil {
					errs = append(errs, err)
					continue
				}
				_, _ = fmt.Fprintf(stdout(cmd), "deleted %s\n", id)
			}
			return errors.Join(errs...)
		}),
	}
}

func collectionCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "collection",
		Usage: "manage collections",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a book to a collection",
				ArgsUsage: "ID COLLECTION",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if cmd.Args().Len() != 2 {
						return fmt.Errorf("%w: expected ID and COLLECTION", errUsage)
					}
					client, err := a.Cloud(ctx)
					if err != nil {
						return err
					}
					return client.AddToCollection(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
				}),
			},
		},
	}
}

func metadataCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "metadata",
		Usage: "manage book metadata",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "change metadata fields of a book",
				ArgsUsage: "ID KEY=VALUE...",
				Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					args := cmd.Args().Slice()
					if len(args) < 2 {
						return fmt.Errorf("%w: expected ID and at least one KEY=VALUE", errUsage)
					}
					fields, err := parseFields(args[1:])
					if err != nil {
						return err
					}

					client, err := a.Cloud(ctx)
					if err != nil {
						return err
					}
					merged, err := client.UpdateMetadata(ctx, args[0], fields)
					if err != nil {
						return err
					}
					return printJSON(cmd, merged)
				}),
			},
		},
	}
}

func coverCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "cover",
		Usage:     "set the cover image of a book",
		ArgsUsage: "ID IMAGE",
		Action: r.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("%w: expected ID and IMAGE", errUsage)
			}
			id, path := cmd.Args().Get(0), cmd.Args().Get(1)

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			client, err := a.Cloud(ctx)
			if err != nil {
				return err
			}
			return client.UploadCover(ctx, id, filepath.Base(path), f)
		}),
	}
}

func parseFields(args []string) (cloud.Metadata, error) {
	fields := make(cloud.Metadata, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected KEY=VALUE", arg)
		}
		fields[key] = value
	}
	return fields, nil
}
