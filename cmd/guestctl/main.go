package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/config"
	"github.com/SergeiKhy/guest-urls/internal/dispatch"
	"github.com/SergeiKhy/guest-urls/internal/repository"
	"github.com/SergeiKhy/guest-urls/internal/service"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var errMissingArgument = errors.New("missing argument")

// env собирает сервис поверх настроенного хранилища
type env struct {
	cfg     *config.Config
	store   *repository.Store
	cache   repository.CacheRepository
	service service.GuestLinkService
	closers []func()
}

func openEnv(ctx context.Context, cmd *cli.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if cmd.Bool("verbose") {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	clk := clock.New(cfg.Location())
	store, err := repository.Open(ctx, cfg.DB, clk)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, store: store, cache: repository.NewNoopCache(), closers: []func(){store.Close}}

	if cfg.Redis.Enabled() {
		redis, err := repository.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			e.close()
			return nil, err
		}
		e.cache = repository.NewCacheRepository(redis)
		e.closers = append(e.closers, func() { _ = redis.Close() })
	}

	e.service = service.NewGuestLinkService(store.Links, e.cache, dispatch.NewRouter(), clk, cfg.Cache.TTL, logger)
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func withEnv(action func(ctx context.Context, cmd *cli.Command, e *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		e, err := openEnv(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return action(ctx, cmd, e)
	}
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return "", fmt.Errorf("%w: %s", errMissingArgument, name)
	}
	return arg, nil
}

func create(out io.Writer) cli.ActionFunc {
	return withEnv(func(ctx context.Context, cmd *cli.Command, e *env) error {
		sourcePath, err := requireArg(cmd, "source path")
		if err != nil {
			return err
		}

		link, err := e.service.CreateFromSpec(ctx, sourcePath, cmd.String("usage"))
		if err != nil {
			return err
		}
		path, err := e.service.RouteFor(link.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s\t%s%s\n", link.ID, e.cfg.App.BaseURL, path)
		return nil
	})
}

func show(out io.Writer) cli.ActionFunc {
	return withEnv(func(ctx context.Context, cmd *cli.Command, e *env) error {
		id, err := requireArg(cmd, "link id")
		if err != nil {
			return err
		}

		link, err := e.service.GetLink(ctx, id)
		if err != nil {
			return err
		}

		now := e.service.Clock().Now()
		expires := "never"
		if link.ExpiresAt != nil {
			expires = link.ExpiresAt.Format(time.RFC3339)
		}
		maxUses := "unlimited"
		if !link.IsUnlimited() {
			maxUses = fmt.Sprint(link.MaxUses)
		}

		w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
		fmt.Fprintf(w, "id:\t%s\n", link.ID)
		fmt.Fprintf(w, "source:\t%s\n", link.SourcePath)
		fmt.Fprintf(w, "state:\t%s\n", link.State(now))
		fmt.Fprintf(w, "uses:\t%d / %s\n", link.UsedCount, maxUses)
		fmt.Fprintf(w, "expires:\t%s\n", expires)
		fmt.Fprintf(w, "created:\t%s\n", link.CreatedAt.Format(time.RFC3339))
		return w.Flush()
	})
}

func revoke(out io.Writer) cli.ActionFunc {
	return withEnv(func(ctx context.Context, cmd *cli.Command, e *env) error {
		id, err := requireArg(cmd, "link id")
		if err != nil {
			return err
		}

		if err := e.service.DeleteLink(ctx, id); err != nil {
			return err
		}

		fmt.Fprintf(out, "revoked %s\n", id)
		return nil
	})
}

func newCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "guestctl",
		Usage: "Create, inspect and revoke guest links in the configured registry",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log to stderr",
				Sources: cli.EnvVars("GUESTCTL_VERBOSE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a guest link for a source path and print its URL",
				ArgsUsage: "<source path>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "usage",
						Aliases: []string{"u"},
						Usage:   `Usage limits: "<max uses>", "<date>" or both, comma-separated`,
					},
				},
				Action: create(out),
			},
			{
				Name:      "show",
				Usage:     "Print a guest link and its current state",
				ArgsUsage: "<link id>",
				Action:    show(out),
			},
			{
				Name:      "revoke",
				Usage:     "Delete a guest link",
				ArgsUsage: "<link id>",
				Action:    revoke(out),
			},
		},
	}
}

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "guestctl:", err)
		os.Exit(1)
	}
}
