// Command warehousectl runs maintenance operations against the warehouse.
//
//	warehousectl ping
//	warehousectl migrate
//	warehousectl counts
//	warehousectl verify
//	warehousectl clear -yes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/smallbiznis/saaswarehouse/internal/clock"
	"github.com/smallbiznis/saaswarehouse/internal/config"
	"github.com/smallbiznis/saaswarehouse/internal/migration"
	"github.com/smallbiznis/saaswarehouse/internal/observability"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse"
	"github.com/smallbiznis/saaswarehouse/internal/warehouse/service"
	"github.com/smallbiznis/saaswarehouse/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const usage = "usage: warehousectl <ping|migrate|counts|verify|clear> [-yes]"

type Command struct {
	Name    string
	Confirm bool
}

func main() {
	cmd, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		warehouse.Module,

		fx.Supply(cmd),
		fx.Invoke(RunCommand),
	)
	app.Run()
}

func parseArgs(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, errors.New("missing command")
	}
	cmd := Command{Name: args[0]}
	switch cmd.Name {
	case "ping", "migrate", "counts", "verify", "clear":
	default:
		return Command{}, fmt.Errorf("unknown command %q", cmd.Name)
	}

	fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&cmd.Confirm, "yes", false, "confirm destructive operations")
	if err := fs.Parse(args[1:]); err != nil {
		return Command{}, err
	}
	if cmd.Name == "clear" && !cmd.Confirm {
		return Command{}, errors.New("clear deletes all users and facts; pass -yes to confirm")
	}
	return cmd, nil
}

func RunCommand(lc fx.Lifecycle, shutdowner fx.Shutdowner, cmd Command, loader *service.Loader, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				err := loader.Run(context.Background(), func(ctx context.Context, s *service.Session) error {
					return execute(ctx, cmd, s, os.Stdout)
				})
				if err != nil {
					log.Error("command failed", zap.String("command", cmd.Name), zap.Error(err))
					fmt.Fprintln(os.Stderr, err)
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}

func execute(ctx context.Context, cmd Command, s *service.Session, w io.Writer) error {
	switch cmd.Name {
	case "ping":
		version, err := s.ServerVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, version)
	case "migrate":
		conn, err := s.DB()
		if err != nil {
			return err
		}
		if err := migration.Up(ctx, conn); err != nil {
			return err
		}
		fmt.Fprintln(w, "warehouse schema is up to date")
	case "counts":
		counts, err := s.Statistics(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range counts {
			fmt.Fprintf(tw, "%s\t%d\n", c.Table, c.Rows)
		}
		return tw.Flush()
	case "verify":
		v, err := s.Verify(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "orphaned user facts: %d\n", v.OrphanedUserFacts)
		fmt.Fprintf(w, "orphaned plan facts: %d\n", v.OrphanedPlanFacts)
		fmt.Fprintf(w, "facts without date:  %d\n", v.MissingDateFacts)
		fmt.Fprintf(w, "active users:        %d\n", v.ActiveUsers)
		fmt.Fprintf(w, "total MRR:           $%s\n", v.TotalMRR.StringFixed(2))
		if !v.Clean() {
			return errors.New("warehouse has unresolved fact rows")
		}
	case "clear":
		if err := s.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "cleared dim_users and fact_subscriptions")
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}
	return nil
}
