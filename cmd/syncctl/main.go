package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ignite/exigo-bridge/internal/app"
	"github.com/ignite/exigo-bridge/internal/config"
	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/fanout"
	"github.com/ignite/exigo-bridge/internal/pkg/distlock"
	"github.com/ignite/exigo-bridge/internal/tenant"
	"github.com/ignite/exigo-bridge/internal/worker"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operate the Fluid/Exigo preferred-customer sync",
	Long: `syncctl runs and inspects preferred-customer reconciliation for the
companies in the bridge configuration.

Runs take the same per-company lock as the worker, so they never overlap
a scheduled run.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")

	pagesCmd.Flags().Bool("local", false, "process pages in this process even when fanout mode is sqs")
	snapshotsCmd.Flags().Int("limit", 10, "number of snapshots to list")
	transitionsCmd.Flags().Int("limit", 50, "number of transitions to list")

	rootCmd.AddCommand(companiesCmd, runCmd, pagesCmd, snapshotsCmd, transitionsCmd)
}

// withApp opens the infrastructure for one command and cancels on SIGINT.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.ConfigureLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func company(a *app.App, id string) (*tenant.Company, error) {
	c, ok := a.Registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown or inactive company %q", id)
	}
	if c.Engine == nil {
		return nil, fmt.Errorf("company %q is not exigo_enabled", id)
	}
	return c, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List configured companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(_ context.Context, a *app.App) error {
			list := make([]domain.Company, 0, len(a.Registry.All()))
			for _, c := range a.Registry.All() {
				list = append(list, c.Summary())
			}
			return printJSON(list)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run <company-id>",
	Short: "Run one delta sync now and print its outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			c, err := company(a, args[0])
			if err != nil {
				return err
			}
			s := worker.NewScheduler(nil, a.Locker, a.Alerter, worker.SchedulerConfig{
				RunTimeout: a.Config.Scheduler.RunTimeout(),
			})
			out, err := s.RunCompany(ctx, worker.Job{CompanyID: c.ID, Sync: c.Engine})
			if errors.Is(err, distlock.ErrLockHeld) {
				return fmt.Errorf("a sync for %s is already running", c.ID)
			}
			if perr := printJSON(out); perr != nil {
				return perr
			}
			return err
		})
	},
}

var pagesCmd = &cobra.Command{
	Use:   "pages <company-id>",
	Short: "Re-check every Fluid customer page by page against Exigo",
	Long: `pages walks the company's full Fluid customer list and applies the
preferred rule to each customer. Pages go to the SQS page queue when
fanout mode is sqs, otherwise they run in this process. The snapshot
baseline is replaced only when every page succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		return withApp(func(ctx context.Context, a *app.App) error {
			c, err := company(a, args[0])
			if err != nil {
				return err
			}
			if a.Redis == nil {
				return errors.New("page runs need redis")
			}
			fc := a.Config.Fanout
			queue := a.PageQueue()
			if local || queue == nil {
				fc.Mode = fanout.ModeLocal
			}
			orch, err := c.Orchestrator(a.Redis, fc, queue)
			if err != nil {
				return err
			}

			var out fanout.Outcome
			err = a.Locker.WithLock(ctx, distlock.CompanySyncKey(c.ID), func(ctx context.Context) error {
				var runErr error
				out, runErr = orch.Run(ctx)
				return runErr
			})
			if errors.Is(err, distlock.ErrLockHeld) {
				return fmt.Errorf("a sync for %s is already running", c.ID)
			}
			if perr := printJSON(out); perr != nil {
				return perr
			}
			return err
		})
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <company-id>",
	Short: "List stored autoship snapshots, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, a *app.App) error {
			list, err := a.Snapshots.ListSnapshots(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(list)
		})
	},
}

var transitionsCmd = &cobra.Command{
	Use:   "transitions <company-id>",
	Short: "List the newest tier transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, a *app.App) error {
			list, err := a.Transitions.ListTransitions(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(list)
		})
	},
}
