package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/partnerportal/portal/cmd/portalctl/cli"
	"github.com/partnerportal/portal/internal/app"
	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/tuplesync"
	"github.com/partnerportal/portal/migrations"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operational commands for the partner portal",
		Version:       version,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newJobsCmd(),
		newReconcileCmd(),
		newSuperAdminCmd(),
	)
	return root
}

func loadConfig() (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, cfg.DBOptions("portalctl"))
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := migrations.Up(cmd.Context(), pool, app.NewLogger(cfg))
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s): %v\n", len(applied), applied)
			return nil
		},
	}
}

func newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	var partnerID string
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a job (tuplesync:drain, tuplesync:reconcile)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), args[0], partnerID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}
	trigger.Flags().StringVar(&partnerID, "partner", "", "partner id to scope a reconcile run")

	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				s, err := c.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				return cli.WriteStats(cmd.OutOrStdout(), s)
			})
		},
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List upcoming scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				tasks, err := c.ListScheduled(cmd.Context(), size)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				return nil
			})
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "number of tasks to list")

	jobsCmd.AddCommand(trigger, stats, scheduled)
	return jobsCmd
}

func withJobs(fn func(*cli.JobsCLI) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := cli.NewJobsCLI(cfg.RedisOptions().AsynqOpt())
	defer c.Close()
	return fn(c)
}

// newReconcileCmd runs a sweep in-process, bypassing the queue. Useful when
// the worker is down.
func newReconcileCmd() *cobra.Command {
	var (
		partnerID string
		drain     bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between role rows and authorization tuples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			ctx := cmd.Context()
			pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions("portalctl"))
			if err != nil {
				return err
			}
			defer pool.Close()
			client, err := app.NewFGAClient(cfg, logger)
			if err != nil {
				return err
			}
			synchronizer := app.NewSynchronizer(cfg, tuplesync.NewRepository(pool), client, nil, nil, nil, logger)

			out := map[string]any{}
			if drain {
				res, err := synchronizer.DrainOutbox(ctx, 0)
				if err != nil {
					return err
				}
				out["drain"] = res
			}
			var rep tuplesync.Report
			if partnerID != "" {
				rep, err = synchronizer.ReconcilePartner(ctx, partnerID)
			} else {
				rep, err = synchronizer.ReconcileAll(ctx)
			}
			if err != nil {
				return err
			}
			out["reconcile"] = rep
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&partnerID, "partner", "", "reconcile one partner only")
	cmd.Flags().BoolVar(&drain, "drain", false, "drain the outbox before sweeping")
	return cmd
}

// fgaRunE opens the configured FGA client for a superadmin subcommand.
func fgaRunE(fn func(cmd *cobra.Command, cfg *app.Config, client fga.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := app.NewFGAClient(cfg, app.NewLogger(cfg))
		if err != nil {
			return err
		}
		return fn(cmd, cfg, client, args)
	}
}

func newSuperAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superadmin",
		Short: "Manage platform super admins",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "grant <user-id>",
			Short: "Grant super admin to a user",
			Args:  cobra.ExactArgs(1),
			RunE: fgaRunE(func(cmd *cobra.Command, cfg *app.Config, client fga.Client, args []string) error {
				return policy.GrantSuperAdmin(cmd.Context(), client, cfg.PlatformID, args[0])
			}),
		},
		&cobra.Command{
			Use:   "revoke <user-id>",
			Short: "Revoke super admin from a user",
			Args:  cobra.ExactArgs(1),
			RunE: fgaRunE(func(cmd *cobra.Command, cfg *app.Config, client fga.Client, args []string) error {
				return policy.RevokeSuperAdmin(cmd.Context(), client, cfg.PlatformID, args[0])
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List super admins",
			Args:  cobra.NoArgs,
			RunE: fgaRunE(func(cmd *cobra.Command, cfg *app.Config, client fga.Client, _ []string) error {
				users, err := policy.SuperAdmins(cmd.Context(), client, cfg.PlatformID)
				if err != nil {
					return err
				}
				for _, u := range users {
					fmt.Fprintln(cmd.OutOrStdout(), u)
				}
				return nil
			}),
		},
	)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
