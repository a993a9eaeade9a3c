// cmd/swimctl/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"swimdesk/internal/app"
	"swimdesk/internal/catalog"
	"swimdesk/internal/config"
	"swimdesk/internal/domain"
	"swimdesk/internal/logging"
	"swimdesk/internal/payment"
	"swimdesk/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	// build replaces app.New in tests.
	build func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

func newRootCmd() *cobra.Command {
	return newRoot(&rootOptions{})
}

func newRoot(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "swimctl",
		Short:         "Scheduled jobs and maintenance for the swim facility engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		migrateCmd(opts),
		sweepCmd(opts),
		expiryCmd(opts),
		summaryCmd(opts),
		testProcessorCmd(opts),
		useProcessorCmd(opts),
		plansCmd(opts),
	)
	return root
}

// withApp loads config, builds the app for one command and tears it down.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	build := opts.build
	if build == nil {
		build = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "swimctl")
			if err != nil {
				return nil, err
			}
			return app.New(ctx, cfg, "swimctl", logger)
		}
	}
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			})
		},
	}
}

func sweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Charge every saved card whose auto-charge date has arrived",
		Long: `Charge every saved card whose auto-charge date has arrived.

Run once a day from cron. Re-running the same day is safe: cards that were
renewed are no longer due, and declined cards are retried.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				sum, err := a.AutoCharge.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func expiryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expiry",
		Short: "Send expiring and expired membership notices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				rep, err := a.Expiry.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func summaryCmd(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Send the daily check-in and revenue summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				day := domain.AddDays(a.Clock(), -1)
				if date != "" {
					t, err := time.Parse(time.DateOnly, date)
					if err != nil {
						return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
					}
					day = domain.DateOf(t)
				}
				sum, err := a.Summary.Run(ctx, day)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "facility day to summarize (default yesterday)")
	return cmd
}

func testProcessorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-processor",
		Short: "Check the active payment processor's credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				name, ok, msg, err := a.TestProcessor(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: %s", name, msg)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, msg)
				return nil
			})
		},
	}
}

func useProcessorCmd(opts *rootOptions) *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "use-processor <adapter>",
		Short: "Switch the active payment processor in the settings table",
		Example: `  swimctl use-processor stripe --set secret_key=sk_live_x
  swimctl use-processor stub`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			rows := map[string]string{payment.SettingAdapter: name}
			for _, kv := range keys {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("--set %q: want key=value", kv)
				}
				rows[payment.SettingProcessorPrefix+name+"."+k] = v
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if _, err := a.Payments.Build(name, payment.ProcessorConfig{}); err != nil {
					return err
				}
				err := a.Store.InTx(ctx, func(tx store.Tx) error {
					for k, v := range rows {
						if err := tx.PutSetting(ctx, k, v); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Active processor set to %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&keys, "set", nil, "processor key=value, repeatable")
	return cmd
}

func plansCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List and maintain the plans sold at the kiosk",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print plans in kiosk display order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				plans, err := a.Catalog.ListPlans(ctx, !all)
				if err != nil {
					return err
				}
				if plans == nil {
					plans = []*domain.Plan{}
				}
				return printJSON(cmd.OutOrStdout(), plans)
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include retired plans")

	var (
		in    catalog.PlanInput
		price string
		swims int
		days  int
	)
	add := &cobra.Command{
		Use:     "add",
		Short:   "Create a plan",
		Example: `  swimctl plans add --name "10 Swim Pass" --type swim_pass --price 45 --swims 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("--price %q: %w", price, err)
			}
			in.Price = p
			if swims > 0 {
				in.SwimCount = &swims
			}
			if days > 0 {
				in.DurationDays = &days
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				plan, err := a.Catalog.AddPlan(ctx, in, "swimctl")
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), plan)
			})
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "plan name shown at the kiosk")
	add.Flags().StringVar(&in.Type, "type", "", "single, swim_pass or monthly")
	add.Flags().StringVar(&price, "price", "", "price in dollars")
	add.Flags().IntVar(&swims, "swims", 0, "visits on a swim pass")
	add.Flags().IntVar(&days, "days", 0, "validity of a monthly plan in days")
	add.Flags().IntVar(&in.DisplayOrder, "order", 0, "kiosk display order")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("type")
	_ = add.MarkFlagRequired("price")

	retire := &cobra.Command{
		Use:   "retire <plan-id>",
		Short: "Take a plan off sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("plan id %q: %w", args[0], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				plan, err := a.Catalog.RetirePlan(ctx, id, "swimctl")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retired %s\n", plan.Name)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, retire)
	return cmd
}
