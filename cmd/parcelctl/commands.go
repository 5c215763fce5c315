package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/app"
	"github.com/BearBump/ParcelSync/internal/broker/kafka"
	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	factories  app.Factories
}

func newRootCmd(f app.Factories) *cobra.Command {
	c := &cli{factories: f}
	root := &cobra.Command{
		Use:           "parcelctl",
		Short:         "ParcelSync operator tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("configPath"), "path to config file")

	root.AddCommand(
		c.cycleCmd(),
		c.sessionCmd(),
		c.probeCmd(),
		c.historyCmd(),
		c.statsCmd(),
		c.eventsCmd(),
		detectCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	if c.configPath == "" {
		return nil, errors.New("--config (or configPath env var) is required")
	}
	return config.LoadConfig(c.configPath)
}

// withEngine builds the engine for one command and tears it down after.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	e, err := app.Build(cfg, c.factories)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(cmd.Context(), e)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("invalid session id %q", s)
	}
	return id, nil
}

func (c *cli) cycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one reconciliation cycle now and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				sum, err := e.Poller.RunCycle(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage marketplace sessions",
	}

	var checkNow bool
	add := &cobra.Command{
		Use:   "add <credential>",
		Short: "Submit a credential as a pending session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				s, err := e.Sessions.Submit(ctx, args[0])
				if err != nil {
					return err
				}
				if !checkNow {
					return printJSON(cmd.OutOrStdout(), s)
				}
				rep, err := e.Poller.CheckSession(ctx, s.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	add.Flags().BoolVar(&checkNow, "check", false, "poll the new session immediately")

	check := &cobra.Command{
		Use:   "check <id>",
		Short: "Poll one session regardless of its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rep, err := e.Poller.CheckSession(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}

	queue := &cobra.Command{
		Use:   "check-queue",
		Short: "Poll every pending session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				reps, err := e.Poller.CheckQueue(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), reps)
			})
		},
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				ss, err := e.Orders.Sessions(ctx, models.SessionStatus(status))
				if err != nil {
					return err
				}
				if len(ss) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
					return nil
				}
				for _, s := range ss {
					fmt.Fprintf(cmd.OutOrStdout(), "  %d  %s  (updated %s)\n", s.ID, s.Status, s.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", string(models.SessionActive), "pending, active or disabled")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a session and purge its orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Sessions.Remove(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %d removed\n", id)
				return nil
			})
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge disabled sessions that own no orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				n, err := e.Sessions.CleanupOrphans(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d orphaned sessions purged\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(add, check, queue, list, remove, cleanup)
	return cmd
}

func (c *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <credential>",
		Short: "Test a credential without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				res, err := e.Poller.Probe(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		cursor string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page through delivered orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cur *storage.DeliveredCursor
			if cursor != "" {
				c, err := storage.ParseDeliveredCursor(cursor)
				if err != nil {
					return errors.Wrap(err, "--cursor")
				}
				cur = c
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				page, err := e.Orders.History(ctx, cur, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "nextCursor of the previous page")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default 30, max 100)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session and delivered counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				counts, err := e.Orders.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail engine events from the Kafka topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Kafka.Enabled() {
				return errors.New("kafka is not configured")
			}
			topic := cfg.Kafka.EventsTopicName
			if topic == "" {
				topic = app.DefaultEventsTopic
			}
			if group == "" {
				group = cfg.Kafka.ConsumerGroup
			}
			consumer := kafka.NewConsumer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}, topic, group)
			defer func() { _ = consumer.Close() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			err = consumer.ConsumeEvents(ctx, func(e messages.Event) error {
				return printEvent(cmd.OutOrStdout(), e)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group (defaults to kafka.consumer_group)")
	return cmd
}

func printEvent(w io.Writer, e messages.Event) error {
	line := fmt.Sprintf("%s  %-22s", e.At.Format(time.RFC3339), e.Kind)
	if e.SessionID != 0 {
		line += fmt.Sprintf("  session=%d", e.SessionID)
	}
	if e.OrderID != "" {
		line += "  order=" + e.OrderID
	}
	if len(e.Data) > 0 {
		line += "  " + string(e.Data)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <tracking-code>...",
		Short: "Show which carrier a tracking code routes to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, code := range args {
				id := carrier.DetectCarrier(code)
				if id == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t-\tno tracking code\n", code)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", code, id, carrier.MethodOf(id))
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parcelctl v%s\n", version)
		},
	}
}
