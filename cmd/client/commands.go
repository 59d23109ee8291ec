package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ozzus/client-aeza/internal/agents"
	apihttp "ozzus/client-aeza/internal/api/http"
	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/lib/logger/sl"
	"ozzus/client-aeza/internal/poller"
	"ozzus/client-aeza/internal/probe"
	"ozzus/client-aeza/internal/repository/kafka"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// withApp runs fn with a fully wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, log, err := loadCLIConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	return fn(ctx, a)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local JSON API used by the browser UI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}

		log.Info("starting application",
			"env", cfg.Env,
			"client", cfg.Client.Name,
			"backend", cfg.Backend.URL,
		)

		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext(cmd)
		defer cancel()

		snap := a.store.Initialize(ctx)
		if snap.Degraded {
			log.Warn("serving local history only", sl.Err(snap.Cause))
		}

		monitor := agents.NewMonitor(a.backend, cfg.GetAgentsRefreshInterval(), cfg.GetAgentsCacheTTL(), log)

		router := apihttp.NewRouter(
			apihttp.NewHealthController(a.checks, monitor, cfg.Client.Name),
			apihttp.NewCheckController(a.checks, monitor, a.backend),
			log,
		)

		httpServer := &nethttp.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return monitor.Start(gctx)
		})

		g.Go(func() error {
			log.Info("starting http server", "addr", cfg.Server.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down client...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown failed: %w", err)
			}
			return nil
		})

		err = g.Wait()
		log.Info("client stopped")
		return err
	},
}

var (
	checkTypes  string
	checkNoWait bool
)

var checkCmd = &cobra.Command{
	Use:   "check <target>",
	Short: "Submit a check and follow it until every agent reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()

			req := domain.CheckRequest{Target: args[0], Checks: domain.ParseCheckTypes(checkTypes)}
			record, err := a.checks.Submit(ctx, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Check %s created for %s\n", record.ID, record.Target)
			if checkNoWait {
				return nil
			}

			return follow(ctx, out, a, record.ID)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <check-id>",
	Short: "Poll an existing check until it completes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return follow(ctx, cmd.OutOrStdout(), a, args[0])
		})
	},
}

func follow(ctx context.Context, out io.Writer, a *app, id string) error {
	report := a.checks.PollOnce(ctx, id, func(r domain.CheckResult) {
		renderProgress(out, r)
	})
	renderReport(out, report)

	if rec, ok := a.store.Get(id); ok {
		renderRecord(out, rec)
	} else if report.Last != nil {
		renderResults(out, report.Last.Results)
	}

	if report.Outcome == poller.OutcomeFailed {
		return report.Err
	}
	return nil
}

var historySync bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List checks from the local history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			records := a.store.Records()
			if historySync {
				snap := a.store.Initialize(ctx)
				if snap.Degraded {
					colorPending.Fprintf(os.Stderr, "Server history unavailable, showing local cache: %v\n", snap.Cause)
				}
				records = snap.Records
			}

			renderHistory(cmd.OutOrStdout(), records)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <check-id>",
	Short: "Remove a check from the local and server history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, ok := a.store.Get(args[0]); !ok {
				colorMuted.Fprintf(cmd.OutOrStdout(), "Check %s is not in the local history, deleting on the server only\n", args[0])
			}

			a.checks.DeleteRecord(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Check %s deleted\n", args[0])
			return nil
		})
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the whole history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return errors.New("refusing to clear history without --yes")
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.checks.ClearAll()
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
			return nil
		})
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents and their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			list, err := a.backend.GetAgents(ctx)
			if err != nil {
				return err
			}

			renderAgents(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backend statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.backend.GetStats(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping <target>",
	Short: "Ping a target from this machine as a baseline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadCLIConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		pinger := probe.NewPinger(cfg.Probe.Count, cfg.GetProbeTimeout(), cfg.Probe.Privileged, log)
		res, err := pinger.Ping(ctx, args[0])
		if err != nil && !errors.Is(err, probe.ErrNoReply) {
			return err
		}

		c := colorOK
		if res.Received == 0 {
			c = colorError
		}
		c.Fprintln(cmd.OutOrStdout(), res.String())
		return err
	},
}

var probeTypes string

var probeCmd = &cobra.Command{
	Use:   "probe <target>",
	Short: "Run ping, http, https, tcp and dns checks from this machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadCLIConfig()
		if err != nil {
			return err
		}

		req, err := domain.NewCheckRequest(args[0], domain.ParseCheckTypes(probeTypes))
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		pinger := probe.NewPinger(cfg.Probe.Count, cfg.GetProbeTimeout(), cfg.Probe.Privileged, log)
		prober := probe.NewProber(pinger, cfg.GetProbeTimeout(), log)

		renderProbe(cmd.OutOrStdout(), req.Target, prober.Run(ctx, req.Target, req.Checks))
		return nil
	},
}

var eventsGroup string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail history events published by clients to Kafka",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadCLIConfig()
		if err != nil {
			return err
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is empty")
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.History, eventsGroup)
		defer consumer.Close()

		if err := consumer.CheckConnection(ctx); err != nil {
			return err
		}

		return tailEvents(ctx, consumer, cmd.OutOrStdout(), log, defaultReadBackoff)
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkTypes, "checks", "t", "ping", "comma separated check types: ping,http,https,tcp,traceroute,dns")
	checkCmd.Flags().BoolVar(&checkNoWait, "no-wait", false, "submit and exit without polling")

	historyCmd.Flags().BoolVar(&historySync, "sync", false, "merge server history before listing")

	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "confirm clearing the history")

	probeCmd.Flags().StringVarP(&probeTypes, "checks", "t", "ping,http,tcp,dns", "comma separated check types")

	eventsCmd.Flags().StringVar(&eventsGroup, "group", "", "consumer group id; empty reads without committing offsets")
}
