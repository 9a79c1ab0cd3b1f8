package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PFigs/backend-client/internal/adapters/observability"
	"github.com/PFigs/backend-client/internal/app/campaign"
	"github.com/PFigs/backend-client/internal/app/config"
	"github.com/PFigs/backend-client/internal/app/inventory"
	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
	"github.com/PFigs/backend-client/pkg/backendclient"
)

const defaultConfigPath = "./data/config.yaml"

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "backend-client",
		Short:         "backend-client persists mesh gateway telemetry and tracks node inventory.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", defaultConfigPath, "Path to the configuration file")

	cmd.AddCommand(
		runCmd(),
		validateCmd(),
		statsCmd(),
		inventoryCmd(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "load config %s", path)
	}
	if err := observability.ConfigureLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the persistence pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := backendclient.NewRuntime(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return rt.Run(ctx)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good: storage=%s collector=%s workers=%d parallel=%t\n",
				path, cfg.Storage.Backend, collectorName(cfg), cfg.Workers.Workers, cfg.Workers.Parallel)
			return nil
		},
	}
}

func collectorName(cfg *config.Config) string {
	if cfg.Collector.Type == "" {
		return "none"
	}
	return cfg.Collector.Type
}

func statsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus metrics endpoint and print live counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if once {
				return printMetricsSnapshot(cmd.Context(), out, url)
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printMetricsSnapshot(ctx, out, url); err != nil {
						logrus.WithError(err).Warn("stats snapshot failed")
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	cmd.Flags().BoolVar(&once, "once", false, "Print one snapshot and exit")
	return cmd
}

var snapshotMetrics = []struct {
	name  string
	label string
}{
	{ports.MetricItemsReceived, "received"},
	{ports.MetricItemsDispatched, "dispatched"},
	{ports.MetricItemsDiscarded, "discarded"},
	{ports.MetricQueueDropped, "dropped"},
	{ports.MetricQueueLength, "queue"},
	{ports.MetricWorkersAlive, "workers"},
	{ports.MetricReconnectAttempts, "reconnects"},
}

func printMetricsSnapshot(ctx context.Context, out io.Writer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return errors.Wrap(err, "parse metrics")
	}

	line := time.Now().Format(time.RFC3339)
	for _, m := range snapshotMetrics {
		var value float64
		if mf, ok := families[m.name]; ok {
			for _, metric := range mf.GetMetric() {
				value += metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
			}
		}
		line += fmt.Sprintf(" %s=%.0f", m.label, value)
	}
	fmt.Fprintln(out, line)
	return nil
}

func inventoryCmd() *cobra.Command {
	var buffer int
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Run inventory rounds against the live stream while persisting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			tracker, err := inventory.New(cfg.Inventory.Tracker(), inventory.WithLogger(logrus.StandardLogger()))
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			obs := observability.NewPromObs(reg)
			driver, err := campaign.NewDriver(tracker, cfg.Inventory.Config, obs)
			if err != nil {
				return err
			}

			items := make(chan domain.WorkItem, buffer)
			rt, err := backendclient.NewRuntime(cfg,
				backendclient.WithRegistry(reg),
				backendclient.WithObservability(obs),
				backendclient.WithTap(func(item domain.WorkItem) {
					select {
					case items <- item:
					default:
						obs.LogWarn("inventory_observation_dropped", errors.New("inventory buffer full"),
							ports.Field{Key: "kind", Value: item.Kind().String()})
					}
				}),
			)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()
			driverCtx, cancelDriver := context.WithCancel(ctx)
			defer cancelDriver()

			// a stopped runtime ends the campaign
			runErr := make(chan error, 1)
			go func() {
				err := rt.Run(runCtx)
				cancelDriver()
				runErr <- err
			}()

			reports, err := driver.Run(driverCtx, items)
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
			}
			cancelRun()
			if rerr := <-runErr; rerr != nil {
				return rerr
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&buffer, "buffer", 1024, "Observations buffered between the stream and the tracker")
	return cmd
}

func printReport(out io.Writer, r campaign.Report) {
	fmt.Fprintf(out, "round %d: elapsed=%s nodes=%d converged=%t complete=%t otaped=%t frequency_reached=%t out_of_time=%t\n",
		r.Sequence, r.Elapsed, len(r.Nodes), r.Converged(), r.Complete, r.OTAPed, r.FrequencyReached, r.OutOfTime)
	if len(r.Difference) > 0 {
		fmt.Fprintf(out, "  difference: %v\n", r.Difference)
	}
	for _, b := range r.Buckets {
		fmt.Fprintf(out, "  %s: %v\n", b.Label, b.Nodes)
	}
}
