// Command distribute runs reward distribution cycles: collect fees, convert them
// to the reward asset and pay qualifying holders pro rata.
//
// Usage:
//
//	distribute --config config.json [--dry-run] [--interval 1h] [-v]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/pflag"

	"solana-reward-distributor/internal/app"
	"solana-reward-distributor/internal/config"
	"solana-reward-distributor/internal/domain"
	"solana-reward-distributor/internal/logging"
	"solana-reward-distributor/internal/observability"
	"solana-reward-distributor/internal/orchestrator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "distribute: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "config.json", "Path to the JSON configuration file")
	dryRun := pflag.Bool("dry-run", false, "Print the distribution plan without collecting, swapping or sending")
	interval := pflag.Duration("interval", 0, "Run a cycle every interval (0 runs once)")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	pflag.Parse()

	log := logging.New(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hub *sentry.Hub
	if cfg.Monitoring.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Monitoring.SentryDSN,
			Environment: cfg.Monitoring.Environment,
		}); err != nil {
			return fmt.Errorf("sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		hub = sentry.CurrentHub()
	}

	metrics := observability.NewMetrics("")
	if cfg.Monitoring.MetricsAddr != "" && !*dryRun {
		srv := startHTTPServer(cfg.Monitoring.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a, err := app.Build(ctx, cfg, log, metrics, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case *dryRun:
		preview, err := a.Orchestrator.Preview(ctx)
		if err != nil {
			return err
		}
		printPreview(os.Stdout, preview)
		return nil

	case *interval > 0:
		log.Info("scheduled distribution started", "interval", interval.String())
		err := a.Orchestrator.RunEvery(ctx, *interval)
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown complete")
			return nil
		}
		return err

	default:
		summary, err := a.Orchestrator.Run(ctx)
		printSummary(os.Stdout, summary)
		return err
	}
}

// startHTTPServer serves /health and /metrics until shut down.
func startHTTPServer(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", observability.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}

func printPreview(w io.Writer, p orchestrator.Preview) {
	fmt.Fprintf(w, "Holders:        %d (qualified %d, disqualified %d)\n",
		p.HoldersTotal, len(p.Eligibility.Qualified), p.Eligibility.DisqualifiedCount)
	fmt.Fprintf(w, "Fee amount:     %s\n", p.FeeAmount)
	fmt.Fprintf(w, "Quoted reward:  %s\n", p.QuotedReward)
	fmt.Fprintf(w, "Carried in:     %s\n", p.CarriedIn)
	fmt.Fprintf(w, "Total to plan:  %s\n", p.Plan.TotalRewardAmount)
	fmt.Fprintf(w, "Payable:        %s (remainder %s)\n", p.Plan.TotalPayable(), p.Plan.TotalRewardAmount.Sub(p.Plan.TotalPayable()))
	fmt.Fprintf(w, "Skipped:        %d below holding, %d below payout\n\n",
		p.Plan.SkippedBelowMinHolding, p.Plan.SkippedBelowMinPayout)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOLDER\tBALANCE\tPAYOUT")
	for _, e := range p.Plan.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Holder.Address, e.Holder.Balance, e.PayableAmount)
	}
	_ = tw.Flush()
}

func printSummary(w io.Writer, s domain.CycleSummary) {
	fmt.Fprintf(w, "Cycle %s: %s\n", s.CycleID, s.Status)
	fmt.Fprintf(w, "Holders:   %d total, %d qualified\n", s.HoldersTotal, s.HoldersQualified)
	fmt.Fprintf(w, "Fees:      %s\n", s.FeeAmount)
	if s.Conversion != nil {
		fmt.Fprintf(w, "Converted: %s -> %s (%s)\n", s.Conversion.InputAmount, s.Conversion.OutputAmount, s.Conversion.Signature)
	}
	fmt.Fprintf(w, "Reward:    %s (carried in %s, remainder %s)\n", s.TotalReward, s.CarriedIn, s.Remainder)
	fmt.Fprintf(w, "Batches:   %d total, %d confirmed, %d failed\n",
		s.BatchesTotal(), s.Count(domain.OutcomeConfirmed), s.Count(domain.OutcomeFailed))
	if s.SkippedInvalid > 0 || s.LookupFailures > 0 {
		fmt.Fprintf(w, "Skipped:   %d unencodable recipients, %d account lookups failed\n",
			s.SkippedInvalid, s.LookupFailures)
	}

	if len(s.Results) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tSTATE\tATTEMPTS\tSIGNATURE")
	for _, r := range s.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.BatchID, r.State, r.Attempts, r.Signature)
	}
	_ = tw.Flush()
}
