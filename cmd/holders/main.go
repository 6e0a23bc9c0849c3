// Command holders prints the current holder snapshot of the distributed token and
// how it partitions against the minimum-holding threshold.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"solana-reward-distributor/internal/app"
	"solana-reward-distributor/internal/config"
	"solana-reward-distributor/internal/holders"
	"solana-reward-distributor/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "holders: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "config.json", "Path to the JSON configuration file")
	limit := pflag.Int("limit", 50, "Maximum qualified holders to list (0 lists all)")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	pflag.Parse()

	log := logging.New(*verbose)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enum := app.NewEnumerator(app.NewRPC(cfg, nil), cfg, log)
	snapshot, err := enum.Snapshot(ctx)
	if err != nil {
		return err
	}
	result := holders.Filter(snapshot, cfg.Distribution.MinimumHoldingThreshold, log)

	fmt.Printf("Mint:         %s\n", cfg.Token.Mint)
	fmt.Printf("Threshold:    %s\n", cfg.Distribution.MinimumHoldingThreshold)
	fmt.Printf("Holders:      %d\n", result.Total())
	fmt.Printf("Qualified:    %d\n", len(result.Qualified))
	fmt.Printf("Disqualified: %d (malformed %d)\n\n", result.DisqualifiedCount, result.Rejected)

	qualified := result.Qualified
	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].Balance.GreaterThan(qualified[j].Balance)
	})
	if *limit > 0 && len(qualified) > *limit {
		qualified = qualified[:*limit]
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOLDER\tBALANCE")
	for _, h := range qualified {
		fmt.Fprintf(tw, "%s\t%s\n", h.Address, h.Balance)
	}
	return tw.Flush()
}
