package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandwichfarm/zaptally/internal/config"
	znostr "github.com/sandwichfarm/zaptally/internal/nostr"
	"github.com/sandwichfarm/zaptally/internal/ops"
	"github.com/sandwichfarm/zaptally/internal/profiles"
	"github.com/sandwichfarm/zaptally/internal/session"
	"github.com/sandwichfarm/zaptally/internal/stats"
	"github.com/sandwichfarm/zaptally/internal/zaps"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	// Define subcommands
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "stats" {
		handleStats(os.Args[2:])
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("zaptally %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("zaptally - Nostr Zap Receipt Aggregator")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  zaptally init                       Generate example configuration")
		fmt.Println("  zaptally stats --config <path> ...  One-shot stats for target references")
		fmt.Println("  zaptally --version                  Show version information")
		fmt.Println("  zaptally --config <path>            Start live session")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting zaptally %s\n", version)
	fmt.Printf("  Site: %s\n", cfg.Site.Title)
	fmt.Printf("  Room: %s\n", cfg.Session.Room)
	fmt.Printf("  Relays: %d\n", len(cfg.Relays.Seeds))
	fmt.Println()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	logger.LogStartup(version, commit)

	fmt.Println("Connecting to relays...")
	client := znostr.New(ctx, &cfg.Relays, logger)
	defer client.Close()

	subscriber := &znostr.PoolSubscriber{Client: client, Relays: cfg.Relays.Seeds}
	sess, err := session.New(cfg, subscriber, client, logger)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.Stop()
	fmt.Println("  Session started")

	fmt.Println()
	fmt.Println("✓ Live ingestion running")
	fmt.Println()
	fmt.Println("Press Ctrl+C to shutdown gracefully...")

	// Periodic summary until interrupted
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printSummary(sess)
		case <-sigChan:
			fmt.Println()
			fmt.Println("Shutting down gracefully...")
			logger.LogShutdown("signal")
			printSummary(sess)
			fmt.Println("✓ Shutdown complete")
			return nil
		}
	}
}

func printSummary(sess *session.Session) {
	engine := sess.Engine()
	diag := sess.Diagnostics()

	fmt.Printf("[%s] zaps: %d  total: %s  zappers: %d  events: %d (deduped %d)\n",
		time.Now().Format("15:04:05"),
		engine.ZapCount(),
		zaps.FormatSats(engine.GrandTotal()),
		engine.UniqueZappers(),
		diag.EventsSeen,
		diag.EventsDeduped)

	for i, z := range engine.TopZappers(5) {
		name := profiles.TruncatePubkey(z.Payer)
		if z.Profile != nil {
			name = z.Profile.BestName()
		}
		fmt.Printf("  %d. %s  %s (%d zaps)\n", i+1, name, zaps.FormatSats(z.TotalMsat), z.ZapCount)
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	_ = fs.Parse(args)

	refs := fs.Args()
	if len(refs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: zaptally stats --config <path> <ref> [<ref>...]")
		fmt.Fprintln(os.Stderr, "  refs: hex event ids, note1..., nevent1... or naddr1... entities")
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	client := znostr.New(ctx, &cfg.Relays, logger)
	defer client.Close()

	calc := stats.NewCalculator(cfg, client, logger)
	result, err := calc.ComputeStats(ctx, refs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing stats: %v\n", err)
		os.Exit(1)
	}

	printStats(result)
}

func printStats(result *stats.Stats) {
	fmt.Printf("Targets: %d (dropped %d refs)\n", len(result.Breakdowns), result.DroppedRefs)
	fmt.Printf("Total: %s across %d zaps from %d zappers\n",
		zaps.FormatSats(result.GrandTotalMsat), result.ZapCount, result.UniquePayers)
	if result.EarliestZap > 0 {
		fmt.Printf("Range: %s .. %s\n",
			time.Unix(result.EarliestZap, 0).Format("2006-01-02 15:04"),
			time.Unix(result.LatestZap, 0).Format("2006-01-02 15:04"))
	}

	if len(result.TopZappers) > 0 {
		fmt.Println()
		fmt.Println("Top zappers:")
		for i, z := range result.TopZappers {
			name := profiles.TruncatePubkey(z.Payer)
			if z.Profile != nil {
				name = z.Profile.BestName()
			}
			fmt.Printf("  %d. %s  %s (%d zaps)\n", i+1, name, zaps.FormatSats(z.TotalMsat), z.ZapCount)
		}
	}

	if len(result.RankedTargets) > 0 {
		fmt.Println()
		fmt.Println("Ranked targets:")
		for _, t := range result.RankedTargets {
			fmt.Printf("  %d. %s  score %.1f  %s (%d zaps, %d zappers)\n",
				t.Rank, t.TargetID, t.Score, zaps.FormatSats(t.TotalMsat), t.ZapCount, t.UniqueZappers)
		}
	}

	if result.Verification.Failed > 0 {
		fmt.Println()
		fmt.Printf("⚠ Accounting mismatches: %d target(s)\n", result.Verification.Failed)
		for _, v := range result.Verification.Mismatched {
			fmt.Printf("  %s: itemized %d msat != aggregate %d msat\n",
				v.TargetID, v.ItemizedMsat, v.AggregateMsat)
		}
	}
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}

	// Write to stdout
	fmt.Print(string(exampleConfig))
}
