package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/amara/loan-screener/internal/ai"
	"github.com/amara/loan-screener/internal/config"
	"github.com/amara/loan-screener/internal/db"
	"github.com/amara/loan-screener/internal/engine"
	"github.com/amara/loan-screener/internal/screening"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	profileID := flag.String("profile", "default", "screening profile to run")
	pages := flag.Int("pages", 0, "gateway pages to fetch (0 = profile default)")
	dryRun := flag.Bool("dry-run", false, "evaluate without persisting verdicts or recording a run")
	showAll := flag.Bool("all", false, "show rejected loans too, with their reasons")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		exitErr(err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		exitErr(err)
	}

	reg, err := config.LoadRegistry("")
	if err != nil {
		exitErr(err)
	}
	profile, ok := reg.Get(*profileID)
	if !ok {
		exitErr(fmt.Errorf("unknown profile %q", *profileID))
	}

	embedder := ai.NewOllamaClient(os.Getenv("OLLAMA_URL"), "")
	pipeline := screening.NewPipeline(pool, screening.NewGatewaySource(profile.Fetch), nil, embedder)

	var stats *screening.ScreenStats
	var results []engine.Result
	if *dryRun {
		stats, results, err = pipeline.Preview(ctx, profile, *pages)
	} else {
		stats, results, err = pipeline.Screen(ctx, profile, *pages)
	}
	if err != nil {
		exitErr(err)
	}

	printVerdicts(results, *showAll)

	if *dryRun {
		fmt.Printf("\n[DRY-RUN] %s: %d/%d eligible (portfolio %d, fetched %d, enriched %d)\n",
			stats.Profile, stats.Passed, stats.Evaluated, stats.PortfolioSize, stats.Fetched, stats.Enriched)
		return
	}
	fmt.Printf("\n%s: %d/%d eligible (portfolio %d, saved %d, errors %d, run %s)\n",
		stats.Profile, stats.Passed, stats.Evaluated, stats.PortfolioSize, stats.Saved, stats.Errors, stats.RunID)
}

func printVerdicts(results []engine.Result, showAll bool) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Loan", "Name", "Country", "Sector", "Amount", "Tier", "Lend", "Reasons"})

	shown := 0
	for _, res := range results {
		if !res.Eligible && !showAll {
			continue
		}
		shown++

		reasons := ""
		if !res.Eligible {
			reasons = truncate(strings.Join(res.Reasons, "; "), 60)
		}
		t.AppendRow(table.Row{
			res.Loan.ID,
			truncate(res.Loan.Name, 24),
			res.Loan.CountryCode,
			res.Loan.SectorName,
			fmt.Sprintf("%.0f", res.Loan.LoanAmount),
			res.Tier,
			fmt.Sprintf("$%d", res.LendAmount),
			reasons,
		})
	}

	if shown == 0 {
		fmt.Println("No eligible loans. Re-run with -all to see why candidates were rejected.")
		return
	}
	t.Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func exitErr(err error) {
	if errors.Is(err, engine.ErrInvalidInput) {
		fmt.Fprintln(os.Stderr, "error: gateway returned a loan without an id")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
