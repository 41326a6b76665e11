package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/amara/loan-screener/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).ListRuns(ctx, 10)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Profile", "Status", "Fetched", "Evaluated", "Passed", "Portfolio", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		t.AppendRow(table.Row{
			r.ID.String()[:8], r.Profile, r.Status,
			r.Fetched, r.Evaluated, r.Passed, r.PortfolioSize,
			duration, r.StartedAt.Format("15:04:05"),
		})
	}
	t.Render()
}
