package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/amara/loan-screener/internal/db"
	"github.com/amara/loan-screener/internal/screening"
)

func main() {
	lender := flag.String("lender", os.Getenv("LENDER_PUBLIC_ID"), "lender public ID to sync")
	pages := flag.Int("pages", 10, "gateway pages of lender loans to fetch")
	flag.Parse()

	if *lender == "" {
		log.Fatal("Please provide a lender public ID using -lender flag or LENDER_PUBLIC_ID")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// No embedder: a portfolio sync stores no descriptions to embed
	pipeline := screening.NewPipeline(pool, nil, nil, nil)

	log.Printf("Starting portfolio sync for lender: %s", *lender)
	synced, err := pipeline.SyncPortfolio(ctx, *lender, *pages)
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	total, err := db.NewStore(pool).PortfolioCount(ctx)
	if err != nil {
		log.Fatalf("Count failed: %v", err)
	}

	log.Printf("Sync finished for %s. Synced: %d, portfolio now holds %d loans", *lender, synced, total)
}
