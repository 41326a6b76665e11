package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/amara/loan-screener/internal/config"
	"github.com/amara/loan-screener/internal/db"
	"github.com/amara/loan-screener/internal/screening"
)

type output struct {
	Profile       string                 `json:"profile"`
	LoansEnriched int                    `json:"loans_enriched"`
	Rescore       *screening.ScreenStats `json:"rescore"`
}

func main() {
	profileID := flag.String("profile", "default", "screening profile to re-apply")
	batchSize := flag.Int("batch-size", 200, "stored verdicts per batch")
	enrichLimit := flag.Int("enrich-limit", 20, "partners to enrich before rescoring (0 = skip)")
	enrichTimeoutSec := flag.Int("enrich-timeout-sec", 180, "timeout for the enrichment phase")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	reg, err := config.LoadRegistry("")
	if err != nil {
		log.Fatalf("load profiles failed: %v", err)
	}
	profile, ok := reg.Get(*profileID)
	if !ok {
		log.Fatalf("unknown profile %q", *profileID)
	}

	pipeline := screening.NewPipeline(pool, nil, nil, nil)
	result := output{Profile: profile.ID}

	// Fill partner metric gaps first so the rescore sees them
	if *enrichLimit > 0 {
		enrichCtx, cancel := context.WithTimeout(ctx, time.Duration(*enrichTimeoutSec)*time.Second)
		updated, err := pipeline.EnrichPartners(enrichCtx, *enrichLimit)
		cancel()
		if err != nil {
			log.Printf("enrich partners: %v (continuing with rescore)", err)
		}
		result.LoansEnriched = updated
	}

	stats, err := pipeline.Rescore(ctx, profile, *batchSize)
	if err != nil {
		log.Fatalf("rescore failed: %v", err)
	}
	result.Rescore = stats

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
