package screening

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/amara/loan-screener/internal/ai"
	"github.com/amara/loan-screener/internal/config"
	"github.com/amara/loan-screener/internal/db"
	"github.com/amara/loan-screener/internal/engine"
	"github.com/amara/loan-screener/internal/kiva"
	"github.com/amara/loan-screener/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoanSource fetches loan records from the gateway.
type LoanSource interface {
	FetchFundraisingLoans(ctx context.Context, filters map[string]any, maxPages int) ([]engine.RawLoan, int, error)
	FetchLenderLoans(ctx context.Context, publicID string, maxPages int) ([]engine.RawLoan, error)
}

// MetricsSource fetches partner risk metrics from partner pages.
type MetricsSource interface {
	FetchPartnerMetrics(ctx context.Context, partnerID int64) (*PartnerMetrics, error)
}

type Pipeline struct {
	DB       *pgxpool.Pool
	Store    *db.Store
	Source   LoanSource
	Enricher MetricsSource
	AI       ai.Embedder
}

func NewPipeline(pool *pgxpool.Pool, source LoanSource, enricher MetricsSource, embedder ai.Embedder) *Pipeline {
	if source == nil {
		source = kiva.NewClient(kiva.Config{}).WithCache(kiva.NewPageCacheFromEnv())
	}
	if enricher == nil {
		enricher = NewPartnerEnricher()
	}
	return &Pipeline{
		DB:       pool,
		Store:    db.NewStore(pool),
		Source:   source,
		Enricher: enricher,
		AI:       embedder,
	}
}

// NewGatewaySource builds the stock gateway client tuned to a profile's
// fetch knobs, with the Redis page cache when one is configured.
func NewGatewaySource(f config.FetchConfig) LoanSource {
	return kiva.NewClient(kiva.Config{
		PageSize:  f.PageSize,
		PageDelay: f.PageDelay(),
	}).WithCache(kiva.NewPageCacheFromEnv())
}

// ScreenStats summarizes one screening or rescore run.
type ScreenStats struct {
	RunID         uuid.UUID `json:"run_id"`
	Profile       string    `json:"profile"`
	Fetched       int       `json:"fetched"`
	Evaluated     int       `json:"evaluated"`
	Passed        int       `json:"passed"`
	PortfolioSize int       `json:"portfolio_size"`
	Enriched      int       `json:"enriched"`
	Saved         int       `json:"saved"`
	Errors        int       `json:"errors"`
}

// Screen runs one end-to-end screening for a profile: fetch candidates
// through the gateway superset filter, clean and enrich them, evaluate
// against the stored portfolio, and persist every verdict under a new run.
// The evaluated results come back alongside the stats so callers can
// render them without re-reading the store.
func (p *Pipeline) Screen(ctx context.Context, profile config.Profile, maxPages int) (*ScreenStats, []engine.Result, error) {
	run, err := p.Store.CreateRun(ctx, profile.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create run failed: %w", err)
	}
	stats := &ScreenStats{RunID: run.ID, Profile: profile.ID}

	results, err := p.fetchAndEvaluate(ctx, profile, maxPages, stats)
	if err != nil {
		p.Store.FailRun(ctx, run.ID, err.Error())
		return stats, nil, err
	}

	// Persist verdicts
	for _, res := range results {
		if res.Eligible {
			stats.Passed++
		}
		if err := p.saveVerdict(ctx, res, run.ID); err != nil {
			log.Printf("[Screen] Failed to save loan %d: %v", res.Loan.ID, err)
			stats.Errors++
			continue
		}
		stats.Saved++
	}

	if err := p.Store.CompleteRun(ctx, run.ID, stats.Fetched, stats.Evaluated, stats.Passed, stats.PortfolioSize); err != nil {
		log.Printf("[Screen] Failed to complete run %s: %v", run.ID, err)
	}

	log.Printf("[Screen] %s: %d/%d eligible (portfolio %d, run %s)",
		profile.ID, stats.Passed, stats.Evaluated, stats.PortfolioSize, run.ID)

	return stats, results, nil
}

// Preview is Screen without the run row or any writes: fetch, clean,
// enrich and evaluate, then hand the verdicts back. Dry screenings from
// the CLI use it.
func (p *Pipeline) Preview(ctx context.Context, profile config.Profile, maxPages int) (*ScreenStats, []engine.Result, error) {
	stats := &ScreenStats{Profile: profile.ID}
	results, err := p.fetchAndEvaluate(ctx, profile, maxPages, stats)
	if err != nil {
		return stats, nil, err
	}
	for _, res := range results {
		if res.Eligible {
			stats.Passed++
		}
	}
	return stats, results, nil
}

// fetchAndEvaluate is the shared front half of a screening. Counters
// accumulate on stats as each stage finishes.
func (p *Pipeline) fetchAndEvaluate(ctx context.Context, profile config.Profile, maxPages int, stats *ScreenStats) ([]engine.Result, error) {
	cfg := profile.FilterConfig()
	if maxPages <= 0 {
		maxPages = profile.Fetch.MaxPages
	}

	// 1. Fetch candidates under the superset filter
	candidates, total, err := p.Source.FetchFundraisingLoans(ctx, kiva.SupersetFilter(cfg), maxPages)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	stats.Fetched = len(candidates)
	log.Printf("[Screen] %s: fetched %d of %d fundraising loans", profile.ID, len(candidates), total)

	// 2. Clean free text before any rule or embedding sees it
	for i := range candidates {
		CleanLoan(&candidates[i])
	}

	// 3. Fill missing partner metrics from partner pages
	if profile.Fetch.EnrichPartners {
		stats.Enriched = p.enrichCandidates(ctx, candidates)
	}

	// 4. Evaluate against the stored portfolio
	portfolio, err := p.loadPortfolio(ctx)
	if err != nil {
		return nil, err
	}
	stats.PortfolioSize = len(portfolio)

	results, err := engine.Run(candidates, portfolio, cfg)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	stats.Evaluated = len(results)

	return results, nil
}

// enrichCandidates fills missing partner metrics by scraping partner
// pages. One page fetch covers every candidate under the same partner.
func (p *Pipeline) enrichCandidates(ctx context.Context, candidates []engine.RawLoan) int {
	missing := map[int64][]int{}
	for i, cand := range candidates {
		if cand.Partner == nil {
			continue
		}
		if cand.Partner.RiskRating != nil && cand.Partner.DefaultRate != nil {
			continue
		}
		missing[cand.Partner.ID] = append(missing[cand.Partner.ID], i)
	}
	if len(missing) == 0 {
		return 0
	}

	enriched := 0
	for partnerID, idxs := range missing {
		if ctx.Err() != nil {
			break
		}

		metrics, err := p.Enricher.FetchPartnerMetrics(ctx, partnerID)
		if err != nil {
			log.Printf("[Enrich] Partner %d: %v", partnerID, err)
			continue
		}

		for _, i := range idxs {
			applyPartnerMetrics(candidates[i].Partner, metrics)
		}
		enriched += len(idxs)
		log.Printf("[Enrich] Partner %d: filled metrics for %d candidates", partnerID, len(idxs))
	}

	return enriched
}

// applyPartnerMetrics fills only the gaps. Values the gateway already
// delivered win over scraped ones.
func applyPartnerMetrics(partner *engine.RawPartner, metrics *PartnerMetrics) {
	if partner == nil || metrics == nil {
		return
	}
	if partner.RiskRating == nil && metrics.RiskRating != nil {
		v := *metrics.RiskRating
		partner.RiskRating = &v
	}
	if partner.DefaultRate == nil && metrics.DefaultRate != nil {
		v := *metrics.DefaultRate
		partner.DefaultRate = &v
	}
}

// SyncPortfolio imports the lender's current funded loans as portfolio
// rows. Manually entered rows keep their own loan ids and are untouched.
func (p *Pipeline) SyncPortfolio(ctx context.Context, lenderID string, maxPages int) (int, error) {
	if strings.TrimSpace(lenderID) == "" {
		return 0, fmt.Errorf("lender public id is required")
	}

	loans, err := p.Source.FetchLenderLoans(ctx, lenderID, maxPages)
	if err != nil {
		return 0, fmt.Errorf("fetch lender loans failed: %w", err)
	}

	synced := 0
	for _, raw := range loans {
		if raw.ID == 0 {
			log.Printf("[Sync] Skipping lender loan without id")
			continue
		}

		norm := engine.Normalize(raw)
		row := models.PortfolioLoan{
			LoanID:      norm.ID,
			Name:        norm.Name,
			CountryCode: norm.CountryCode,
			SectorName:  norm.SectorName,
			BorrowerID:  norm.BorrowerID,
			PartnerID:   norm.PartnerID,
			PartnerName: norm.PartnerName,
			LoanAmount:  norm.LoanAmount,
			Source:      "kiva-sync",
		}
		if err := p.Store.UpsertPortfolioLoan(ctx, row); err != nil {
			log.Printf("[Sync] Failed to save portfolio loan %d: %v", norm.ID, err)
			continue
		}
		synced++
	}

	log.Printf("[Sync] Lender %s: %d portfolio loans synced", lenderID, synced)
	return synced, nil
}

// Rescore re-evaluates every stored verdict against a profile without
// touching the gateway. Partner metrics enriched since the last screen are
// picked up here.
func (p *Pipeline) Rescore(ctx context.Context, profile config.Profile, batchSize int) (*ScreenStats, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	cfg := profile.FilterConfig()

	run, err := p.Store.CreateRun(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("create run failed: %w", err)
	}
	stats := &ScreenStats{RunID: run.ID, Profile: profile.ID}

	portfolio, err := p.loadPortfolio(ctx)
	if err != nil {
		p.Store.FailRun(ctx, run.ID, err.Error())
		return stats, err
	}
	stats.PortfolioSize = len(portfolio)
	held := engine.NormalizeAll(portfolio)

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			p.Store.FailRun(ctx, run.ID, err.Error())
			return stats, err
		}

		batch, err := p.Store.ScreenedLoansAfter(ctx, afterID, batchSize)
		if err != nil {
			p.Store.FailRun(ctx, run.ID, err.Error())
			return stats, fmt.Errorf("load batch failed: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, stored := range batch {
			cand := engine.Normalize(screenedToRaw(stored))
			res := engine.Evaluate(cand, held, cfg)
			stats.Evaluated++
			if res.Eligible {
				stats.Passed++
			}

			if err := p.Store.UpsertScreenedLoan(ctx, toScreenedLoan(res, run.ID), nil); err != nil {
				log.Printf("[Rescore] Failed to save loan %d: %v", stored.LoanID, err)
				stats.Errors++
				continue
			}
			stats.Saved++
		}

		afterID = batch[len(batch)-1].LoanID
	}

	if err := p.Store.CompleteRun(ctx, run.ID, 0, stats.Evaluated, stats.Passed, stats.PortfolioSize); err != nil {
		log.Printf("[Rescore] Failed to complete run %s: %v", run.ID, err)
	}

	log.Printf("[Rescore] %s: %d/%d eligible after re-evaluation (run %s)",
		profile.ID, stats.Passed, stats.Evaluated, run.ID)

	return stats, nil
}

// EnrichPartners scrapes partner pages for every stored partner missing
// risk metrics and writes the numbers back to its loans. Verdicts are not
// recomputed here; a Rescore picks the new metrics up.
func (p *Pipeline) EnrichPartners(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 20
	}

	refs, err := p.Store.PartnersMissingMetrics(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list partners failed: %w", err)
	}
	if len(refs) == 0 {
		log.Printf("[Enrich] No partners missing metrics")
		return 0, nil
	}

	updated := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		metrics, err := p.Enricher.FetchPartnerMetrics(ctx, ref.PartnerID)
		if err != nil {
			log.Printf("[Enrich] Partner %d (%s): %v", ref.PartnerID, ref.PartnerName, err)
			continue
		}
		if metrics.RiskRating == nil || metrics.DefaultRate == nil {
			log.Printf("[Enrich] Partner %d (%s): page missing one or both metrics, skipped", ref.PartnerID, ref.PartnerName)
			continue
		}

		risk := *metrics.RiskRating
		rate := *metrics.DefaultRate
		rows, err := p.Store.UpdatePartnerMetrics(ctx, ref.PartnerID, risk, rate)
		if err != nil {
			log.Printf("[Enrich] Partner %d (%s): %v", ref.PartnerID, ref.PartnerName, err)
			continue
		}

		updated += int(rows)
		log.Printf("[Enrich] Partner %d (%s): risk %.1f, default rate %.2f%%, %d loans updated",
			ref.PartnerID, ref.PartnerName, risk, rate*100, rows)
	}

	return updated, nil
}

func (p *Pipeline) loadPortfolio(ctx context.Context) ([]engine.RawLoan, error) {
	held, err := p.Store.GetPortfolio(ctx)
	if err != nil {
		return nil, fmt.Errorf("load portfolio failed: %w", err)
	}

	raw := make([]engine.RawLoan, 0, len(held))
	for _, h := range held {
		raw = append(raw, portfolioToRaw(h))
	}
	return raw, nil
}

func (p *Pipeline) saveVerdict(ctx context.Context, res engine.Result, runID uuid.UUID) error {
	loan := toScreenedLoan(res, runID)

	var embedding []float32
	if p.AI != nil && res.Loan.Description != "" {
		text := fmt.Sprintf("%s\n%s", res.Loan.Name, res.Loan.Description)
		vec, err := p.AI.GenerateEmbedding(ctx, text)
		if err != nil {
			log.Printf("[Screen] Failed to generate embedding for loan %d: %v", res.Loan.ID, err)
		} else {
			embedding = vec
		}
	}

	return p.Store.UpsertScreenedLoan(ctx, loan, embedding)
}

// toScreenedLoan flattens an engine verdict into its storage row. The
// collections are never nil because the columns are NOT NULL.
func toScreenedLoan(res engine.Result, runID uuid.UUID) models.ScreenedLoan {
	l := res.Loan

	tags := l.Tags
	if tags == nil {
		tags = []string{}
	}
	reasons := res.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	return models.ScreenedLoan{
		LoanID:              l.ID,
		Name:                l.Name,
		Description:         l.Description,
		DescriptionOriginal: l.DescriptionOriginal,
		CountryCode:         l.CountryCode,
		SectorID:            l.SectorID,
		SectorName:          l.SectorName,
		BorrowerID:          l.BorrowerID,
		PartnerID:           l.PartnerID,
		PartnerName:         l.PartnerName,
		RiskRating:          l.RiskRating,
		DefaultRate:         l.DefaultRate,
		Age:                 l.Age,
		TermMonths:          l.TermMonths,
		LoanAmount:          l.LoanAmount,
		Tags:                tags,
		Eligible:            res.Eligible,
		Reasons:             reasons,
		PriorLoans:          res.PriorLoans,
		Tier:                res.Tier,
		LendAmount:          res.LendAmount,
		CountryShare:        res.CountryShare,
		PartnerShare:        res.PartnerShare,
		InBatchA:            res.InBatchA,
		InBatchB:            res.InBatchB,
		PhraseMatched:       res.PhraseMatched,
		LastRunID:           &runID,
	}
}

// screenedToRaw lifts a stored verdict row back into screening input, so a
// profile change can be re-applied without refetching.
func screenedToRaw(l models.ScreenedLoan) engine.RawLoan {
	r := engine.RawLoan{
		ID:                  l.LoanID,
		Name:                l.Name,
		Description:         l.Description,
		DescriptionOriginal: l.DescriptionOriginal,
		TermMonths:          l.TermMonths,
		Age:                 l.Age,
		Tags:                l.Tags,
	}
	if l.LoanAmount != 0 {
		amount := l.LoanAmount
		r.LoanAmount = &amount
	}
	if l.CountryCode != "" {
		country := l.CountryCode
		r.CountryCode = &country
	}
	if l.SectorID != 0 {
		sector := l.SectorID
		r.SectorID = &sector
	}
	if l.SectorName != "" {
		name := l.SectorName
		r.SectorName = &name
	}
	if l.BorrowerID != "" {
		borrower := l.BorrowerID
		r.BorrowerID = &borrower
	}
	if l.PartnerID != nil {
		r.Partner = &engine.RawPartner{
			ID:          *l.PartnerID,
			Name:        l.PartnerName,
			RiskRating:  l.RiskRating,
			DefaultRate: l.DefaultRate,
		}
	}
	return r
}

// portfolioToRaw lifts a stored portfolio row back into the screening
// input shape.
func portfolioToRaw(h models.PortfolioLoan) engine.RawLoan {
	r := engine.RawLoan{
		ID:   h.LoanID,
		Name: h.Name,
	}
	if h.LoanAmount != 0 {
		amount := h.LoanAmount
		r.LoanAmount = &amount
	}
	if h.CountryCode != "" {
		country := h.CountryCode
		r.CountryCode = &country
	}
	if h.SectorName != "" {
		sector := h.SectorName
		r.SectorName = &sector
	}
	if h.BorrowerID != "" {
		borrower := h.BorrowerID
		r.BorrowerID = &borrower
	}
	if h.PartnerID != nil {
		r.Partner = &engine.RawPartner{ID: *h.PartnerID, Name: h.PartnerName}
	}
	return r
}
