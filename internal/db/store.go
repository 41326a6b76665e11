package db

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/amara/loan-screener/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	Query          string
	QueryEmbedding []float32
	Eligibility    string // "eligible" (default), "rejected", or "all"
	Country        []string
	Sector         []string
	Partner        []string
	Batch          string // "a" or "b"
	Tier           int
	MinAmount      float64
	MaxAmount      float64
	SortBy         string
	Limit          int
	Offset         int
}

type ListResult struct {
	Loans  []models.ScreenedLoan `json:"loans"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// screenedCols is the comprehensive column list for all verdict queries.
const screenedCols = `loan_id, name, description, description_original, country_code,
	sector_id, sector_name, borrower_id, partner_id, partner_name,
	risk_rating, default_rate, age, term_months, loan_amount,
	tags, eligible, reasons, prior_loans, tier,
	lend_amount, country_share, partner_share, in_batch_a, in_batch_b,
	phrase_matched, last_run_id, created_at, updated_at`

func scanScreenedLoan(scan func(dest ...interface{}) error) (models.ScreenedLoan, error) {
	var l models.ScreenedLoan

	err := scan(
		&l.LoanID, &l.Name, &l.Description, &l.DescriptionOriginal, &l.CountryCode,
		&l.SectorID, &l.SectorName, &l.BorrowerID, &l.PartnerID, &l.PartnerName,
		&l.RiskRating, &l.DefaultRate, &l.Age, &l.TermMonths, &l.LoanAmount,
		&l.Tags, &l.Eligible, &l.Reasons, &l.PriorLoans, &l.Tier,
		&l.LendAmount, &l.CountryShare, &l.PartnerShare, &l.InBatchA, &l.InBatchB,
		&l.PhraseMatched, &l.LastRunID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}

	if l.Tags == nil {
		l.Tags = []string{}
	}
	if l.Reasons == nil {
		l.Reasons = []string{}
	}

	return l, nil
}

func (s *Store) ListScreenedLoans(ctx context.Context, params ListParams) (*ListResult, error) {
	// 1. Build WHERE clause and Args
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	// Hybrid Search / Scoring
	if params.Query != "" {
		where += fmt.Sprintf(" AND (search_vector @@ plainto_tsquery('english', $%d) OR name ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, params.Query)
		argIdx++
	}

	where += buildEligibilityConstraint(params.Eligibility)
	where += buildBatchConstraint(params.Batch)

	if len(params.Country) > 0 {
		params.Country = sanitizeStringSlice(params.Country)
	}
	if len(params.Country) > 0 {
		where += fmt.Sprintf(" AND country_code = ANY($%d)", argIdx)
		args = append(args, params.Country)
		argIdx++
	}
	if len(params.Sector) > 0 {
		params.Sector = sanitizeStringSlice(params.Sector)
	}
	if len(params.Sector) > 0 {
		where += fmt.Sprintf(" AND sector_name = ANY($%d)", argIdx)
		args = append(args, params.Sector)
		argIdx++
	}
	if len(params.Partner) > 0 {
		params.Partner = sanitizeStringSlice(params.Partner)
	}
	if len(params.Partner) > 0 {
		where += fmt.Sprintf(" AND partner_name = ANY($%d)", argIdx)
		args = append(args, params.Partner)
		argIdx++
	}
	if params.Tier > 0 {
		where += fmt.Sprintf(" AND tier = $%d", argIdx)
		args = append(args, params.Tier)
		argIdx++
	}
	if params.MinAmount > 0 {
		where += fmt.Sprintf(" AND loan_amount >= $%d", argIdx)
		args = append(args, params.MinAmount)
		argIdx++
	}
	if params.MaxAmount > 0 {
		where += fmt.Sprintf(" AND loan_amount <= $%d", argIdx)
		args = append(args, params.MaxAmount)
		argIdx++
	}

	// 2. Count Total
	var total int
	countSQL := "SELECT COUNT(*) FROM screened_loans " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	// 3. Select Data with Scoring/Sorting
	selectSQL := fmt.Sprintf("SELECT %s FROM screened_loans %s", screenedCols, where)

	// Sorting
	switch params.SortBy {
	case "amount_desc":
		selectSQL += " ORDER BY loan_amount DESC, updated_at DESC"
	case "tier":
		selectSQL += " ORDER BY tier DESC, updated_at DESC"
	case "newest":
		selectSQL += " ORDER BY updated_at DESC, created_at DESC"
	default: // "relevance"
		if len(params.QueryEmbedding) > 0 {
			vectorArg := argIdx
			queryArg := argIdx + 1
			args = append(args, pgvector.NewVector(params.QueryEmbedding), params.Query)
			argIdx += 2

			selectSQL += fmt.Sprintf(`
				ORDER BY
					CASE WHEN embedding IS NULL THEN 1 ELSE 0 END ASC,
					COALESCE(1 - (embedding <=> $%d), -1) DESC,
					CASE WHEN NULLIF($%d::text, '') IS NULL THEN 0 ELSE ts_rank(search_vector, plainto_tsquery('english', $%d::text)) END DESC,
					updated_at DESC,
					created_at DESC
			`, vectorArg, queryArg, queryArg)
		} else if params.Query != "" {
			queryArg := argIdx
			args = append(args, params.Query)
			argIdx++
			selectSQL += fmt.Sprintf(" ORDER BY ts_rank(search_vector, plainto_tsquery('english', $%d::text)) DESC, updated_at DESC, created_at DESC", queryArg)
		} else {
			selectSQL += " ORDER BY updated_at DESC, created_at DESC"
		}
	}

	// Pagination
	selectSQL += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	// Execute
	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var loans []models.ScreenedLoan
	for rows.Next() {
		l, err := scanScreenedLoan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	if loans == nil {
		loans = []models.ScreenedLoan{}
	}

	return &ListResult{
		Loans:  loans,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

// buildEligibilityConstraint maps the public eligibility filter onto the
// verdict column. Anything unrecognized falls back to eligible rows only,
// which is the default tab.
func buildEligibilityConstraint(eligibility string) string {
	switch strings.ToLower(strings.TrimSpace(eligibility)) {
	case "all":
		return ""
	case "rejected":
		return " AND eligible = FALSE"
	default:
		return " AND eligible = TRUE"
	}
}

func buildBatchConstraint(batch string) string {
	switch strings.ToLower(strings.TrimSpace(batch)) {
	case "a":
		return " AND in_batch_a = TRUE"
	case "b":
		return " AND in_batch_b = TRUE"
	default:
		return ""
	}
}

func sanitizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return values
	}

	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}

	return clean
}

func (s *Store) GetScreenedLoan(ctx context.Context, loanID int64) (*models.ScreenedLoan, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM screened_loans
		WHERE loan_id = $1
	`, screenedCols)
	row := s.pool.QueryRow(ctx, sql, loanID)

	l, err := scanScreenedLoan(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}

	return &l, nil
}

// UpsertScreenedLoan writes one verdict, keyed by loan id. A re-screen of
// the same loan overwrites the verdict; partner metrics and the embedding
// are only replaced when the new row actually carries them, so enrichment
// survives a later fetch that comes back without those fields.
func (s *Store) UpsertScreenedLoan(ctx context.Context, l models.ScreenedLoan, embedding []float32) error {
	query := `
		INSERT INTO screened_loans (
			loan_id, name, description, description_original, country_code,
			sector_id, sector_name, borrower_id, partner_id, partner_name,
			risk_rating, default_rate, age, term_months, loan_amount,
			tags, eligible, reasons, prior_loans, tier,
			lend_amount, country_share, partner_share, in_batch_a, in_batch_b,
			phrase_matched, embedding, last_run_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26, $27, $28
		)
		ON CONFLICT (loan_id) DO UPDATE SET
			updated_at = NOW(),
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			description_original = EXCLUDED.description_original,
			country_code = EXCLUDED.country_code,
			sector_id = EXCLUDED.sector_id,
			sector_name = EXCLUDED.sector_name,
			borrower_id = EXCLUDED.borrower_id,
			partner_id = EXCLUDED.partner_id,
			partner_name = EXCLUDED.partner_name,
			risk_rating = COALESCE(EXCLUDED.risk_rating, screened_loans.risk_rating),
			default_rate = COALESCE(EXCLUDED.default_rate, screened_loans.default_rate),
			age = COALESCE(EXCLUDED.age, screened_loans.age),
			term_months = COALESCE(EXCLUDED.term_months, screened_loans.term_months),
			loan_amount = EXCLUDED.loan_amount,
			tags = EXCLUDED.tags,
			eligible = EXCLUDED.eligible,
			reasons = EXCLUDED.reasons,
			prior_loans = EXCLUDED.prior_loans,
			tier = EXCLUDED.tier,
			lend_amount = EXCLUDED.lend_amount,
			country_share = EXCLUDED.country_share,
			partner_share = EXCLUDED.partner_share,
			in_batch_a = EXCLUDED.in_batch_a,
			in_batch_b = EXCLUDED.in_batch_b,
			phrase_matched = EXCLUDED.phrase_matched,
			embedding = COALESCE(EXCLUDED.embedding, screened_loans.embedding),
			last_run_id = EXCLUDED.last_run_id
	`

	var vec interface{}
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	_, err := s.pool.Exec(ctx, query,
		l.LoanID,              // $1
		l.Name,                // $2
		l.Description,         // $3
		l.DescriptionOriginal, // $4
		l.CountryCode,         // $5
		l.SectorID,            // $6
		l.SectorName,          // $7
		l.BorrowerID,          // $8
		l.PartnerID,           // $9
		l.PartnerName,         // $10
		l.RiskRating,          // $11
		l.DefaultRate,         // $12
		l.Age,                 // $13
		l.TermMonths,          // $14
		l.LoanAmount,          // $15
		l.Tags,                // $16
		l.Eligible,            // $17
		l.Reasons,             // $18
		l.PriorLoans,          // $19
		l.Tier,                // $20
		l.LendAmount,          // $21
		l.CountryShare,        // $22
		l.PartnerShare,        // $23
		l.InBatchA,            // $24
		l.InBatchB,            // $25
		l.PhraseMatched,       // $26
		vec,                   // $27
		l.LastRunID,           // $28
	)
	if err != nil {
		return fmt.Errorf("upsert loan %d failed: %w", l.LoanID, err)
	}

	return nil
}

// ScreenedLoansAfter pages through stored verdicts by loan id, for batch
// re-evaluation without loading the whole table.
func (s *Store) ScreenedLoansAfter(ctx context.Context, afterID int64, limit int) ([]models.ScreenedLoan, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM screened_loans
		WHERE loan_id > $1
		ORDER BY loan_id ASC
		LIMIT $2
	`, screenedCols)

	rows, err := s.pool.Query(ctx, sql, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var loans []models.ScreenedLoan
	for rows.Next() {
		l, err := scanScreenedLoan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		loans = append(loans, l)
	}

	return loans, rows.Err()
}

// PartnerRef identifies a field partner whose stored loans are missing
// risk metrics, with how many loans are affected.
type PartnerRef struct {
	PartnerID   int64  `json:"partner_id"`
	PartnerName string `json:"partner_name"`
	Loans       int    `json:"loans"`
}

func (s *Store) PartnersMissingMetrics(ctx context.Context, limit int) ([]PartnerRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT partner_id, partner_name, COUNT(*)
		FROM screened_loans
		WHERE partner_id IS NOT NULL AND (risk_rating IS NULL OR default_rate IS NULL)
		GROUP BY partner_id, partner_name
		ORDER BY COUNT(*) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var refs []PartnerRef
	for rows.Next() {
		var ref PartnerRef
		if err := rows.Scan(&ref.PartnerID, &ref.PartnerName, &ref.Loans); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// UpdatePartnerMetrics fills risk numbers for every stored loan under one
// partner. Returns how many rows were touched.
func (s *Store) UpdatePartnerMetrics(ctx context.Context, partnerID int64, riskRating, defaultRate float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE screened_loans
		SET risk_rating = $2, default_rate = $3, updated_at = NOW()
		WHERE partner_id = $1
	`, partnerID, riskRating, defaultRate)
	if err != nil {
		return 0, fmt.Errorf("update partner %d failed: %w", partnerID, err)
	}

	return tag.RowsAffected(), nil
}

const portfolioCols = `loan_id, name, country_code, sector_name, borrower_id,
	partner_id, partner_name, loan_amount, source, acquired_at`

func scanPortfolioLoan(scan func(dest ...interface{}) error) (models.PortfolioLoan, error) {
	var p models.PortfolioLoan
	err := scan(
		&p.LoanID, &p.Name, &p.CountryCode, &p.SectorName, &p.BorrowerID,
		&p.PartnerID, &p.PartnerName, &p.LoanAmount, &p.Source, &p.AcquiredAt,
	)
	return p, err
}

func (s *Store) UpsertPortfolioLoan(ctx context.Context, p models.PortfolioLoan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO portfolio_loans (
			loan_id, name, country_code, sector_name, borrower_id,
			partner_id, partner_name, loan_amount, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (loan_id) DO UPDATE SET
			name = EXCLUDED.name,
			country_code = EXCLUDED.country_code,
			sector_name = EXCLUDED.sector_name,
			borrower_id = EXCLUDED.borrower_id,
			partner_id = EXCLUDED.partner_id,
			partner_name = EXCLUDED.partner_name,
			loan_amount = EXCLUDED.loan_amount,
			source = EXCLUDED.source
	`,
		p.LoanID, p.Name, p.CountryCode, p.SectorName, p.BorrowerID,
		p.PartnerID, p.PartnerName, p.LoanAmount, p.Source,
	)
	if err != nil {
		return fmt.Errorf("upsert portfolio loan %d failed: %w", p.LoanID, err)
	}

	return nil
}

func (s *Store) GetPortfolio(ctx context.Context) ([]models.PortfolioLoan, error) {
	sql := fmt.Sprintf("SELECT %s FROM portfolio_loans ORDER BY acquired_at DESC, loan_id DESC", portfolioCols)

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var loans []models.PortfolioLoan
	for rows.Next() {
		p, err := scanPortfolioLoan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		loans = append(loans, p)
	}

	if loans == nil {
		loans = []models.PortfolioLoan{}
	}

	return loans, rows.Err()
}

func (s *Store) DeletePortfolioLoan(ctx context.Context, loanID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM portfolio_loans WHERE loan_id = $1", loanID)
	if err != nil {
		return false, fmt.Errorf("delete portfolio loan %d failed: %w", loanID, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (s *Store) PortfolioCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM portfolio_loans").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count portfolio failed: %w", err)
	}

	return count, nil
}

const runCols = `id, profile, status, fetched, evaluated, passed, portfolio_size, error, started_at, completed_at`

func scanRun(scan func(dest ...interface{}) error) (models.ScreeningRun, error) {
	var r models.ScreeningRun
	var errMsg *string

	err := scan(
		&r.ID, &r.Profile, &r.Status, &r.Fetched, &r.Evaluated,
		&r.Passed, &r.PortfolioSize, &errMsg, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return r, err
	}

	if errMsg != nil {
		r.Error = *errMsg
	}

	return r, nil
}

func (s *Store) CreateRun(ctx context.Context, profile string) (*models.ScreeningRun, error) {
	run := models.ScreeningRun{
		ID:      uuid.New(),
		Profile: profile,
		Status:  "running",
	}

	err := s.pool.QueryRow(ctx,
		"INSERT INTO screening_runs (id, profile) VALUES ($1, $2) RETURNING started_at",
		run.ID, run.Profile,
	).Scan(&run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create run failed: %w", err)
	}

	return &run, nil
}

func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, fetched, evaluated, passed, portfolioSize int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE screening_runs
		SET status = 'completed', fetched = $2, evaluated = $3, passed = $4,
			portfolio_size = $5, completed_at = NOW()
		WHERE id = $1
	`, id, fetched, evaluated, passed, portfolioSize)
	if err != nil {
		return fmt.Errorf("complete run %s failed: %w", id, err)
	}

	return nil
}

func (s *Store) FailRun(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE screening_runs
		SET status = 'failed', error = $2, completed_at = NOW()
		WHERE id = $1
	`, id, nilIfEmpty(message))
	if err != nil {
		return fmt.Errorf("fail run %s failed: %w", id, err)
	}

	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.ScreeningRun, error) {
	sql := fmt.Sprintf("SELECT %s FROM screening_runs WHERE id = $1", runCols)
	row := s.pool.QueryRow(ctx, sql, id)

	r, err := scanRun(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}

	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.ScreeningRun, error) {
	sql := fmt.Sprintf("SELECT %s FROM screening_runs ORDER BY started_at DESC LIMIT $1", runCols)

	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []models.ScreeningRun
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		runs = append(runs, r)
	}

	if runs == nil {
		runs = []models.ScreeningRun{}
	}

	return runs, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	// A failed count reads as zero; log it so a broken table is visible.
	count := func(key, sql string) {
		var n int
		if err := s.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
			log.Printf("[DB] Stats count %q failed: %v", key, err)
		}
		stats[key] = n
	}

	count("screened", "SELECT COUNT(*) FROM screened_loans")
	count("eligible", "SELECT COUNT(*) FROM screened_loans WHERE eligible = TRUE")
	count("batch_a", "SELECT COUNT(*) FROM screened_loans WHERE in_batch_a = TRUE")
	count("batch_b", "SELECT COUNT(*) FROM screened_loans WHERE in_batch_b = TRUE")
	count("countries", "SELECT COUNT(DISTINCT country_code) FROM screened_loans")
	count("partners", "SELECT COUNT(DISTINCT partner_id) FROM screened_loans WHERE partner_id IS NOT NULL")
	count("portfolio", "SELECT COUNT(*) FROM portfolio_loans")
	count("runs", "SELECT COUNT(*) FROM screening_runs")

	eligibleByCountry := map[string]int{}
	rows, err := s.pool.Query(ctx, "SELECT country_code, COUNT(*) FROM screened_loans WHERE eligible = TRUE GROUP BY country_code")
	if err != nil {
		log.Printf("[DB] Stats eligible-by-country query failed: %v", err)
	}
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var country string
			var count int
			if scanErr := rows.Scan(&country, &count); scanErr == nil {
				eligibleByCountry[country] = count
			}
		}
	}
	stats["eligible_by_country"] = eligibleByCountry

	return stats, nil
}

// Aggregation represents a single facet count.
type Aggregation struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// AggregationResult contains all facet counts for the sidebar filters.
type AggregationResult struct {
	Countries []Aggregation `json:"countries"`
	Sectors   []Aggregation `json:"sectors"`
	Partners  []Aggregation `json:"partners"`
	Tiers     []Aggregation `json:"tiers"`
}

// AggregationParams controls which subset of screened loans is used for
// facet counts.
type AggregationParams struct {
	Eligibility string
	Batch       string
	Country     []string
	Sector      []string
	Partner     []string
}

func (s *Store) GetAggregations(ctx context.Context, params AggregationParams) (*AggregationResult, error) {
	result := &AggregationResult{}

	// Cross-faceted filtering: each dimension's query EXCLUDES its own filter
	// so the sidebar always shows all options with correct counts.

	// Countries — exclude country filter
	{
		w, a := buildAggregationWhereExcluding(params, "country")
		q := fmt.Sprintf(`SELECT country_code, COUNT(*) FROM screened_loans %s GROUP BY country_code ORDER BY COUNT(*) DESC`, w)
		rows, err := s.pool.Query(ctx, q, a...)
		if err == nil {
			for rows.Next() {
				var ag Aggregation
				if err := rows.Scan(&ag.Value, &ag.Count); err == nil && ag.Value != "" {
					result.Countries = append(result.Countries, ag)
				}
			}
			rows.Close()
		}
	}

	// Sectors — exclude sector filter
	{
		w, a := buildAggregationWhereExcluding(params, "sector")
		q := fmt.Sprintf(`SELECT sector_name, COUNT(*) FROM screened_loans %s AND sector_name != '' GROUP BY sector_name ORDER BY COUNT(*) DESC`, w)
		rows, err := s.pool.Query(ctx, q, a...)
		if err == nil {
			for rows.Next() {
				var ag Aggregation
				if err := rows.Scan(&ag.Value, &ag.Count); err == nil {
					result.Sectors = append(result.Sectors, ag)
				}
			}
			rows.Close()
		}
	}

	// Partners — exclude partner filter
	{
		w, a := buildAggregationWhereExcluding(params, "partner")
		q := fmt.Sprintf(`SELECT partner_name, COUNT(*) FROM screened_loans %s GROUP BY partner_name ORDER BY COUNT(*) DESC LIMIT 50`, w)
		rows, err := s.pool.Query(ctx, q, a...)
		if err == nil {
			for rows.Next() {
				var ag Aggregation
				if err := rows.Scan(&ag.Value, &ag.Count); err == nil && ag.Value != "" {
					result.Partners = append(result.Partners, ag)
				}
			}
			rows.Close()
		}
	}

	// Tiers — tier is not a sidebar filter, so nothing to exclude
	{
		w, a := buildAggregationWhereExcluding(params, "")
		q := fmt.Sprintf(`SELECT tier::text, COUNT(*) FROM screened_loans %s GROUP BY tier ORDER BY tier ASC`, w)
		rows, err := s.pool.Query(ctx, q, a...)
		if err == nil {
			for rows.Next() {
				var ag Aggregation
				if err := rows.Scan(&ag.Value, &ag.Count); err == nil {
					result.Tiers = append(result.Tiers, ag)
				}
			}
			rows.Close()
		}
	}

	return result, nil
}

// buildAggregationWhereExcluding constructs a WHERE clause that mirrors the
// filtering used by ListScreenedLoans. The `exclude` parameter names the
// dimension to omit, implementing cross-faceted filtering so each sidebar
// section always shows all available options (not just the currently
// selected one).
func buildAggregationWhereExcluding(params AggregationParams, exclude string) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	// Eligibility and batch are never excluded — they apply to all dimensions.
	where += buildEligibilityConstraint(params.Eligibility)
	where += buildBatchConstraint(params.Batch)

	if len(params.Country) > 0 && exclude != "country" {
		where += fmt.Sprintf(" AND country_code = ANY($%d)", argIdx)
		args = append(args, params.Country)
		argIdx++
	}
	if len(params.Sector) > 0 && exclude != "sector" {
		where += fmt.Sprintf(" AND sector_name = ANY($%d)", argIdx)
		args = append(args, params.Sector)
		argIdx++
	}
	if len(params.Partner) > 0 && exclude != "partner" {
		where += fmt.Sprintf(" AND partner_name = ANY($%d)", argIdx)
		args = append(args, params.Partner)
		argIdx++
	}

	return where, args
}

func nilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
