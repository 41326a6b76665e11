package models

import (
	"time"

	"github.com/google/uuid"
)

// ScreenedLoan is the stored verdict for one fundraising loan. One row per
// loan id; a newer screening run overwrites the verdict and bumps
// LastRunID.
type ScreenedLoan struct {
	LoanID              int64      `json:"loan_id"`
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	DescriptionOriginal string     `json:"description_original,omitempty"`
	CountryCode         string     `json:"country_code"`
	SectorID            int        `json:"sector_id"`
	SectorName          string     `json:"sector_name"`
	BorrowerID          string     `json:"borrower_id"`
	PartnerID           *int64     `json:"partner_id"`
	PartnerName         string     `json:"partner_name"`
	RiskRating          *float64   `json:"risk_rating"`
	DefaultRate         *float64   `json:"default_rate"`
	Age                 *int       `json:"age"`
	TermMonths          *int       `json:"term_months"`
	LoanAmount          float64    `json:"loan_amount"`
	Tags                []string   `json:"tags"`
	Eligible            bool       `json:"eligible"`
	Reasons             []string   `json:"reasons"`
	PriorLoans          int        `json:"prior_loans"`
	Tier                int        `json:"tier"`
	LendAmount          int        `json:"lend_amount"`
	CountryShare        float64    `json:"country_share"`
	PartnerShare        float64    `json:"partner_share"`
	InBatchA            bool       `json:"in_batch_a"`
	InBatchB            bool       `json:"in_batch_b"`
	PhraseMatched       bool       `json:"phrase_matched"`
	LastRunID           *uuid.UUID `json:"last_run_id"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// PortfolioLoan is one loan the lender already holds. Source is
// "kiva-sync" for gateway imports and "manual" for hand-entered rows.
type PortfolioLoan struct {
	LoanID      int64     `json:"loan_id"`
	Name        string    `json:"name"`
	CountryCode string    `json:"country_code"`
	SectorName  string    `json:"sector_name"`
	BorrowerID  string    `json:"borrower_id"`
	PartnerID   *int64    `json:"partner_id"`
	PartnerName string    `json:"partner_name"`
	LoanAmount  float64   `json:"loan_amount"`
	Source      string    `json:"source"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// ScreeningRun records one end-to-end screening: which profile ran, how
// many candidates were fetched and evaluated, and how it ended.
type ScreeningRun struct {
	ID            uuid.UUID  `json:"id"`
	Profile       string     `json:"profile"`
	Status        string     `json:"status"` // running, completed, failed
	Fetched       int        `json:"fetched"`
	Evaluated     int        `json:"evaluated"`
	Passed        int        `json:"passed"`
	PortfolioSize int        `json:"portfolio_size"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}
