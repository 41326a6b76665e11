package engine

import "errors"

// ErrInvalidInput is returned by Run when a loan record arrives without an id.
// Every other gap in the data is absorbed by normalization defaults.
var ErrInvalidInput = errors.New("loan record is missing an id")

// RawLoan is a loan as fetched from the gateway, before normalization.
// Numeric fields that can legitimately be unknown are pointers; nil means
// unknown, never zero.
type RawLoan struct {
	ID                  int64
	Name                string
	Description         string
	DescriptionOriginal string
	LoanAmount          *float64
	TermMonths          *int
	Age                 *int
	CountryCode         *string
	SectorID            *int
	SectorName          *string
	BorrowerID          *string
	Partner             *RawPartner
	Tags                []string
}

// RawPartner carries the field-partner metrics the batch rules read.
// DefaultRate is a fraction (0.015 == 1.5%).
type RawPartner struct {
	ID          int64
	Name        string
	RiskRating  *float64
	DefaultRate *float64
}

// Loan is the normalized shape every rule trusts. Only the four fields that
// stay honestly unknown after normalization remain pointers.
type Loan struct {
	ID                  int64
	Name                string
	Description         string
	DescriptionOriginal string
	LoanAmount          float64
	TermMonths          *int
	Age                 *int
	CountryCode         string
	SectorID            int
	SectorName          string
	BorrowerID          string
	PartnerID           *int64
	PartnerName         string
	RiskRating          *float64
	DefaultRate         *float64
	Tags                []string
}

// Direct returns true when the loan has no field partner.
func (l Loan) Direct() bool {
	return l.PartnerID == nil
}

type BatchSelector string

const (
	BatchA    BatchSelector = "A"
	BatchB    BatchSelector = "B"
	BatchBoth BatchSelector = "BOTH"
)

// FilterConfig holds every tunable rule threshold. The tier table is fixed
// and deliberately not part of it.
type FilterConfig struct {
	Batch           BatchSelector `json:"batch"`
	AgeFilter       bool          `json:"age_filter"`
	MinAge          int           `json:"min_age"`
	MaxAge          int           `json:"max_age"`
	Phrase          string        `json:"phrase,omitempty"`
	MaxTermMonths   int           `json:"max_term_months"`
	CountryCapPct   float64       `json:"country_cap_pct"`
	PartnerCapPct   float64       `json:"partner_cap_pct"`
	ExcludedSectors []string      `json:"excluded_sectors,omitempty"`
}

// DefaultConfig returns the stock screening thresholds: both risk batches,
// borrowers aged 18-26, terms up to 36 months, 10% concentration caps, no
// phrase requirement, no excluded sectors.
func DefaultConfig() FilterConfig {
	return FilterConfig{
		Batch:         BatchBoth,
		AgeFilter:     true,
		MinAge:        18,
		MaxAge:        26,
		Phrase:        "",
		MaxTermMonths: 36,
		CountryCapPct: 10,
		PartnerCapPct: 10,
	}
}

// Result is the full verdict for one candidate: the normalized loan, the
// derived facts every verdict carries, and one reason per failed rule in
// rule order. Eligible is true exactly when Reasons is empty.
type Result struct {
	Loan          Loan
	PriorLoans    int
	Tier          int
	LendAmount    int
	CountryShare  float64
	PartnerShare  float64
	InBatchA      bool
	InBatchB      bool
	PhraseMatched bool
	Eligible      bool
	Reasons       []string
}
