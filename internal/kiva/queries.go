package kiva

import "github.com/amara/loan-screener/internal/engine"

// loanFields is shared by both queries. ageAtTimeOfLoan lives on the
// LoanDirect subtype only, hence the inline fragment.
const loanFields = `
      __typename
      id
      name
      description
      descriptionInOriginalLanguage
      loanAmount
      lenderRepaymentTerm
      geocode { country { isoCode name } }
      sector { id name }
      partner { id name riskRating defaultRate }
      borrowers { id }
      tags
      ... on LoanDirect { ageAtTimeOfLoan }`

const fundraisingLoansQuery = `query ScreeningCandidates($limit: Int!, $page: Int!, $filters: LoanSearchFiltersInput) {
  fundraisingLoans(limit: $limit, pageNumber: $page, sortBy: mostRecent, filters: $filters) {
    totalCount
    values {` + loanFields + `
    }
  }
}`

const lenderLoansQuery = `query LenderPortfolio($publicId: String!, $limit: Int!, $offset: Int!) {
  lender(publicId: $publicId) {
    loans(limit: $limit, offset: $offset) {
      totalCount
      values {` + loanFields + `
      }
    }
  }
}`

// SupersetFilter maps a screening config onto the loosest gateway filter
// that cannot exclude a loan the evaluator would accept. The gateway can
// bound the default rate from above but not from below, so batch B and BOTH
// share the 2% ceiling and the evaluator re-derives the split locally. Age,
// phrase, caps and sectors are client-side only.
func SupersetFilter(cfg engine.FilterConfig) map[string]any {
	rateCeilingPct := 2.0
	if cfg.Batch == engine.BatchA {
		rateCeilingPct = 1.0
	}
	return map[string]any{
		"riskRating":  map[string]any{"min": 2.0},
		"defaultRate": map[string]any{"max": rateCeilingPct},
	}
}
