package engine

import (
	"fmt"
	"strings"
)

// Evaluate renders the verdict for one candidate against a portfolio
// snapshot. Rules run in a fixed order and every failing rule appends a
// reason; nothing short-circuits, so a rejected loan still carries its
// tier, shares and batch membership for display.
//
// Order: batch, age, phrase, term, country cap, partner cap, sector.
func Evaluate(cand Loan, portfolio []Loan, cfg FilterConfig) Result {
	res := Result{Loan: cand}
	res.PriorLoans, res.Tier, res.LendAmount = ResolveTier(portfolio, cand)
	res.CountryShare, res.PartnerShare = Exposure(portfolio, cand)
	res.InBatchA, res.InBatchB = ClassifyBatches(cand.RiskRating, cand.DefaultRate)

	res.Reasons = append(res.Reasons, batchReasons(cand, res.InBatchA, res.InBatchB, cfg.Batch)...)

	if cfg.AgeFilter {
		switch {
		case cand.Age == nil:
			res.Reasons = append(res.Reasons, "borrower age unknown (age filter is on)")
		case *cand.Age < cfg.MinAge || *cand.Age > cfg.MaxAge:
			res.Reasons = append(res.Reasons, fmt.Sprintf("borrower age %d outside %d-%d", *cand.Age, cfg.MinAge, cfg.MaxAge))
		}
	}

	// An empty phrase deactivates the check; there is nothing to miss.
	phrase := strings.TrimSpace(cfg.Phrase)
	res.PhraseMatched = true
	if phrase != "" {
		res.PhraseMatched = containsFold(cand.Description, phrase) || containsFold(cand.DescriptionOriginal, phrase)
		if !res.PhraseMatched {
			res.Reasons = append(res.Reasons, fmt.Sprintf("description does not mention %q", phrase))
		}
	}

	if cfg.MaxTermMonths > 0 {
		switch {
		case cand.TermMonths == nil:
			res.Reasons = append(res.Reasons, fmt.Sprintf("repayment term unknown (cap is %d months)", cfg.MaxTermMonths))
		case *cand.TermMonths > cfg.MaxTermMonths:
			res.Reasons = append(res.Reasons, fmt.Sprintf("repayment term %d months exceeds cap of %d", *cand.TermMonths, cfg.MaxTermMonths))
		}
	}

	if res.CountryShare*100 >= cfg.CountryCapPct {
		res.Reasons = append(res.Reasons, fmt.Sprintf("country %s would reach %.1f%% of portfolio (cap %.0f%%)",
			cand.CountryCode, res.CountryShare*100, cfg.CountryCapPct))
	}

	// Direct loans have no partner exposure, so the cap only applies when a
	// partner is present.
	if cand.PartnerID != nil && res.PartnerShare*100 >= cfg.PartnerCapPct {
		res.Reasons = append(res.Reasons, fmt.Sprintf("partner %s would reach %.1f%% of portfolio (cap %.0f%%)",
			cand.PartnerName, res.PartnerShare*100, cfg.PartnerCapPct))
	}

	for _, excluded := range cfg.ExcludedSectors {
		if strings.EqualFold(strings.TrimSpace(excluded), cand.SectorName) {
			res.Reasons = append(res.Reasons, fmt.Sprintf("sector %s is excluded", cand.SectorName))
			break
		}
	}

	res.Eligible = len(res.Reasons) == 0
	return res
}

// batchReasons explains a failed batch check. Unknown metrics get one reason
// per missing field; fully known metrics that land outside the selected
// batch get a single reason quoting the actual values and the batch bounds.
func batchReasons(cand Loan, inA, inB bool, sel BatchSelector) []string {
	var reasons []string
	if cand.RiskRating == nil {
		reasons = append(reasons, "partner risk rating unknown (required for batch check)")
	}
	if cand.DefaultRate == nil {
		reasons = append(reasons, "partner default rate unknown (required for batch check)")
	}
	if len(reasons) > 0 {
		return reasons
	}

	risk := *cand.RiskRating
	ratePct := *cand.DefaultRate * 100
	switch sel {
	case BatchA:
		if !inA {
			reasons = append(reasons, fmt.Sprintf("outside batch A: risk rating %.1f, default rate %.2f%% (batch A is risk >= 2 with default rate <= 1%%)",
				risk, ratePct))
		}
	case BatchB:
		if !inB {
			reasons = append(reasons, fmt.Sprintf("outside batch B: risk rating %.1f, default rate %.2f%% (batch B is risk >= 2 with default rate over 1%% up to 2%%)",
				risk, ratePct))
		}
	default:
		if !inA && !inB {
			reasons = append(reasons, fmt.Sprintf("outside batches A and B: risk rating %.1f, default rate %.2f%% (need risk >= 2 with default rate <= 2%%)",
				risk, ratePct))
		}
	}
	return reasons
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
