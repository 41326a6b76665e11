package engine

// lendAmountByTier is the fixed trust ladder: new borrowers start at $25 and
// graduate to $100 after three repaid loans. Not configurable.
var lendAmountByTier = map[int]int{
	1: 25,
	2: 25,
	3: 50,
	4: 100,
}

// ResolveTier counts portfolio loans already extended to the candidate's
// borrower and maps the count onto the trust ladder.
func ResolveTier(portfolio []Loan, cand Loan) (priorLoans, tier, lendAmount int) {
	for _, held := range portfolio {
		if held.BorrowerID == cand.BorrowerID {
			priorLoans++
		}
	}

	switch {
	case priorLoans == 0:
		tier = 1
	case priorLoans == 1:
		tier = 2
	case priorLoans == 2:
		tier = 3
	default:
		tier = 4
	}
	return priorLoans, tier, lendAmountByTier[tier]
}

// Exposure computes the prospective concentration shares as if the candidate
// were added to the portfolio. An empty portfolio yields 0 for both shares,
// so the first loan is never blocked on concentration. A direct loan (nil
// partner) always has a partner share of exactly 0.
func Exposure(portfolio []Loan, cand Loan) (countryShare, partnerShare float64) {
	if len(portfolio) == 0 {
		return 0, 0
	}

	denom := float64(len(portfolio) + 1)

	matchingCountry := 0
	for _, held := range portfolio {
		if held.CountryCode == cand.CountryCode {
			matchingCountry++
		}
	}
	countryShare = float64(matchingCountry+1) / denom

	if cand.PartnerID == nil {
		return countryShare, 0
	}
	matchingPartner := 0
	for _, held := range portfolio {
		if held.PartnerID != nil && *held.PartnerID == *cand.PartnerID {
			matchingPartner++
		}
	}
	partnerShare = float64(matchingPartner+1) / denom

	return countryShare, partnerShare
}

// ClassifyBatches reports membership in the two risk batches. Batch A is
// risk rating >= 2 with a default rate at or under 1%; batch B is the same
// risk floor with a default rate over 1% up to 2%. The batches are disjoint
// and a loan with either metric unknown belongs to neither.
func ClassifyBatches(riskRating, defaultRate *float64) (inA, inB bool) {
	if riskRating == nil || defaultRate == nil {
		return false, false
	}
	if *riskRating < 2 {
		return false, false
	}
	switch {
	case *defaultRate <= 0.01:
		return true, false
	case *defaultRate <= 0.02:
		return false, true
	default:
		return false, false
	}
}
