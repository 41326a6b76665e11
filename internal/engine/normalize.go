package engine

import "fmt"

// UnknownCountry is the placeholder code for loans whose geocode is missing.
const UnknownCountry = "??"

// Normalize converts a RawLoan into the canonical Loan every rule reads.
// It is total and idempotent: the same raw record always yields the same
// loan, and it never consults any other loan. Defaulting rules:
//
//   - missing age, term, risk rating, default rate stay nil (unknown != 0)
//   - missing partner becomes the "Direct" pseudo-partner with nil metrics
//   - missing country becomes the two-character UnknownCountry placeholder
//   - missing borrower id becomes "anon-<loanID>", which is stable for the
//     same loan and cannot collide across distinct loans
func Normalize(raw RawLoan) Loan {
	loan := Loan{
		ID:                  raw.ID,
		Name:                raw.Name,
		Description:         raw.Description,
		DescriptionOriginal: raw.DescriptionOriginal,
		CountryCode:         UnknownCountry,
		PartnerName:         "Direct",
		BorrowerID:          fmt.Sprintf("anon-%d", raw.ID),
		TermMonths:          raw.TermMonths,
		Age:                 raw.Age,
		Tags:                raw.Tags,
	}

	if raw.LoanAmount != nil {
		loan.LoanAmount = *raw.LoanAmount
	}
	if raw.CountryCode != nil && *raw.CountryCode != "" {
		loan.CountryCode = *raw.CountryCode
	}
	if raw.SectorID != nil {
		loan.SectorID = *raw.SectorID
	}
	if raw.SectorName != nil {
		loan.SectorName = *raw.SectorName
	}
	if raw.BorrowerID != nil && *raw.BorrowerID != "" {
		loan.BorrowerID = *raw.BorrowerID
	}

	if raw.Partner != nil {
		id := raw.Partner.ID
		loan.PartnerID = &id
		loan.PartnerName = raw.Partner.Name
		loan.RiskRating = raw.Partner.RiskRating
		loan.DefaultRate = raw.Partner.DefaultRate
	}

	return loan
}

// NormalizeAll maps Normalize over a slice, preserving order.
func NormalizeAll(raws []RawLoan) []Loan {
	loans := make([]Loan, len(raws))
	for i, raw := range raws {
		loans[i] = Normalize(raw)
	}
	return loans
}
