package kiva

import (
	"strconv"

	"github.com/amara/loan-screener/internal/engine"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   gqlData    `json:"data"`
	Errors []gqlError `json:"errors"`
}

type gqlData struct {
	FundraisingLoans *loanPage `json:"fundraisingLoans"`
	Lender           *struct {
		Loans *loanPage `json:"loans"`
	} `json:"lender"`
}

type loanPage struct {
	TotalCount int          `json:"totalCount"`
	Values     []loanRecord `json:"values"`
}

// loanRecord mirrors the gateway's loan shape. ageAtTimeOfLoan only appears
// on the LoanDirect subtype; loanAmount is a Money scalar serialized as a
// string; partner defaultRate arrives as a percentage.
type loanRecord struct {
	Typename            string `json:"__typename"`
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	DescriptionOriginal string `json:"descriptionInOriginalLanguage"`
	LoanAmount          string `json:"loanAmount"`
	LenderRepaymentTerm *int   `json:"lenderRepaymentTerm"`
	AgeAtTimeOfLoan     *int   `json:"ageAtTimeOfLoan"`
	Geocode             *struct {
		Country *struct {
			ISOCode string `json:"isoCode"`
			Name    string `json:"name"`
		} `json:"country"`
	} `json:"geocode"`
	Sector *struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"sector"`
	Partner *struct {
		ID          int64    `json:"id"`
		Name        string   `json:"name"`
		RiskRating  *float64 `json:"riskRating"`
		DefaultRate *float64 `json:"defaultRate"`
	} `json:"partner"`
	Borrowers []struct {
		ID int64 `json:"id"`
	} `json:"borrowers"`
	Tags []string `json:"tags"`
}

func (r loanRecord) toRawLoan() engine.RawLoan {
	raw := engine.RawLoan{
		ID:                  r.ID,
		Name:                r.Name,
		Description:         r.Description,
		DescriptionOriginal: r.DescriptionOriginal,
		Tags:                r.Tags,
	}

	if amt, err := strconv.ParseFloat(r.LoanAmount, 64); err == nil && amt > 0 {
		raw.LoanAmount = &amt
	}
	// The gateway sometimes reports zero for unknown ages and terms; zero is
	// never a real value for either, so treat it as missing.
	if r.AgeAtTimeOfLoan != nil && *r.AgeAtTimeOfLoan > 0 {
		raw.Age = r.AgeAtTimeOfLoan
	}
	if r.LenderRepaymentTerm != nil && *r.LenderRepaymentTerm > 0 {
		raw.TermMonths = r.LenderRepaymentTerm
	}
	if r.Geocode != nil && r.Geocode.Country != nil && r.Geocode.Country.ISOCode != "" {
		iso := r.Geocode.Country.ISOCode
		raw.CountryCode = &iso
	}
	if r.Sector != nil {
		id, name := r.Sector.ID, r.Sector.Name
		raw.SectorID = &id
		raw.SectorName = &name
	}
	if len(r.Borrowers) > 0 {
		b := strconv.FormatInt(r.Borrowers[0].ID, 10)
		raw.BorrowerID = &b
	}
	if r.Partner != nil {
		partner := &engine.RawPartner{
			ID:         r.Partner.ID,
			Name:       r.Partner.Name,
			RiskRating: r.Partner.RiskRating,
		}
		if r.Partner.DefaultRate != nil {
			frac := *r.Partner.DefaultRate / 100
			partner.DefaultRate = &frac
		}
		raw.Partner = partner
	}

	return raw
}

func toRawLoans(records []loanRecord) []engine.RawLoan {
	raws := make([]engine.RawLoan, len(records))
	for i, rec := range records {
		raws[i] = rec.toRawLoan()
	}
	return raws
}
