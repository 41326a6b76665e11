package engine

import (
	"strings"
	"testing"
)

// youngFarmer is the canonical passing candidate: batch A partner metrics,
// in-range age, short term, no portfolio conflicts.
func youngFarmer() Loan {
	pid := int64(77)
	return Loan{
		ID:          1001,
		Name:        "Esther",
		Description: "Esther raises dairy cows and needs feed for the dry season.",
		CountryCode: "KE",
		SectorID:    1,
		SectorName:  "Agriculture",
		BorrowerID:  "b-esther",
		PartnerID:   &pid,
		PartnerName: "Juhudi Kilimo",
		RiskRating:  fptr(3),
		DefaultRate: fptr(0.005),
		Age:         iptr(20),
		TermMonths:  iptr(6),
		LoanAmount:  425,
	}
}

func hasReasonContaining(reasons []string, fragment string) bool {
	for _, r := range reasons {
		if strings.Contains(r, fragment) {
			return true
		}
	}
	return false
}

func TestEvaluate_FirstLoanPassesBatchA(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch = BatchA

	res := Evaluate(youngFarmer(), nil, cfg)
	if !res.Eligible {
		t.Fatalf("expected eligible, got reasons %v", res.Reasons)
	}
	if len(res.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", res.Reasons)
	}
	if res.Tier != 1 || res.LendAmount != 25 {
		t.Fatalf("expected tier 1/$25 for a new borrower, got tier %d/$%d", res.Tier, res.LendAmount)
	}
	if res.CountryShare != 0 || res.PartnerShare != 0 {
		t.Fatalf("expected zero shares on an empty portfolio, got %f/%f", res.CountryShare, res.PartnerShare)
	}
	if !res.InBatchA || res.InBatchB {
		t.Fatalf("expected batch A membership, got A=%v B=%v", res.InBatchA, res.InBatchB)
	}
}

func TestEvaluate_SameLoanFailsBatchB(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch = BatchB

	res := Evaluate(youngFarmer(), nil, cfg)
	if res.Eligible {
		t.Fatal("expected ineligible under batch B")
	}
	if len(res.Reasons) != 1 {
		t.Fatalf("expected exactly one reason, got %v", res.Reasons)
	}
	if !strings.Contains(res.Reasons[0], "batch B") {
		t.Fatalf("expected a batch-B reason, got %q", res.Reasons[0])
	}
	if !strings.Contains(res.Reasons[0], "0.50%") {
		t.Fatalf("expected the reason to quote the 0.50%% default rate, got %q", res.Reasons[0])
	}
}

func TestEvaluate_RepeatBorrowerReachesTier4(t *testing.T) {
	portfolio := []Loan{
		heldLoan(1, "B1", "PE", 0),
		heldLoan(2, "B1", "BO", 0),
		heldLoan(3, "B1", "TZ", 0),
	}
	cand := youngFarmer()
	cand.BorrowerID = "B1"

	res := Evaluate(cand, portfolio, DefaultConfig())
	if res.PriorLoans != 3 {
		t.Fatalf("expected 3 prior loans, got %d", res.PriorLoans)
	}
	if res.Tier != 4 || res.LendAmount != 100 {
		t.Fatalf("expected tier 4/$100, got tier %d/$%d", res.Tier, res.LendAmount)
	}
}

func TestEvaluate_AllKenyaPortfolioTripsCountryCap(t *testing.T) {
	portfolio := make([]Loan, 0, 9)
	for i := int64(1); i <= 9; i++ {
		portfolio = append(portfolio, heldLoan(i, "", "KE", 0))
	}

	res := Evaluate(youngFarmer(), portfolio, DefaultConfig())
	if res.CountryShare != 1.0 {
		t.Fatalf("expected country share 1.0, got %f", res.CountryShare)
	}
	if res.Eligible {
		t.Fatal("expected ineligible at 100% country exposure against a 10% cap")
	}
	if !hasReasonContaining(res.Reasons, "country KE") {
		t.Fatalf("expected a country-cap reason naming KE, got %v", res.Reasons)
	}
	if !hasReasonContaining(res.Reasons, "cap 10%") {
		t.Fatalf("expected the reason to quote the cap, got %v", res.Reasons)
	}
}

func TestEvaluate_NullAgeGetsDistinctReason(t *testing.T) {
	cand := youngFarmer()
	cand.Age = nil

	res := Evaluate(cand, nil, DefaultConfig())
	if res.Eligible {
		t.Fatal("expected ineligible with unknown age while the age filter is on")
	}
	if !hasReasonContaining(res.Reasons, "borrower age unknown") {
		t.Fatalf("expected the unknown-age reason, got %v", res.Reasons)
	}
	if hasReasonContaining(res.Reasons, "outside 18-26") {
		t.Fatalf("unknown age must not read as out-of-range, got %v", res.Reasons)
	}
}

func TestEvaluate_OutOfRangeAgeQuotesBounds(t *testing.T) {
	cand := youngFarmer()
	cand.Age = iptr(34)

	res := Evaluate(cand, nil, DefaultConfig())
	if !hasReasonContaining(res.Reasons, "borrower age 34 outside 18-26") {
		t.Fatalf("expected the age reason to quote value and bounds, got %v", res.Reasons)
	}
}

func TestEvaluate_AgeBoundsInclusive(t *testing.T) {
	for _, age := range []int{18, 26} {
		cand := youngFarmer()
		cand.Age = iptr(age)
		res := Evaluate(cand, nil, DefaultConfig())
		if hasReasonContaining(res.Reasons, "borrower age") {
			t.Fatalf("age %d is inside the inclusive bounds, got %v", age, res.Reasons)
		}
	}
}

func TestEvaluate_AgeFilterOffSkipsAgeEntirely(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AgeFilter = false
	cand := youngFarmer()
	cand.Age = nil

	res := Evaluate(cand, nil, cfg)
	if hasReasonContaining(res.Reasons, "age") {
		t.Fatalf("expected no age reasons with the filter off, got %v", res.Reasons)
	}
}

func TestEvaluate_PhraseMatchesEitherVariantCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phrase = "  SOLAR  "
	cand := youngFarmer()
	cand.Description = "Buying cattle feed."
	cand.DescriptionOriginal = "Quiere comprar un panel solar para su casa."

	res := Evaluate(cand, nil, cfg)
	if !res.PhraseMatched {
		t.Fatal("expected the trimmed, case-folded phrase to match the original-language text")
	}
	if hasReasonContaining(res.Reasons, "mention") {
		t.Fatalf("expected no phrase reason, got %v", res.Reasons)
	}
}

func TestEvaluate_MissingPhraseAddsReason(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phrase = "school fees"

	res := Evaluate(youngFarmer(), nil, cfg)
	if res.PhraseMatched {
		t.Fatal("expected no phrase match")
	}
	if !hasReasonContaining(res.Reasons, `does not mention "school fees"`) {
		t.Fatalf("expected the phrase reason to quote the phrase, got %v", res.Reasons)
	}
}

func TestEvaluate_EmptyPhraseDeactivatesCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phrase = "   "

	res := Evaluate(youngFarmer(), nil, cfg)
	if !res.PhraseMatched {
		t.Fatal("a blank phrase leaves nothing to miss; the flag must read true")
	}
}

func TestEvaluate_UnknownTermFailsWhileCapActive(t *testing.T) {
	cand := youngFarmer()
	cand.TermMonths = nil

	res := Evaluate(cand, nil, DefaultConfig())
	if !hasReasonContaining(res.Reasons, "repayment term unknown") {
		t.Fatalf("expected an unknown-term reason while the cap is active, got %v", res.Reasons)
	}
}

func TestEvaluate_TermRuleDisabledByZeroCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTermMonths = 0
	cand := youngFarmer()
	cand.TermMonths = nil

	res := Evaluate(cand, nil, cfg)
	if hasReasonContaining(res.Reasons, "term") {
		t.Fatalf("expected no term reasons with the cap disabled, got %v", res.Reasons)
	}
}

func TestEvaluate_LongTermQuotesCap(t *testing.T) {
	cand := youngFarmer()
	cand.TermMonths = iptr(60)

	res := Evaluate(cand, nil, DefaultConfig())
	if !hasReasonContaining(res.Reasons, "repayment term 60 months exceeds cap of 36") {
		t.Fatalf("expected the term reason to quote value and cap, got %v", res.Reasons)
	}
}

func TestEvaluate_SectorExclusionByNameCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludedSectors = []string{"agriculture"}

	res := Evaluate(youngFarmer(), nil, cfg)
	if !hasReasonContaining(res.Reasons, "sector Agriculture is excluded") {
		t.Fatalf("expected the sector exclusion to match by name, got %v", res.Reasons)
	}
}

func TestEvaluate_DirectLoanNeverGetsPartnerCapReason(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PartnerCapPct = 0.0001
	portfolio := []Loan{heldLoan(1, "B1", "KE", 0), heldLoan(2, "B2", "KE", 0)}
	cand := youngFarmer()
	cand.PartnerID = nil
	cand.PartnerName = "Direct"
	cand.RiskRating = nil
	cand.DefaultRate = nil

	res := Evaluate(cand, portfolio, cfg)
	if hasReasonContaining(res.Reasons, "partner Direct would reach") {
		t.Fatalf("direct loans have no partner exposure, got %v", res.Reasons)
	}
	if !hasReasonContaining(res.Reasons, "partner risk rating unknown") {
		t.Fatalf("direct loans still fail the batch check on unknown metrics, got %v", res.Reasons)
	}
}

func TestEvaluate_ReasonsAccumulateInRuleOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phrase = "solar"
	cfg.ExcludedSectors = []string{"Agriculture"}

	pid := int64(77)
	portfolio := []Loan{
		{ID: 1, BorrowerID: "x1", CountryCode: "KE", PartnerID: &pid, PartnerName: "Juhudi Kilimo"},
		{ID: 2, BorrowerID: "x2", CountryCode: "KE", PartnerID: &pid, PartnerName: "Juhudi Kilimo"},
		{ID: 3, BorrowerID: "x3", CountryCode: "KE", PartnerID: &pid, PartnerName: "Juhudi Kilimo"},
	}

	cand := youngFarmer()
	cand.RiskRating = nil
	cand.DefaultRate = nil
	cand.Age = iptr(40)
	cand.TermMonths = iptr(60)
	cand.Description = "Buying cattle feed."
	cand.DescriptionOriginal = ""

	res := Evaluate(cand, portfolio, cfg)
	wantOrder := []string{
		"risk rating unknown",
		"default rate unknown",
		"borrower age 40",
		"does not mention",
		"repayment term 60",
		"country KE",
		"partner Juhudi Kilimo",
		"sector Agriculture",
	}
	if len(res.Reasons) != len(wantOrder) {
		t.Fatalf("expected %d reasons, got %d: %v", len(wantOrder), len(res.Reasons), res.Reasons)
	}
	for i, fragment := range wantOrder {
		if !strings.Contains(res.Reasons[i], fragment) {
			t.Fatalf("reason %d should contain %q, got %q (all: %v)", i, fragment, res.Reasons[i], res.Reasons)
		}
	}
	if res.Eligible {
		t.Fatal("eligible must be false whenever reasons exist")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phrase = "solar"
	portfolio := []Loan{heldLoan(1, "B1", "KE", 7)}
	cand := youngFarmer()

	first := Evaluate(cand, portfolio, cfg)
	second := Evaluate(cand, portfolio, cfg)
	if first.Eligible != second.Eligible || len(first.Reasons) != len(second.Reasons) {
		t.Fatalf("same inputs must yield the same verdict:\nfirst  %+v\nsecond %+v", first, second)
	}
	for i := range first.Reasons {
		if first.Reasons[i] != second.Reasons[i] {
			t.Fatalf("reason %d differs: %q vs %q", i, first.Reasons[i], second.Reasons[i])
		}
	}
}
