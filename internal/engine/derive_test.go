package engine

import "testing"

func heldLoan(id int64, borrower, country string, partnerID int64) Loan {
	loan := Loan{ID: id, BorrowerID: borrower, CountryCode: country, PartnerName: "Direct"}
	if partnerID != 0 {
		loan.PartnerID = &partnerID
		loan.PartnerName = "Partner"
	}
	return loan
}

func TestResolveTier_Table(t *testing.T) {
	cases := []struct {
		priors     int
		wantTier   int
		wantAmount int
	}{
		{0, 1, 25},
		{1, 2, 25},
		{2, 3, 50},
		{3, 4, 100},
		{7, 4, 100},
	}

	for _, tc := range cases {
		portfolio := make([]Loan, 0, tc.priors)
		for i := 0; i < tc.priors; i++ {
			portfolio = append(portfolio, heldLoan(int64(i+1), "B1", "KE", 0))
		}
		cand := Loan{ID: 99, BorrowerID: "B1"}

		priors, tier, amount := ResolveTier(portfolio, cand)
		if priors != tc.priors {
			t.Fatalf("priors=%d: expected %d prior loans, got %d", tc.priors, tc.priors, priors)
		}
		if tier != tc.wantTier || amount != tc.wantAmount {
			t.Fatalf("priors=%d: expected tier %d/$%d, got tier %d/$%d",
				tc.priors, tc.wantTier, tc.wantAmount, tier, amount)
		}
	}
}

func TestResolveTier_MonotonicInPriors(t *testing.T) {
	lastTier, lastAmount := 0, 0
	var portfolio []Loan
	for priors := 0; priors <= 10; priors++ {
		_, tier, amount := ResolveTier(portfolio, Loan{ID: 99, BorrowerID: "B1"})
		if tier < lastTier || amount < lastAmount {
			t.Fatalf("tier ladder went down at %d priors: tier %d/$%d after %d/$%d",
				priors, tier, amount, lastTier, lastAmount)
		}
		lastTier, lastAmount = tier, amount
		portfolio = append(portfolio, heldLoan(int64(priors+1), "B1", "KE", 0))
	}
}

func TestResolveTier_OnlyCountsMatchingBorrower(t *testing.T) {
	portfolio := []Loan{
		heldLoan(1, "B1", "KE", 0),
		heldLoan(2, "B2", "KE", 0),
		heldLoan(3, "anon-3", "PE", 0),
	}

	priors, tier, _ := ResolveTier(portfolio, Loan{ID: 99, BorrowerID: "B1"})
	if priors != 1 || tier != 2 {
		t.Fatalf("expected 1 prior / tier 2, got %d priors / tier %d", priors, tier)
	}
}

func TestExposure_EmptyPortfolioIsZero(t *testing.T) {
	pid := int64(7)
	cand := Loan{ID: 1, CountryCode: "KE", PartnerID: &pid}

	country, partner := Exposure(nil, cand)
	if country != 0 || partner != 0 {
		t.Fatalf("expected 0/0 on empty portfolio, got %f/%f", country, partner)
	}
}

func TestExposure_DirectLoanHasZeroPartnerShare(t *testing.T) {
	portfolio := []Loan{heldLoan(1, "B1", "KE", 7), heldLoan(2, "B2", "KE", 7)}

	_, partner := Exposure(portfolio, Loan{ID: 9, CountryCode: "KE"})
	if partner != 0 {
		t.Fatalf("expected partner share 0 for a direct loan, got %f", partner)
	}
}

func TestExposure_ProspectiveShares(t *testing.T) {
	portfolio := []Loan{
		heldLoan(1, "B1", "KE", 7),
		heldLoan(2, "B2", "KE", 8),
		heldLoan(3, "B3", "PE", 7),
		heldLoan(4, "B4", "BO", 0),
	}
	pid := int64(7)
	cand := Loan{ID: 9, CountryCode: "KE", PartnerID: &pid}

	country, partner := Exposure(portfolio, cand)
	if country != 3.0/5.0 {
		t.Fatalf("expected country share 3/5, got %f", country)
	}
	if partner != 3.0/5.0 {
		t.Fatalf("expected partner share 3/5, got %f", partner)
	}
}

func TestClassifyBatches_Boundaries(t *testing.T) {
	cases := []struct {
		name  string
		risk  *float64
		rate  *float64
		wantA bool
		wantB bool
	}{
		{"one percent exactly is batch A", fptr(3), fptr(0.01), true, false},
		{"just over one percent is batch B", fptr(3), fptr(0.011), false, true},
		{"two percent exactly is batch B", fptr(3), fptr(0.02), false, true},
		{"over two percent is neither", fptr(3), fptr(0.021), false, false},
		{"risk floor is inclusive", fptr(2), fptr(0.005), true, false},
		{"below risk floor is neither", fptr(1.9), fptr(0.005), false, false},
		{"nil risk is neither", nil, fptr(0.005), false, false},
		{"nil rate is neither", fptr(4), nil, false, false},
		{"both nil is neither", nil, nil, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inA, inB := ClassifyBatches(tc.risk, tc.rate)
			if inA != tc.wantA || inB != tc.wantB {
				t.Fatalf("expected A=%v B=%v, got A=%v B=%v", tc.wantA, tc.wantB, inA, inB)
			}
			if inA && inB {
				t.Fatal("batches must be disjoint")
			}
		})
	}
}
