package engine

import (
	"errors"
	"reflect"
	"testing"
)

func rawCandidate(id int64) RawLoan {
	return RawLoan{
		ID:          id,
		Name:        "Test",
		CountryCode: sptr("KE"),
		SectorName:  sptr("Agriculture"),
		Age:         iptr(20),
		TermMonths:  iptr(6),
		Partner: &RawPartner{
			ID:          77,
			Name:        "Juhudi Kilimo",
			RiskRating:  fptr(3),
			DefaultRate: fptr(0.005),
		},
	}
}

func TestRun_MissingCandidateIDFailsFast(t *testing.T) {
	_, err := Run([]RawLoan{{ID: 0}}, nil, DefaultConfig())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRun_MissingPortfolioIDFailsFast(t *testing.T) {
	_, err := Run([]RawLoan{rawCandidate(1)}, []RawLoan{{ID: 0}}, DefaultConfig())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRun_OutputOrderMatchesInput(t *testing.T) {
	candidates := []RawLoan{rawCandidate(3), rawCandidate(1), rawCandidate(2)}

	results, err := Run(candidates, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []int64{3, 1, 2} {
		if results[i].Loan.ID != want {
			t.Fatalf("result %d: expected loan %d, got %d", i, want, results[i].Loan.ID)
		}
	}
}

func TestRun_PortfolioNotMutated(t *testing.T) {
	portfolio := []RawLoan{rawCandidate(10), rawCandidate(11)}
	snapshot := make([]RawLoan, len(portfolio))
	copy(snapshot, portfolio)

	if _, err := Run([]RawLoan{rawCandidate(1)}, portfolio, DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(portfolio, snapshot) {
		t.Fatalf("portfolio mutated during a run:\nbefore %+v\nafter  %+v", snapshot, portfolio)
	}
}

func TestRun_CandidatesDoNotSeeEachOther(t *testing.T) {
	// Two loans to the same borrower in one batch of candidates: if the
	// first influenced the second, the second would resolve a higher tier.
	first := rawCandidate(1)
	second := rawCandidate(2)
	first.BorrowerID = sptr("B1")
	second.BorrowerID = sptr("B1")

	results, err := Run([]RawLoan{first, second}, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Tier != results[1].Tier {
		t.Fatalf("candidates leaked into each other: tiers %d vs %d", results[0].Tier, results[1].Tier)
	}
	if results[1].PriorLoans != 0 {
		t.Fatalf("expected 0 priors for the second candidate, got %d", results[1].PriorLoans)
	}
}

func TestRun_PortfolioNormalizedOnceSemantics(t *testing.T) {
	// A portfolio record without a borrower id gets the same synthetic id
	// for every candidate, so two candidates naming it agree on priors.
	portfolio := []RawLoan{{ID: 500, CountryCode: sptr("PE")}}

	cand := rawCandidate(1)
	cand.BorrowerID = sptr("anon-500")
	other := rawCandidate(2)
	other.BorrowerID = sptr("anon-500")

	results, err := Run([]RawLoan{cand, other}, portfolio, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].PriorLoans != 1 || results[1].PriorLoans != 1 {
		t.Fatalf("expected both candidates to count the same prior, got %d and %d",
			results[0].PriorLoans, results[1].PriorLoans)
	}
}
