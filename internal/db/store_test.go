package db

import (
	"strings"
	"testing"
)

func TestBuildEligibilityConstraint_DefaultsToEligible(t *testing.T) {
	cases := map[string]string{
		"":          " AND eligible = TRUE",
		"eligible":  " AND eligible = TRUE",
		"nonsense":  " AND eligible = TRUE",
		"rejected":  " AND eligible = FALSE",
		" Rejected": " AND eligible = FALSE",
		"all":       "",
		" ALL ":     "",
	}

	for input, want := range cases {
		if got := buildEligibilityConstraint(input); got != want {
			t.Errorf("buildEligibilityConstraint(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestBuildBatchConstraint(t *testing.T) {
	cases := map[string]string{
		"":     "",
		"a":    " AND in_batch_a = TRUE",
		" A ":  " AND in_batch_a = TRUE",
		"b":    " AND in_batch_b = TRUE",
		"both": "",
	}

	for input, want := range cases {
		if got := buildBatchConstraint(input); got != want {
			t.Errorf("buildBatchConstraint(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestBuildAggregationWhereExcluding_OmitsOwnDimension(t *testing.T) {
	params := AggregationParams{
		Country: []string{"KE"},
		Sector:  []string{"Agriculture"},
		Partner: []string{"Juhudi Kilimo"},
	}

	where, args := buildAggregationWhereExcluding(params, "country")

	if strings.Contains(where, "country_code") {
		t.Fatalf("country dimension must exclude its own filter: %s", where)
	}
	if !strings.Contains(where, "sector_name = ANY($1)") {
		t.Fatalf("sector filter missing or misnumbered: %s", where)
	}
	if !strings.Contains(where, "partner_name = ANY($2)") {
		t.Fatalf("partner filter missing or misnumbered: %s", where)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}

	// Eligibility always applies, to every dimension.
	if !strings.Contains(where, "eligible = TRUE") {
		t.Fatalf("default eligibility constraint missing: %s", where)
	}
}

func TestBuildAggregationWhereExcluding_KeepsAllWhenNothingExcluded(t *testing.T) {
	params := AggregationParams{
		Eligibility: "all",
		Batch:       "a",
		Country:     []string{"KE", "UG"},
		Sector:      []string{"Retail"},
	}

	where, args := buildAggregationWhereExcluding(params, "")

	for _, token := range []string{"in_batch_a = TRUE", "country_code = ANY($1)", "sector_name = ANY($2)"} {
		if !strings.Contains(where, token) {
			t.Fatalf("clause missing token %q: %s", token, where)
		}
	}
	if strings.Contains(where, "eligible =") {
		t.Fatalf("eligibility 'all' must not constrain the clause: %s", where)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
}
