package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/amara/loan-screener/internal/engine"
)

func TestLoadRegistry_EmbeddedProfiles(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("failed to load embedded registry: %v", err)
	}

	def, ok := reg.Get("default")
	if !ok {
		t.Fatal("expected a default profile")
	}
	if got := def.FilterConfig(); !reflect.DeepEqual(got, engine.DefaultConfig()) {
		t.Fatalf("the default profile must resolve to the stock thresholds, got %+v", got)
	}
	if def.Fetch.PageSize != 20 || def.Fetch.MaxPages != 5 {
		t.Fatalf("unexpected default fetch config: %+v", def.Fetch)
	}
}

func TestParseRegistry_OverridesOnTopOfDefaults(t *testing.T) {
	raw := `
profiles:
  - id: default
    name: Default
  - id: picky
    name: Picky
    batch: a
    age_filter: false
    phrase: solar
    max_term_months: 0
    country_cap_pct: 4
`
	reg, err := parseRegistry([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	picky, _ := reg.Get("picky")
	cfg := picky.FilterConfig()
	if cfg.Batch != engine.BatchA {
		t.Fatalf("lowercase batch must normalize, got %q", cfg.Batch)
	}
	if cfg.AgeFilter {
		t.Fatal("explicit age_filter: false must stick")
	}
	if cfg.MaxTermMonths != 0 {
		t.Fatalf("explicit max_term_months: 0 must disable the term rule, got %d", cfg.MaxTermMonths)
	}
	if cfg.CountryCapPct != 4 {
		t.Fatalf("expected country cap 4, got %g", cfg.CountryCapPct)
	}
	if cfg.PartnerCapPct != 10 || cfg.MinAge != 18 || cfg.MaxAge != 26 {
		t.Fatalf("omitted keys must keep engine defaults, got %+v", cfg)
	}
}

func TestParseRegistry_RejectsBadProfiles(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "missing default",
			raw:  "profiles:\n  - id: other\n    name: Other\n",
			want: "default",
		},
		{
			name: "duplicate ids",
			raw:  "profiles:\n  - id: default\n    name: A\n  - id: default\n    name: B\n",
			want: "duplicate",
		},
		{
			name: "unknown batch",
			raw:  "profiles:\n  - id: default\n    name: A\n    batch: C\n",
			want: "batch",
		},
		{
			name: "inverted age bounds",
			raw:  "profiles:\n  - id: default\n    name: A\n    min_age: 30\n    max_age: 20\n",
			want: "min_age",
		},
		{
			name: "zero country cap",
			raw:  "profiles:\n  - id: default\n    name: A\n    country_cap_pct: 0\n",
			want: "country_cap_pct",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseRegistry([]byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected an error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseRegistry_ExpandsEnvironment(t *testing.T) {
	t.Setenv("SCREEN_PHRASE", "school fees")
	raw := `
profiles:
  - id: default
    name: Default
    phrase: ${SCREEN_PHRASE}
`
	reg, err := parseRegistry([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg := reg.Default().FilterConfig(); cfg.Phrase != "school fees" {
		t.Fatalf("expected the phrase to come from the environment, got %q", cfg.Phrase)
	}
}
