package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amara/loan-screener/internal/engine"
)

//go:embed profiles.yaml
var profilesYAML embed.FS

// Registry holds every named screening profile.
type Registry struct {
	Profiles []Profile `yaml:"profiles"`
}

// Profile is one named screening configuration: engine threshold overrides
// plus the fetch knobs a run uses. Overridable engine fields are pointers
// so an omitted key inherits the engine default instead of a YAML zero;
// an explicit `max_term_months: 0` still disables the term rule.
type Profile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Batch           string   `yaml:"batch,omitempty"`
	AgeFilter       *bool    `yaml:"age_filter,omitempty"`
	MinAge          *int     `yaml:"min_age,omitempty"`
	MaxAge          *int     `yaml:"max_age,omitempty"`
	Phrase          string   `yaml:"phrase,omitempty"`
	MaxTermMonths   *int     `yaml:"max_term_months,omitempty"`
	CountryCapPct   *float64 `yaml:"country_cap_pct,omitempty"`
	PartnerCapPct   *float64 `yaml:"partner_cap_pct,omitempty"`
	ExcludedSectors []string `yaml:"excluded_sectors,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
}

// FetchConfig defines how a screening run pulls the fundraising feed.
type FetchConfig struct {
	PageSize       int  `yaml:"page_size,omitempty"`     // Default: 20
	MaxPages       int  `yaml:"max_pages,omitempty"`     // Default: 5
	PageDelayMS    int  `yaml:"page_delay_ms,omitempty"` // Default: 1500
	EnrichPartners bool `yaml:"enrich_partners,omitempty"`
}

// FilterConfig resolves the profile into concrete engine thresholds,
// starting from the engine defaults.
func (p Profile) FilterConfig() engine.FilterConfig {
	cfg := engine.DefaultConfig()
	if p.Batch != "" {
		cfg.Batch = engine.BatchSelector(strings.ToUpper(strings.TrimSpace(p.Batch)))
	}
	if p.AgeFilter != nil {
		cfg.AgeFilter = *p.AgeFilter
	}
	if p.MinAge != nil {
		cfg.MinAge = *p.MinAge
	}
	if p.MaxAge != nil {
		cfg.MaxAge = *p.MaxAge
	}
	if p.Phrase != "" {
		cfg.Phrase = p.Phrase
	}
	if p.MaxTermMonths != nil {
		cfg.MaxTermMonths = *p.MaxTermMonths
	}
	if p.CountryCapPct != nil {
		cfg.CountryCapPct = *p.CountryCapPct
	}
	if p.PartnerCapPct != nil {
		cfg.PartnerCapPct = *p.PartnerCapPct
	}
	if len(p.ExcludedSectors) > 0 {
		cfg.ExcludedSectors = p.ExcludedSectors
	}
	return cfg
}

// PageDelay returns the inter-page delay for this profile's fetches.
func (f FetchConfig) PageDelay() time.Duration {
	if f.PageDelayMS <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(f.PageDelayMS) * time.Millisecond
}

// LoadRegistry reads the embedded profiles.yaml and returns a Registry.
// The path parameter is a filesystem fallback for local overrides.
func LoadRegistry(path string) (*Registry, error) {
	data, err := profilesYAML.ReadFile("profiles.yaml")
	if path != "" {
		if fileData, fileErr := os.ReadFile(path); fileErr == nil {
			data, err = fileData, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return parseRegistry(data)
}

func parseRegistry(data []byte) (*Registry, error) {
	// Expand environment variables within the YAML content (e.g. ${SCREEN_PHRASE})
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Get returns the profile with the given id.
func (r *Registry) Get(id string) (Profile, bool) {
	for _, p := range r.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// Default returns the "default" profile, which validate guarantees exists.
func (r *Registry) Default() Profile {
	p, _ := r.Get("default")
	return p
}

func (r *Registry) validate() error {
	seen := map[string]bool{}
	for _, p := range r.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profile %q has no id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true

		switch strings.ToUpper(strings.TrimSpace(p.Batch)) {
		case "", "A", "B", "BOTH":
		default:
			return fmt.Errorf("profile %q: batch must be A, B or BOTH, got %q", p.ID, p.Batch)
		}

		cfg := p.FilterConfig()
		if cfg.MinAge > cfg.MaxAge {
			return fmt.Errorf("profile %q: min_age %d exceeds max_age %d", p.ID, cfg.MinAge, cfg.MaxAge)
		}
		if cfg.CountryCapPct <= 0 || cfg.CountryCapPct > 100 {
			return fmt.Errorf("profile %q: country_cap_pct must be in (0, 100], got %g", p.ID, cfg.CountryCapPct)
		}
		if cfg.PartnerCapPct <= 0 || cfg.PartnerCapPct > 100 {
			return fmt.Errorf("profile %q: partner_cap_pct must be in (0, 100], got %g", p.ID, cfg.PartnerCapPct)
		}
		if cfg.MaxTermMonths < 0 {
			return fmt.Errorf("profile %q: max_term_months cannot be negative", p.ID)
		}
	}

	if !seen["default"] {
		return fmt.Errorf("registry must define a %q profile", "default")
	}
	return nil
}
