package screening

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParsePartnerMetrics_LabelledTable(t *testing.T) {
	html := `
		<table>
			<tr><td>Risk rating</td><td>3.5</td></tr>
			<tr><td>Default rate</td><td>1.25%</td></tr>
		</table>`

	m, err := ParsePartnerMetrics(html)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if m.RiskRating == nil || *m.RiskRating != 3.5 {
		t.Errorf("risk rating = %v, want 3.5", m.RiskRating)
	}
	if m.DefaultRate == nil || !almostEqual(*m.DefaultRate, 0.0125) {
		t.Errorf("default rate = %v, want 0.0125", m.DefaultRate)
	}
}

func TestParsePartnerMetrics_InlineText(t *testing.T) {
	html := `<div><p>Risk rating: 4 stars</p><p>Default rate: 0.85%</p></div>`

	m, err := ParsePartnerMetrics(html)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if m.RiskRating == nil || *m.RiskRating != 4 {
		t.Errorf("risk rating = %v, want 4", m.RiskRating)
	}
	if m.DefaultRate == nil || !almostEqual(*m.DefaultRate, 0.0085) {
		t.Errorf("default rate = %v, want 0.0085", m.DefaultRate)
	}
}

func TestParsePartnerMetrics_OutOfScaleNumberFallsToNeighbor(t *testing.T) {
	// The label cell carries a year, which must not be read as the rating.
	html := `<dl><dt>Risk rating (2024)</dt><dd>2.5</dd></dl>`

	m, err := ParsePartnerMetrics(html)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if m.RiskRating == nil || *m.RiskRating != 2.5 {
		t.Errorf("risk rating = %v, want 2.5", m.RiskRating)
	}
}

func TestParsePartnerMetrics_RateNeedsPercentSign(t *testing.T) {
	html := `<p>Risk rating: 3</p><p>Default rate: unavailable</p>`

	m, err := ParsePartnerMetrics(html)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if m.RiskRating == nil || *m.RiskRating != 3 {
		t.Errorf("risk rating = %v, want 3", m.RiskRating)
	}
	if m.DefaultRate != nil {
		t.Errorf("default rate = %v, want nil", *m.DefaultRate)
	}
}

func TestParsePartnerMetrics_NothingFound(t *testing.T) {
	if _, err := ParsePartnerMetrics("<p>About this partner</p>"); err == nil {
		t.Fatal("expected an error for a page without metrics")
	}
}

func TestFetchPartnerMetrics_HitsPartnerPage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		gotPath = r.URL.Path
		w.Write([]byte(`<table>
			<tr><td>Risk rating</td><td>3.0</td></tr>
			<tr><td>Default rate</td><td>2%</td></tr>
		</table>`))
	}))
	defer srv.Close()

	e := NewPartnerEnricher()
	e.BaseURL = srv.URL
	e.DomainDelay = time.Millisecond

	m, err := e.FetchPartnerMetrics(context.Background(), 81)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if !strings.HasSuffix(gotPath, "/partners/81") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if m.RiskRating == nil || *m.RiskRating != 3 {
		t.Errorf("risk rating = %v, want 3", m.RiskRating)
	}
	if m.DefaultRate == nil || !almostEqual(*m.DefaultRate, 0.02) {
		t.Errorf("default rate = %v, want 0.02", m.DefaultRate)
	}
}
