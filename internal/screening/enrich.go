package screening

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// PartnerMetrics is what a partner page yields: the star risk rating and
// the historical default rate as a fraction (0.015 == 1.5%).
type PartnerMetrics struct {
	RiskRating  *float64
	DefaultRate *float64
}

// PartnerEnricher scrapes public field-partner pages for the risk metrics
// the gateway frequently omits from loan records.
type PartnerEnricher struct {
	BaseURL        string
	UserAgent      string
	MaxRetries     int
	RequestTimeout time.Duration
	DomainDelay    time.Duration
}

func NewPartnerEnricher() *PartnerEnricher {
	return &PartnerEnricher{
		BaseURL:        "https://www.kiva.org",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		DomainDelay:    1 * time.Second,
	}
}

func (e *PartnerEnricher) buildCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(e.UserAgent),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	)

	// Limit only errors on an empty rule; this one is hard-coded valid.
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       e.DomainDelay,
		RandomDelay: e.DomainDelay / 2,
	})

	c.SetRequestTimeout(e.RequestTimeout)

	return c
}

// FetchPartnerMetrics loads one partner page and scans it for the risk
// rating and default rate labels.
func (e *PartnerEnricher) FetchPartnerMetrics(ctx context.Context, partnerID int64) (*PartnerMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.buildCollector()

	var body []byte
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	c.OnError(func(r *colly.Response, err error) {
		if r.Request.Ctx.GetAny("retries") == nil {
			r.Request.Ctx.Put("retries", 0)
		}
		retries := r.Request.Ctx.GetAny("retries").(int)
		if retries < e.MaxRetries {
			r.Request.Ctx.Put("retries", retries+1)
			log.Printf("[Enrich] Retry %d/%d for partner %d: %v", retries+1, e.MaxRetries, partnerID, err)
			time.Sleep(time.Duration(retries+1) * time.Second)
			r.Request.Retry()
			return
		}
		fetchErr = fmt.Errorf("fetch failed after %d retries: %w", e.MaxRetries, err)
	})

	url := fmt.Sprintf("%s/about/where-kiva-works/partners/%d", strings.TrimRight(e.BaseURL, "/"), partnerID)
	visitErr := c.Visit(url)
	c.Wait()

	if len(body) == 0 {
		if fetchErr != nil {
			return nil, fetchErr
		}
		if visitErr != nil {
			return nil, fmt.Errorf("visit failed: %w", visitErr)
		}
		return nil, fmt.Errorf("empty response for partner %d", partnerID)
	}

	return ParsePartnerMetrics(string(body))
}

var (
	percentRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	numberRegex  = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// ParsePartnerMetrics scans partner-page HTML for the labeled risk numbers.
// Labels and values sit either in the same element ("Risk rating: 3.5") or
// in adjacent ones, so both spots are checked. The risk rating is a 0-5
// star scale; anything outside that range is treated as a false match.
func ParsePartnerMetrics(html string) (*PartnerMetrics, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}

	metrics := &PartnerMetrics{}

	doc.Find("p, li, div, td, th, dt, dd, span, strong").Each(func(_ int, sel *goquery.Selection) {
		text := cleanText(sel.Text())
		if text == "" || len(text) > 220 {
			return
		}
		lower := strings.ToLower(text)

		if metrics.RiskRating == nil && strings.Contains(lower, "risk rating") {
			if v, ok := firstNumber(text); ok && v >= 0 && v <= 5 {
				metrics.RiskRating = &v
			} else if v, ok := firstNumber(cleanText(sel.Next().Text())); ok && v >= 0 && v <= 5 {
				metrics.RiskRating = &v
			}
		}

		if metrics.DefaultRate == nil && strings.Contains(lower, "default rate") {
			if v, ok := firstPercent(text); ok {
				rate := v / 100
				metrics.DefaultRate = &rate
			} else if v, ok := firstPercent(cleanText(sel.Next().Text())); ok {
				rate := v / 100
				metrics.DefaultRate = &rate
			}
		}
	})

	if metrics.RiskRating == nil && metrics.DefaultRate == nil {
		return nil, fmt.Errorf("no partner metrics found")
	}

	return metrics, nil
}

func firstPercent(text string) (float64, bool) {
	m := percentRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

func firstNumber(text string) (float64, bool) {
	m := numberRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
