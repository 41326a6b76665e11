package engine

import "fmt"

// Run screens every candidate against the same portfolio snapshot. The
// portfolio is normalized exactly once; candidates are normalized and
// evaluated independently, never seeing each other, and the result order
// matches the candidate order.
//
// The only hard failure is a record without an id: that returns
// ErrInvalidInput (wrapped with the record's position) before anything is
// evaluated. Every other gap defaults per Normalize.
func Run(candidates, portfolio []RawLoan, cfg FilterConfig) ([]Result, error) {
	for i, raw := range portfolio {
		if raw.ID == 0 {
			return nil, fmt.Errorf("portfolio record %d: %w", i, ErrInvalidInput)
		}
	}
	for i, raw := range candidates {
		if raw.ID == 0 {
			return nil, fmt.Errorf("candidate %d: %w", i, ErrInvalidInput)
		}
	}

	held := NormalizeAll(portfolio)

	results := make([]Result, len(candidates))
	for i, raw := range candidates {
		results[i] = Evaluate(Normalize(raw), held, cfg)
	}
	return results, nil
}
