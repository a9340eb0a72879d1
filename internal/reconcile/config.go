// Package reconcile matches bank transactions against open invoices.
//
// Scores are integer basis points (0-10000). A transaction whose best
// candidate reaches AutoMatchThreshold is matched automatically; candidates
// between ReviewThreshold and AutoMatchThreshold are surfaced for manual
// review; anything lower is dropped.
package reconcile

import "fmt"

// Config holds the scoring parameters.
type Config struct {
	// DateWindowDays is the distance from the due date at which the date
	// score reaches zero.
	DateWindowDays int
	// DateWeight and ReferenceWeight are percentages and must add up to 100.
	DateWeight      int
	ReferenceWeight int

	AutoMatchThreshold int
	ReviewThreshold    int
	// MaxCandidates is the number of review candidates kept per transaction.
	MaxCandidates int
}

// DefaultConfig returns the default scoring parameters. They are a starting
// point and should be tuned against real bank data.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:     60,
		DateWeight:         40,
		ReferenceWeight:    60,
		AutoMatchThreshold: 8000,
		ReviewThreshold:    4000,
		MaxCandidates:      3,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("date window must be positive, got %d", c.DateWindowDays)
	}
	if c.DateWeight < 0 || c.ReferenceWeight < 0 || c.DateWeight+c.ReferenceWeight != 100 {
		return fmt.Errorf("weights must be non-negative and add up to 100, got %d+%d", c.DateWeight, c.ReferenceWeight)
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > c.AutoMatchThreshold || c.AutoMatchThreshold > maxScore {
		return fmt.Errorf("thresholds must satisfy 0 <= review (%d) <= auto (%d) <= %d", c.ReviewThreshold, c.AutoMatchThreshold, maxScore)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive, got %d", c.MaxCandidates)
	}
	return nil
}
