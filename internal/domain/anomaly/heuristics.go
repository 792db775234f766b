package anomaly

import (
	"fmt"
	"strings"
)

// Check is the shared context every heuristic sees for one call.
type Check struct {
	Operation   string
	ActorID     string
	Origin      string
	UserAgent   string
	EntityCount int
	Hour        int

	// RecentOps is the actor's operation count within the burst window,
	// including this call.
	RecentOps int

	// RecentFailures is the actor's failed-operation count within the
	// burst window.
	RecentFailures int
}

// Heuristic is one independent suspicion predicate. Heuristics are kept as
// an ordered list so individual rules can be added, removed and tested in
// isolation; findings are OR'd.
type Heuristic struct {
	Name  string
	Match func(c Check) bool
}

// Config tunes the default heuristics.
type Config struct {
	// MaxOpsPerMinute is the per-actor burst threshold.
	MaxOpsPerMinute int

	// MaxBatchSize flags unusually large deletion batches.
	MaxBatchSize int

	// SafeHourStart/SafeHourEnd bound the expected working window
	// (inclusive start, exclusive end, local hours).
	SafeHourStart int
	SafeHourEnd   int

	// MaxRecentFailures flags actors accumulating failures.
	MaxRecentFailures int
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxOpsPerMinute:   20,
		MaxBatchSize:      100,
		SafeHourStart:     6,
		SafeHourEnd:       23,
		MaxRecentFailures: 5,
	}
}

// automationSignatures are client-signature fragments of common automation
// tools. A match alone is cheap evidence, hence just one finding.
var automationSignatures = []string{
	"curl/", "wget/", "python-requests", "go-http-client", "httpie",
	"postmanruntime", "scrapy", "headlesschrome",
}

// DefaultHeuristics builds the standard heuristic set for cfg.
func DefaultHeuristics(cfg Config) []Heuristic {
	return []Heuristic{
		{
			Name: "burst_rate",
			Match: func(c Check) bool {
				return c.RecentOps > cfg.MaxOpsPerMinute
			},
		},
		{
			Name: "batch_size",
			Match: func(c Check) bool {
				return c.EntityCount > cfg.MaxBatchSize
			},
		},
		{
			Name: "outside_safe_hours",
			Match: func(c Check) bool {
				return c.Hour < cfg.SafeHourStart || c.Hour >= cfg.SafeHourEnd
			},
		},
		{
			Name: "repeated_failures",
			Match: func(c Check) bool {
				return c.RecentFailures > cfg.MaxRecentFailures
			},
		},
		{
			Name: "client_signature",
			Match: func(c Check) bool {
				ua := strings.ToLower(c.UserAgent)
				for _, sig := range automationSignatures {
					if strings.Contains(ua, sig) {
						return true
					}
				}
				return false
			},
		},
	}
}

// describe renders a finding for the violation log.
func describe(name string, c Check) string {
	return fmt.Sprintf("heuristic %s fired for %s", name, c.Operation)
}
