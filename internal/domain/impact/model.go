package impact

import "cantus/internal/domain/schema"

// RiskLevel grades the blast radius of a deletion.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Dependency summarizes one affected collection.
type Dependency struct {
	Collection string `json:"collection"`
	Field      string `json:"field"`
	Count      int    `json:"count"`
	Hard       bool   `json:"hard"`
}

// Impact is the computed blast radius of deleting one target entity.
// It is produced fresh per preview request and never cached: it can go
// stale the instant another write occurs.
type Impact struct {
	TargetRef            schema.EntityRef           `json:"targetRef"`
	TotalRecords         int                        `json:"totalRecords"`
	AffectedCollections  []string                   `json:"affectedCollections"`
	Details              map[string][]schema.Record `json:"details"`
	Warnings             []string                   `json:"warnings"`
	Dependencies         []Dependency               `json:"dependencies"`
	RiskLevel            RiskLevel                  `json:"riskLevel"`
	CanProceed           bool                       `json:"canProceed"`
	RequiresConfirmation bool                       `json:"requiresConfirmation"`
}
