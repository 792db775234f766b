package integrity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/schema"
	"cantus/pkg/logger"
)

// requiredFields lists the fields every record of a collection must carry.
var requiredFields = map[string][]string{
	schema.Students:   {"first_name", "last_name", "status"},
	schema.Lessons:    {"student_id", "subject", "status"},
	schema.Attendance: {"lesson_id", "status"},
	schema.Orchestras: {"student_id", "name"},
	schema.Documents:  {"student_id", "title"},
	schema.Payments:   {"student_id", "amount"},
	schema.Notes:      {"student_id", "body"},
}

// enumDomains lists the admissible values for enumerated fields, with the
// default written back when a value falls outside its domain.
var enumDomains = map[string]map[string]enumDomain{
	schema.Students: {
		"status": {values: []string{"active", "inactive", "graduated", "archived"}, fallback: "inactive"},
	},
	schema.Lessons: {
		"status": {values: []string{"scheduled", "completed", "cancelled"}, fallback: "cancelled"},
	},
	schema.Attendance: {
		"status": {values: []string{"present", "absent", "excused"}, fallback: "absent"},
	},
}

type enumDomain struct {
	values   []string
	fallback string
}

func (d enumDomain) contains(v string) bool {
	for _, allowed := range d.values {
		if v == allowed {
			return true
		}
	}
	return false
}

// Validator runs the consistency battery.
type Validator struct {
	store    schema.Store
	schema   *schema.Schema
	txm      tx.ReadOnlyManager
	recorder *audit.Recorder
	log      *logger.Logger
}

// NewValidator creates a validator.
func NewValidator(store schema.Store, sch *schema.Schema, txm tx.ReadOnlyManager, recorder *audit.Recorder, log *logger.Logger) *Validator {
	return &Validator{
		store:    store,
		schema:   sch,
		txm:      txm,
		recorder: recorder,
		log:      log.WithComponent("integrity"),
	}
}

// Validate loads every collection inside one read-only transaction and
// runs the full battery against the in-memory view, so all checks see one
// consistent read.
func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	start := time.Now()

	data := make(map[string][]schema.Record, len(v.schema.Collections()))
	err := v.txm.ReadOnly(ctx, func(ctx context.Context) error {
		for _, collection := range v.schema.Collections() {
			recs, err := v.store.ListAll(ctx, collection)
			if err != nil {
				return fmt.Errorf("load %s: %w", collection, err)
			}
			data[collection] = recs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, check := range []struct {
		name string
		run  func(map[string][]schema.Record) []Issue
	}{
		{CheckRequiredFields, v.checkRequiredFields},
		{CheckEnumDomains, v.checkEnumDomains},
		{CheckPaymentAmounts, v.checkPaymentAmounts},
		{CheckReferences, v.checkReferences},
	} {
		issues := check.run(data)
		report.Checks = append(report.Checks, CheckOutcome{
			Name:   check.name,
			Passed: len(issues) == 0,
			Issues: len(issues),
		})
		if len(issues) == 0 {
			report.Passed++
		} else {
			report.Failed++
			report.Issues = append(report.Issues, issues...)
		}
	}

	report.OverallStatus = overallStatus(report.Issues)

	v.recorder.RecordOutcome(ctx, audit.OpIntegrityCheck, start, nil, map[string]any{
		"passed": report.Passed,
		"failed": report.Failed,
		"issues": len(report.Issues),
		"status": string(report.OverallStatus),
	})
	return report, nil
}

func overallStatus(issues []Issue) OverallStatus {
	if len(issues) == 0 {
		return StatusHealthy
	}
	for _, issue := range issues {
		if issue.Fix.Action == FixDelete {
			return StatusCritical
		}
	}
	return StatusDegraded
}

func (v *Validator) checkRequiredFields(data map[string][]schema.Record) []Issue {
	var issues []Issue
	for _, collection := range v.schema.Collections() {
		fields := requiredFields[collection]
		for _, rec := range data[collection] {
			for _, field := range fields {
				if rec.StringField(field) != "" {
					continue
				}
				fix := Fix{Action: FixDelete}
				if domain, ok := enumDomains[collection][field]; ok {
					// A status can be defaulted; anything else that is
					// required and absent leaves the record unusable.
					fix = Fix{Action: FixSetDefault, Field: field, Value: domain.fallback}
				}
				issues = append(issues, newIssue(CheckRequiredFields, collection, rec.ID, field,
					fmt.Sprintf("%s record missing required field %q", collection, field), fix))
			}
		}
	}
	return issues
}

func (v *Validator) checkEnumDomains(data map[string][]schema.Record) []Issue {
	var issues []Issue
	for _, collection := range v.schema.Collections() {
		domains := enumDomains[collection]
		if len(domains) == 0 {
			continue
		}
		fields := make([]string, 0, len(domains))
		for field := range domains {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		for _, rec := range data[collection] {
			for _, field := range fields {
				value := rec.StringField(field)
				if value == "" {
					// Absence is the required-fields check's finding.
					continue
				}
				domain := domains[field]
				if !domain.contains(value) {
					issues = append(issues, newIssue(CheckEnumDomains, collection, rec.ID, field,
						fmt.Sprintf("%s.%s value %q outside domain %v", collection, field, value, domain.values),
						Fix{Action: FixSetDefault, Field: field, Value: domain.fallback}))
				}
			}
		}
	}
	return issues
}

func (v *Validator) checkPaymentAmounts(data map[string][]schema.Record) []Issue {
	var issues []Issue
	for _, rec := range data[schema.Payments] {
		raw := rec.StringField("amount")
		if raw == "" {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			issues = append(issues, newIssue(CheckPaymentAmounts, schema.Payments, rec.ID, "amount",
				fmt.Sprintf("payment amount %q is not a decimal", raw),
				Fix{Action: FixSetDefault, Field: "amount", Value: "0.00"}))
			continue
		}
		if amount.IsNegative() {
			issues = append(issues, newIssue(CheckPaymentAmounts, schema.Payments, rec.ID, "amount",
				fmt.Sprintf("payment amount %s is negative", amount.StringFixed(2)),
				Fix{Action: FixSetDefault, Field: "amount", Value: "0.00"}))
		}
	}
	return issues
}

func (v *Validator) checkReferences(data map[string][]schema.Record) []Issue {
	present := make(map[string]map[id.ID]bool, len(data))
	for collection, recs := range data {
		set := make(map[id.ID]bool, len(recs))
		for _, rec := range recs {
			set[rec.ID] = true
		}
		present[collection] = set
	}

	var issues []Issue
	for _, rel := range v.schema.Relations() {
		for _, rec := range data[rel.Collection] {
			ownerID, ok := rec.Ref(rel.Field)
			if !ok {
				// Covered by required_fields when the field is empty; a
				// malformed value is its own finding.
				if rec.StringField(rel.Field) != "" {
					issues = append(issues, newIssue(CheckReferences, rel.Collection, rec.ID, rel.Field,
						fmt.Sprintf("%s.%s is not a valid reference", rel.Collection, rel.Field),
						Fix{Action: FixDelete}))
				}
				continue
			}
			if !present[rel.Owner][ownerID] {
				issues = append(issues, newIssue(CheckReferences, rel.Collection, rec.ID, rel.Field,
					fmt.Sprintf("%s.%s references missing %s %s", rel.Collection, rel.Field, rel.Owner, ownerID),
					Fix{Action: FixDelete}))
			}
		}
	}
	return issues
}
