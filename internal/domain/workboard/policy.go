package workboard

import "github.com/hms/hms/internal/domain/catalog"

// CategoryPolicy maps a caller's role to the test categories it may act on.
// Injected into the service so deployments can swap the table without
// touching the engine.
type CategoryPolicy interface {
	Allowed(role string) []catalog.Category
	Allows(role string, category catalog.Category) bool
}

type staticPolicy struct {
	table map[string][]catalog.Category
}

// DefaultPolicy returns the standard role table. LAB covers the numeric
// bench, XRAY covers imaging modalities, PATHOLOGY its own reports, and
// DOCTOR and ADMIN see everything.
func DefaultPolicy() CategoryPolicy {
	return &staticPolicy{table: map[string][]catalog.Category{
		"LAB":       {catalog.CategoryBlood, catalog.CategoryUrine, catalog.CategoryHormone},
		"XRAY":      {catalog.CategoryXRay, catalog.CategoryCTScan, catalog.CategoryMRI, catalog.CategoryUltrasound},
		"PATHOLOGY": {catalog.CategoryPathology},
		"DOCTOR":    catalog.Categories(),
		"ADMIN":     catalog.Categories(),
	}}
}

// NewPolicy builds a policy from an explicit role table.
func NewPolicy(table map[string][]catalog.Category) CategoryPolicy {
	return &staticPolicy{table: table}
}

func (p *staticPolicy) Allowed(role string) []catalog.Category {
	cats := p.table[role]
	out := make([]catalog.Category, len(cats))
	copy(out, cats)
	return out
}

func (p *staticPolicy) Allows(role string, category catalog.Category) bool {
	for _, c := range p.table[role] {
		if c == category {
			return true
		}
	}
	return false
}
