// Package catalog holds the diagnostic test catalog: test definitions, their
// categories, and the reference ranges used to interpret numeric results.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a test and determines its value shape. Blood, urine and
// hormone tests carry numeric values; the rest are narrative reports.
type Category string

const (
	CategoryBlood      Category = "BLOOD"
	CategoryUrine      Category = "URINE"
	CategoryHormone    Category = "HORMONE"
	CategoryPathology  Category = "PATHOLOGY"
	CategoryXRay       Category = "XRAY"
	CategoryCTScan     Category = "CT_SCAN"
	CategoryMRI        Category = "MRI"
	CategoryUltrasound Category = "ULTRASOUND"
)

var allCategories = map[Category]bool{
	CategoryBlood: true, CategoryUrine: true, CategoryHormone: true,
	CategoryPathology: true, CategoryXRay: true, CategoryCTScan: true,
	CategoryMRI: true, CategoryUltrasound: true,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return allCategories[c] }

// Numeric reports whether tests in this category record numeric values with
// reference-range interpretation. Narrative categories record report text
// instead.
func (c Category) Numeric() bool {
	switch c {
	case CategoryBlood, CategoryUrine, CategoryHormone:
		return true
	}
	return false
}

// Categories returns all known categories.
func Categories() []Category {
	return []Category{
		CategoryBlood, CategoryUrine, CategoryHormone, CategoryPathology,
		CategoryXRay, CategoryCTScan, CategoryMRI, CategoryUltrasound,
	}
}

// ReferenceRange is one normal-value band for a test, scoped by gender and an
// age bracket. Critical sub-bounds mark clinically dangerous values. Stored as
// jsonb on the test row.
type ReferenceRange struct {
	Gender      string   `json:"gender"` // "all", "male", "female"
	AgeMin      int      `json:"age_min"`
	AgeMax      int      `json:"age_max"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	CriticalMin *float64 `json:"critical_min,omitempty"`
	CriticalMax *float64 `json:"critical_max,omitempty"`
	Text        string   `json:"text,omitempty"`
}

// AppliesTo reports whether the range covers a patient of the given gender and
// age in years.
func (r ReferenceRange) AppliesTo(gender string, age int) bool {
	if r.Gender != "" && r.Gender != "all" && r.Gender != gender {
		return false
	}
	if age < r.AgeMin {
		return false
	}
	if r.AgeMax > 0 && age > r.AgeMax {
		return false
	}
	return true
}

// Test maps to the test table.
type Test struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	Code      string           `db:"code" json:"code"`
	Name      string           `db:"name" json:"name"`
	Category  Category         `db:"category" json:"category"`
	Unit      string           `db:"unit" json:"unit,omitempty"`
	TATHours  int              `db:"tat_hours" json:"tat_hours,omitempty"`
	Active    bool             `db:"active" json:"active"`
	Ranges    []ReferenceRange `db:"reference_ranges" json:"reference_ranges,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}
