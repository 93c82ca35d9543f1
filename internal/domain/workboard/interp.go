package workboard

import "github.com/hms/hms/internal/domain/catalog"

// Interpret maps a numeric value to a clinical flag using the test's
// reference ranges and the patient's gender and age.
//
// Range selection: the first entry whose gender matches ("all" or the
// patient's) and whose age bracket contains the patient's age wins; if none
// matches, the first entry is used; an empty list yields NORMAL.
//
// Critical bounds are evaluated before normal bounds, inclusive at the
// boundary: a value at or past criticalMin/criticalMax is flagged critical
// even when it also crosses min/max.
func Interpret(value float64, ranges []catalog.ReferenceRange, gender string, age int) Interpretation {
	r := pickRange(ranges, gender, age)
	if r == nil {
		return InterpNormal
	}

	if r.CriticalMin != nil && value <= *r.CriticalMin {
		return InterpCriticalLow
	}
	if r.CriticalMax != nil && value >= *r.CriticalMax {
		return InterpCriticalHigh
	}
	if r.Min != nil && value < *r.Min {
		return InterpLow
	}
	if r.Max != nil && value > *r.Max {
		return InterpHigh
	}
	return InterpNormal
}

func pickRange(ranges []catalog.ReferenceRange, gender string, age int) *catalog.ReferenceRange {
	if len(ranges) == 0 {
		return nil
	}
	for i := range ranges {
		if ranges[i].AppliesTo(gender, age) {
			return &ranges[i]
		}
	}
	return &ranges[0]
}
