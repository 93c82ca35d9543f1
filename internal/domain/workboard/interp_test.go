package workboard

import (
	"testing"

	"github.com/hms/hms/internal/domain/catalog"
)

func f64(v float64) *float64 { return &v }

func glucoseRanges() []catalog.ReferenceRange {
	return []catalog.ReferenceRange{{
		Gender: "all", Min: f64(70), Max: f64(110),
		CriticalMin: f64(54), CriticalMax: f64(400),
	}}
}

func TestInterpret_Bands(t *testing.T) {
	ranges := glucoseRanges()
	cases := []struct {
		value float64
		want  Interpretation
	}{
		{90, InterpNormal},
		{70, InterpNormal},
		{110, InterpNormal},
		{60, InterpLow},
		{300, InterpHigh},
		{450, InterpCriticalHigh},
		{40, InterpCriticalLow},
		// critical bounds are inclusive and win over low/high
		{54, InterpCriticalLow},
		{400, InterpCriticalHigh},
	}
	for _, tc := range cases {
		if got := Interpret(tc.value, ranges, "male", 40); got != tc.want {
			t.Errorf("Interpret(%v) = %s, want %s", tc.value, got, tc.want)
		}
	}
}

func TestInterpret_EmptyRanges(t *testing.T) {
	if got := Interpret(999, nil, "male", 40); got != InterpNormal {
		t.Errorf("expected NORMAL for empty ranges, got %s", got)
	}
}

func TestInterpret_RangeSelection(t *testing.T) {
	ranges := []catalog.ReferenceRange{
		{Gender: "male", AgeMin: 18, Min: f64(13.5), Max: f64(17.5)},
		{Gender: "female", AgeMin: 18, Min: f64(12.0), Max: f64(15.5)},
	}

	// 16.0 is normal for an adult male, high for an adult female.
	if got := Interpret(16.0, ranges, "male", 30); got != InterpNormal {
		t.Errorf("male: got %s, want NORMAL", got)
	}
	if got := Interpret(16.0, ranges, "female", 30); got != InterpHigh {
		t.Errorf("female: got %s, want HIGH", got)
	}
}

func TestInterpret_FallbackToFirstEntry(t *testing.T) {
	ranges := []catalog.ReferenceRange{
		{Gender: "male", AgeMin: 18, Min: f64(10), Max: f64(20)},
	}
	// No entry matches a child, so the first entry applies.
	if got := Interpret(5, ranges, "female", 8); got != InterpLow {
		t.Errorf("got %s, want LOW via first-entry fallback", got)
	}
}

func TestInterpret_PartialBounds(t *testing.T) {
	onlyMax := []catalog.ReferenceRange{{Gender: "all", Max: f64(100)}}
	if got := Interpret(50, onlyMax, "male", 30); got != InterpNormal {
		t.Errorf("got %s, want NORMAL when only max defined", got)
	}
	if got := Interpret(150, onlyMax, "male", 30); got != InterpHigh {
		t.Errorf("got %s, want HIGH", got)
	}
}

func TestInterpretation_Critical(t *testing.T) {
	if !InterpCriticalLow.Critical() || !InterpCriticalHigh.Critical() {
		t.Error("critical flags should report Critical()")
	}
	for _, i := range []Interpretation{InterpNormal, InterpLow, InterpHigh} {
		if i.Critical() {
			t.Errorf("%s should not be critical", i)
		}
	}
}
