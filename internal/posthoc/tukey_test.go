package posthoc

import (
	"math"
	"testing"
)

func TestStudentizedRangeKnownQuantiles(t *testing.T) {
	// Critical values from standard studentized-range tables.
	testCases := []struct {
		q     float64
		k, df int
		want  float64 // upper-tail probability at the critical value
	}{
		{2.772, 2, 100000, 0.05}, // sqrt(2) * 1.96
		{3.314, 3, 100000, 0.05},
		{3.633, 4, 100000, 0.05},
		{3.578, 3, 20, 0.05},
		{4.120, 3, 100000, 0.01},
	}
	for _, tc := range testCases {
		got := StudentizedRangeSF(tc.q, tc.k, tc.df)
		if math.Abs(got-tc.want) > 0.005 {
			t.Errorf("SF(%v, k=%d, df=%d) = %v, want ~%v", tc.q, tc.k, tc.df, got, tc.want)
		}
	}
}

func TestStudentizedRangeMonotone(t *testing.T) {
	prev := 1.0
	for q := 0.5; q < 8; q += 0.5 {
		p := StudentizedRangeSF(q, 3, 30)
		if p > prev+1e-12 {
			t.Fatalf("SF not monotone at q=%v: %v > %v", q, p, prev)
		}
		prev = p
	}
	if got := StudentizedRangeSF(0, 3, 30); got != 1 {
		t.Errorf("SF(0) = %v, want 1", got)
	}
}

func TestTukeyHSDSeparatedGroups(t *testing.T) {
	groups := []Group{
		{Name: "before", Values: []float64{10, 11, 9, 10, 10, 11, 9, 10}},
		{Name: "during", Values: []float64{3, 2, 4, 3, 3, 2, 4, 3}},
		{Name: "after", Values: []float64{9, 10, 11, 10, 9, 10, 11, 10}},
	}
	cmp := TukeyHSD(groups)
	if len(cmp.Warnings) != 0 {
		t.Fatalf("warnings: %v", cmp.Warnings)
	}
	if len(cmp.Pairs) != 3 {
		t.Fatalf("got %d pairs, want 3", len(cmp.Pairs))
	}

	byName := map[string]Pair{}
	for _, p := range cmp.Pairs {
		byName[p.A+"/"+p.B] = p
	}
	// before vs during: strongly separated, tiny p.
	if p := byName["before/during"]; p.P > 0.001 {
		t.Errorf("before/during p = %v, want < 0.001", p.P)
	}
	// before vs after: indistinguishable, large p.
	if p := byName["before/after"]; p.P < 0.5 {
		t.Errorf("before/after p = %v, want > 0.5", p.P)
	}
	if p := byName["before/during"]; p.MeanDiff <= 0 {
		t.Errorf("before/during mean diff = %v, want positive", p.MeanDiff)
	}
}

func TestTukeyHSDDegradesOnThinGroups(t *testing.T) {
	cmp := TukeyHSD([]Group{
		{Name: "a", Values: []float64{1}},
		{Name: "b", Values: []float64{2, 3}},
	})
	if len(cmp.Pairs) != 0 {
		t.Errorf("expected no pairs, got %v", cmp.Pairs)
	}
	if len(cmp.Warnings) == 0 {
		t.Error("expected degradation warnings")
	}
}

func TestTukeyHSDIdenticalGroups(t *testing.T) {
	cmp := TukeyHSD([]Group{
		{Name: "a", Values: []float64{5, 5, 5}},
		{Name: "b", Values: []float64{5, 5, 5}},
	})
	if len(cmp.Pairs) != 1 {
		t.Fatalf("pairs = %v", cmp.Pairs)
	}
	if cmp.Pairs[0].P != 1 || cmp.Pairs[0].Q != 0 {
		t.Errorf("identical zero-variance groups: %+v", cmp.Pairs[0])
	}
}

func TestTukeyHSDDeterministic(t *testing.T) {
	groups := []Group{
		{Name: "x", Values: []float64{1.1, 2.3, 0.9, 1.7}},
		{Name: "y", Values: []float64{2.0, 2.2, 2.4, 1.9}},
	}
	a := TukeyHSD(groups)
	b := TukeyHSD(groups)
	if a.Pairs[0].P != b.Pairs[0].P || a.Pairs[0].Q != b.Pairs[0].Q {
		t.Error("repeated comparison differs")
	}
}
