// Package posthoc runs the cross-epoch comparison: all-pairs mean
// differences under Tukey's HSD with studentized-range adjusted p-values.
package posthoc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Group is one epoch's per-cell scalar summaries (e.g. spike counts).
type Group struct {
	Name   string
	Values []float64
}

// Pair is one pairwise comparison result. P is already adjusted for the
// family of comparisons via the studentized-range distribution.
type Pair struct {
	A, B     string
	MeanDiff float64
	Q        float64
	P        float64
}

// Comparison holds all pairwise results plus any degradation warnings. The
// statistics pass degrades to warnings rather than aborting: a cohort with
// too few usable groups still reports what it can.
type Comparison struct {
	Pairs    []Pair
	Warnings []string
}

// TukeyHSD compares all pairs of groups. Groups with fewer than two values
// are dropped with a warning; if fewer than two usable groups remain the
// result carries only warnings.
func TukeyHSD(groups []Group) *Comparison {
	cmp := &Comparison{}

	var usable []Group
	for _, g := range groups {
		if len(g.Values) < 2 {
			cmp.Warnings = append(cmp.Warnings,
				fmt.Sprintf("group %q has %d values, need at least 2; excluded from comparison", g.Name, len(g.Values)))
			continue
		}
		usable = append(usable, g)
	}
	if len(usable) < 2 {
		cmp.Warnings = append(cmp.Warnings,
			fmt.Sprintf("only %d usable groups, need at least 2; no pairwise comparison", len(usable)))
		return cmp
	}

	k := len(usable)
	n := 0
	sse := 0.0
	means := make([]float64, k)
	for i, g := range usable {
		means[i] = stat.Mean(g.Values, nil)
		sse += stat.Variance(g.Values, nil) * float64(len(g.Values)-1)
		n += len(g.Values)
	}
	df := n - k
	if df < 1 {
		cmp.Warnings = append(cmp.Warnings, "zero residual degrees of freedom; no pairwise comparison")
		return cmp
	}
	mse := sse / float64(df)

	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			ni, nj := float64(len(usable[i].Values)), float64(len(usable[j].Values))
			diff := means[i] - means[j]
			se := math.Sqrt(mse / 2 * (1/ni + 1/nj))

			var q, p float64
			switch {
			case se == 0 && diff == 0:
				q, p = 0, 1
			case se == 0:
				q, p = math.Inf(1), 0
			default:
				q = math.Abs(diff) / se
				p = StudentizedRangeSF(q, k, df)
			}
			cmp.Pairs = append(cmp.Pairs, Pair{
				A:        usable[i].Name,
				B:        usable[j].Name,
				MeanDiff: diff,
				Q:        q,
				P:        p,
			})
		}
	}
	return cmp
}
