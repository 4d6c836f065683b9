package posthoc

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// StudentizedRangeSF returns P(Q > q) for the studentized range
// distribution with k groups and df residual degrees of freedom. This is
// the adjusted p-value of a Tukey HSD pair.
//
// The CDF is the double integral
//
//	F(q) = INT_0^inf f_s(s) * k * INT phi(z) (Phi(z) - Phi(z - q*s))^(k-1) dz ds
//
// where s is the scaled chi factor sqrt(chi2_df / df). Both integrals are
// evaluated with fixed-step Simpson rules, which keeps the result fully
// deterministic. For large df the chi factor collapses to 1 and only the
// inner integral remains.
func StudentizedRangeSF(q float64, k, df int) float64 {
	if q <= 0 {
		return 1
	}
	if k < 2 {
		return 1
	}

	if df > 2000 {
		return clampProb(1 - rangeCDFGivenScale(q, k))
	}

	// Outer integration over the chi scale factor. The density of
	// s = sqrt(u/df), u ~ chi2_df, is 2*df*s * f_chi2(df*s^2).
	chi2 := distuv.ChiSquared{K: float64(df)}
	const (
		sLo    = 1e-4
		sHi    = 4.0
		sSteps = 256 // even
	)
	h := (sHi - sLo) / sSteps
	integrand := func(s float64) float64 {
		dens := 2 * float64(df) * s * chi2.Prob(float64(df)*s*s)
		if dens == 0 {
			return 0
		}
		return dens * rangeCDFGivenScale(q*s, k)
	}
	sum := integrand(sLo) + integrand(sHi)
	for i := 1; i < sSteps; i++ {
		s := sLo + float64(i)*h
		if i%2 == 1 {
			sum += 4 * integrand(s)
		} else {
			sum += 2 * integrand(s)
		}
	}
	cdf := sum * h / 3
	return clampProb(1 - cdf)
}

// rangeCDFGivenScale evaluates the inner integral: the probability that the
// range of k standard normals is below w.
func rangeCDFGivenScale(w float64, k int) float64 {
	if w <= 0 {
		return 0
	}
	norm := distuv.UnitNormal
	const (
		zLo    = -8.0
		zSteps = 512 // even
	)
	zHi := 8.0 + w
	h := (zHi - zLo) / zSteps
	integrand := func(z float64) float64 {
		d := norm.CDF(z) - norm.CDF(z-w)
		if d <= 0 {
			return 0
		}
		return norm.Prob(z) * math.Pow(d, float64(k-1))
	}
	sum := integrand(zLo) + integrand(zHi)
	for i := 1; i < zSteps; i++ {
		z := zLo + float64(i)*h
		if i%2 == 1 {
			sum += 4 * integrand(z)
		} else {
			sum += 2 * integrand(z)
		}
	}
	return clampProb(float64(k) * sum * h / 3)
}

func clampProb(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
