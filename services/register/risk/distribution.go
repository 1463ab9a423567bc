// Copyright (C) 2026 Risquanter (engineering@risquanter.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Distribution is the sealed interface over the two supported
// loss-distribution parameter families.
//
// Sample maps a uniform variate u in [0, 1) to a loss amount via the
// inverse CDF, so a distribution is a pure value: the same u always
// yields the same loss. Randomness lives entirely in the simulator.
type Distribution interface {
	// Validate checks the parameters for internal consistency.
	Validate() error

	// Sample returns the loss at cumulative probability u in [0, 1).
	Sample(u float64) float64

	// Digest returns a stable textual fingerprint of the parameters,
	// used for deterministic simulation seeding.
	Digest() string

	// isDistribution seals the interface to this package.
	isDistribution()
}

// QuantilePoint is one (cumulative probability, loss) pair of a
// QuantileSpec.
type QuantilePoint struct {
	// Percentile is the cumulative probability in (0, 1).
	Percentile float64

	// Loss is the loss amount at that percentile, >= 0.
	Loss float64
}

// QuantileSpec describes a loss distribution as ordered
// percentile/quantile pairs. Sampling interpolates linearly between
// adjacent points and clamps outside the specified range.
type QuantileSpec struct {
	Points []QuantilePoint
}

func (q *QuantileSpec) isDistribution() {}

// Validate requires at least two points with strictly increasing
// percentiles in (0, 1) and non-decreasing, non-negative losses.
func (q *QuantileSpec) Validate() error {
	if len(q.Points) < 2 {
		return fmt.Errorf("%w: quantile spec needs at least 2 points, got %d",
			ErrInvalidDistribution, len(q.Points))
	}
	for i, p := range q.Points {
		if p.Percentile <= 0 || p.Percentile >= 1 || math.IsNaN(p.Percentile) {
			return fmt.Errorf("%w: point %d percentile %v outside (0, 1)",
				ErrInvalidDistribution, i, p.Percentile)
		}
		if p.Loss < 0 || math.IsNaN(p.Loss) {
			return fmt.Errorf("%w: point %d loss %v is negative",
				ErrInvalidDistribution, i, p.Loss)
		}
		if i > 0 {
			prev := q.Points[i-1]
			if p.Percentile <= prev.Percentile {
				return fmt.Errorf("%w: percentiles not strictly increasing at point %d",
					ErrInvalidDistribution, i)
			}
			if p.Loss < prev.Loss {
				return fmt.Errorf("%w: losses decrease at point %d",
					ErrInvalidDistribution, i)
			}
		}
	}
	return nil
}

// Sample interpolates the inverse CDF. Below the first percentile it
// returns the first loss; above the last, the last loss.
func (q *QuantileSpec) Sample(u float64) float64 {
	pts := q.Points
	if u <= pts[0].Percentile {
		return pts[0].Loss
	}
	last := pts[len(pts)-1]
	if u >= last.Percentile {
		return last.Loss
	}
	// Find the bracketing pair. sort.Search keeps this O(log n).
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Percentile >= u })
	lo, hi := pts[i-1], pts[i]
	frac := (u - lo.Percentile) / (hi.Percentile - lo.Percentile)
	return lo.Loss + frac*(hi.Loss-lo.Loss)
}

// Digest returns a stable fingerprint of the points.
func (q *QuantileSpec) Digest() string {
	var b strings.Builder
	b.WriteString("quantile")
	for _, p := range q.Points {
		fmt.Fprintf(&b, ":%g@%g", p.Loss, p.Percentile)
	}
	return b.String()
}

// z90 is the standard normal quantile at 0.95; Low and High of a
// LognormalRange sit 1.645 sigma either side of the median.
const z90 = 1.6448536269514722

// LognormalRange describes a lognormal loss distribution by its 90%
// credible interval: Low is the 5th percentile, High the 95th. This is
// the two-parameter calibrated-estimate form used throughout the
// register; mu and sigma are derived, never supplied directly.
type LognormalRange struct {
	Low  float64
	High float64
}

func (r *LognormalRange) isDistribution() {}

// Validate requires 0 < Low < High and finite bounds.
func (r *LognormalRange) Validate() error {
	if r.Low <= 0 || math.IsNaN(r.Low) || math.IsInf(r.Low, 0) {
		return fmt.Errorf("%w: lognormal low bound %v must be positive and finite",
			ErrInvalidDistribution, r.Low)
	}
	if r.High <= r.Low || math.IsNaN(r.High) || math.IsInf(r.High, 0) {
		return fmt.Errorf("%w: lognormal high bound %v must exceed low bound %v",
			ErrInvalidDistribution, r.High, r.Low)
	}
	return nil
}

// Mu returns the derived location parameter (mean of log-loss).
func (r *LognormalRange) Mu() float64 {
	return (math.Log(r.Low) + math.Log(r.High)) / 2
}

// Sigma returns the derived scale parameter (stddev of log-loss).
func (r *LognormalRange) Sigma() float64 {
	return (math.Log(r.High) - math.Log(r.Low)) / (2 * z90)
}

// Sample returns exp(mu + sigma * probit(u)). The variate is clamped
// away from 0 and 1 so the probit stays finite.
func (r *LognormalRange) Sample(u float64) float64 {
	const eps = 1e-12
	u = math.Min(math.Max(u, eps), 1-eps)
	return math.Exp(r.Mu() + r.Sigma()*probit(u))
}

// Digest returns a stable fingerprint of the bounds.
func (r *LognormalRange) Digest() string {
	return fmt.Sprintf("lognormal:%g:%g", r.Low, r.High)
}

// probit computes the standard normal inverse CDF using the Acklam
// rational approximation (relative error < 1.15e-9 over (0, 1)).
// Transcendental math stays in float64 end to end; the sparse results
// built from these samples are float64 as well.
//
// Reference: Acklam, P.J. (2003) "An algorithm for computing the
// inverse normal cumulative distribution function".
func probit(u float64) float64 {
	a := [6]float64{-3.969683028665376e+01, 2.209460984245205e+02,
		-2.759285104469687e+02, 1.383577518672690e+02,
		-3.066479806614716e+01, 2.506628277459239e+00}
	b := [5]float64{-5.447609879822406e+01, 1.615858368580409e+02,
		-1.556989798598866e+02, 6.680131188771972e+01,
		-1.328068155288572e+01}
	c := [6]float64{-7.784894002430293e-03, -3.223964580411365e-01,
		-2.400758277161838e+00, -2.549732539343734e+00,
		4.374664141464968e+00, 2.938163982698783e+00}
	d := [4]float64{7.784695709041462e-03, 3.224671290700398e-01,
		2.445134137142996e+00, 3.754408661907416e+00}

	const plow = 0.02425
	const phigh = 1 - plow

	switch {
	case u < plow:
		q := math.Sqrt(-2 * math.Log(u))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case u > phigh:
		q := math.Sqrt(-2 * math.Log(1-u))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := u - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}
