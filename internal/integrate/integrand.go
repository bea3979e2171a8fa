// Package integrate drives a grid through the generate, evaluate, update,
// adapt loop and turns the weighted samples into integral estimates.
package integrate

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"
)

// Integrand is the function being integrated. It is evaluated once per
// sample on the point the grid produced.
type Integrand func(x []float64) float64

// peakSigma is the width of the gaussian and camel peaks.
const peakSigma = 0.05

func peakAt(mu float64) distuv.Normal { return distuv.Normal{Mu: mu, Sigma: peakSigma} }

// gaussianProduct is a normalized peak centred at mu on every axis.
func gaussianProduct(mu float64, x []float64) float64 {
	n := peakAt(mu)
	v := 1.0
	for _, xi := range x {
		v *= n.Prob(xi)
	}
	return v
}

var integrands = map[string]Integrand{
	"gaussian": func(x []float64) float64 { return gaussianProduct(0.5, x) },
	"camel": func(x []float64) float64 {
		return 0.5 * (gaussianProduct(1.0/3, x) + gaussianProduct(2.0/3, x))
	},
	"constant": func([]float64) float64 { return 1 },
	"step": func(x []float64) float64 {
		if x[0] < 0.5 {
			return 1
		}
		return 0
	},
}

// Names lists the built-in integrands in sorted order.
func Names() []string {
	names := make([]string, 0, len(integrands))
	for name := range integrands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the built-in integrand called name.
func Lookup(name string) (Integrand, error) {
	f, ok := integrands[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrand %q (want one of %v)", name, Names())
	}
	return f, nil
}

// gaussianMass integrates gaussianProduct(mu, .) over the box.
func gaussianMass(mu float64, lower, upper []float64) float64 {
	n := peakAt(mu)
	v := 1.0
	for i := range lower {
		v *= n.CDF(upper[i]) - n.CDF(lower[i])
	}
	return v
}

// Exact returns the analytic integral of the named built-in integrand over
// the box [lower, upper], or false for unknown names.
func Exact(name string, lower, upper []float64) (float64, bool) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return 0, false
	}
	volume := 1.0
	for i := range lower {
		volume *= upper[i] - lower[i]
	}
	switch name {
	case "gaussian":
		return gaussianMass(0.5, lower, upper), true
	case "camel":
		return 0.5 * (gaussianMass(1.0/3, lower, upper) + gaussianMass(2.0/3, lower, upper)), true
	case "constant":
		return volume, true
	case "step":
		w := upper[0] - lower[0]
		if w <= 0 {
			return 0, true
		}
		below := math.Min(math.Max(0.5, lower[0]), upper[0]) - lower[0]
		return volume * below / w, true
	}
	return 0, false
}
