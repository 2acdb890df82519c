// Package functions provides the interpolation rules for the built-in
// function classes. Each rule is one variant of the closed pep.Rule contract:
// class parameters, gradient-reuse behavior, pairing policy, and the pure
// pairwise interpolation formula.
//
// References for the formulas:
//
//	Taylor, Hendrickx, Glineur. Smooth strongly convex interpolation and
//	exact worst-case performance of first-order methods. Mathematical
//	Programming 161, 2017.
package functions

import (
	"errors"
	"math"

	"github.com/perfest/gopep/pep"
)

// Convex is the class of closed proper convex functions.
type Convex struct{}

func (Convex) Name() string         { return "convex" }
func (Convex) Validate() error      { return nil }
func (Convex) ReuseGradient() bool  { return false }
func (Convex) Pairing() pep.Pairing { return pep.OrderedPairs }

// PairConstraints emits f_i - f_j >= g_j*(x_i - x_j).
func (Convex) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	return []pep.Constraint{
		ti.F.Sub(tj.F).GE(tj.G.Dot(ti.X.Sub(tj.X))),
	}
}

// StronglyConvex is the class of mu-strongly convex closed proper functions
// (no smoothness assumed).
type StronglyConvex struct {
	Mu float64
}

func (StronglyConvex) Name() string        { return "strongly-convex" }
func (StronglyConvex) ReuseGradient() bool { return false }
func (StronglyConvex) Pairing() pep.Pairing {
	return pep.OrderedPairs
}

func (r StronglyConvex) Validate() error {
	if r.Mu <= 0 || math.IsInf(r.Mu, 0) || math.IsNaN(r.Mu) {
		return errors.New("strong-convexity modulus Mu must be positive and finite")
	}
	return nil
}

// PairConstraints emits
// f_i - f_j >= g_j*(x_i - x_j) + Mu/2*||x_i - x_j||^2.
func (r StronglyConvex) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	d := ti.X.Sub(tj.X)
	rhs := tj.G.Dot(d).Add(d.SquaredNorm().Scale(r.Mu / 2))
	return []pep.Constraint{ti.F.Sub(tj.F).GE(rhs)}
}

// SmoothConvex is the class of convex functions with L-Lipschitz gradient.
type SmoothConvex struct {
	L float64
}

func (SmoothConvex) Name() string        { return "smooth-convex" }
func (SmoothConvex) ReuseGradient() bool { return true }
func (SmoothConvex) Pairing() pep.Pairing {
	return pep.OrderedPairs
}

func (r SmoothConvex) Validate() error {
	if r.L <= 0 || math.IsInf(r.L, 0) || math.IsNaN(r.L) {
		return errors.New("smoothness constant L must be positive and finite")
	}
	return nil
}

// PairConstraints emits
// f_i - f_j >= g_j*(x_i - x_j) + 1/(2L)*||g_i - g_j||^2.
func (r SmoothConvex) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	rhs := tj.G.Dot(ti.X.Sub(tj.X)).
		Add(ti.G.Sub(tj.G).SquaredNorm().Scale(1 / (2 * r.L)))
	return []pep.Constraint{ti.F.Sub(tj.F).GE(rhs)}
}

// SmoothStronglyConvex is the class of Mu-strongly convex functions with
// L-Lipschitz gradient, 0 < Mu < L.
type SmoothStronglyConvex struct {
	Mu float64
	L  float64
}

func (SmoothStronglyConvex) Name() string        { return "smooth-strongly-convex" }
func (SmoothStronglyConvex) ReuseGradient() bool { return true }
func (SmoothStronglyConvex) Pairing() pep.Pairing {
	return pep.OrderedPairs
}

func (r SmoothStronglyConvex) Validate() error {
	switch {
	case r.L <= 0 || math.IsInf(r.L, 0) || math.IsNaN(r.L):
		return errors.New("smoothness constant L must be positive and finite")
	case r.Mu <= 0 || math.IsNaN(r.Mu):
		return errors.New("strong-convexity modulus Mu must be positive")
	case r.Mu >= r.L:
		return errors.New("Mu must be smaller than L")
	}
	return nil
}

// PairConstraints emits the smooth strongly convex interpolation condition
// of Taylor, Hendrickx and Glineur (Theorem 4):
//
//	f_i - f_j >= g_j*(x_i - x_j) + 1/(2L)*||g_i - g_j||^2
//	           + Mu/(2(1 - Mu/L))*||x_i - x_j - (1/L)(g_i - g_j)||^2.
func (r SmoothStronglyConvex) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	dx := ti.X.Sub(tj.X)
	dg := ti.G.Sub(tj.G)
	rhs := tj.G.Dot(dx).
		Add(dg.SquaredNorm().Scale(1 / (2 * r.L))).
		Add(dx.Sub(dg.Scale(1 / r.L)).SquaredNorm().Scale(r.Mu / (2 * (1 - r.Mu/r.L))))
	return []pep.Constraint{ti.F.Sub(tj.F).GE(rhs)}
}

// ConvexIndicator is the indicator of a closed convex set, optionally of
// bounded diameter D. Its oracle gradients are normal-cone directions and
// its value is constant on the domain; the per-pair value inequality closes
// to an equality over the two orders of each pair.
type ConvexIndicator struct {
	// D bounds the domain diameter when positive and finite; zero or
	// infinity means unbounded.
	D float64
}

func (ConvexIndicator) Name() string        { return "convex-indicator" }
func (ConvexIndicator) ReuseGradient() bool { return false }
func (ConvexIndicator) Pairing() pep.Pairing {
	return pep.OrderedPairs
}

func (r ConvexIndicator) Validate() error {
	if r.D < 0 || math.IsNaN(r.D) {
		return errors.New("diameter D must be non-negative")
	}
	return nil
}

func (r ConvexIndicator) bounded() bool {
	return r.D > 0 && !math.IsInf(r.D, 1)
}

func (r ConvexIndicator) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	d := ti.X.Sub(tj.X)
	out := []pep.Constraint{
		tj.G.Dot(d).LEConst(0),
		ti.F.LE(tj.F),
	}
	if r.bounded() {
		out = append(out, d.SquaredNorm().LEConst(r.D*r.D))
	}
	return out
}
