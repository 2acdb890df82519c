// Package operators provides the interpolation rules for the built-in
// operator classes. Operators are modelled exactly like functions, with the
// oracle's gradient slot holding the operator value; function values exist
// as symbols but carry no class meaning.
//
// References for the formulas:
//
//	Ryu, Taylor, Bergeling, Giselsson. Operator splitting performance
//	estimation: tight contraction factors and optimal parameter selection.
//	SIAM Journal on Optimization 30(3), 2020.
package operators

import (
	"errors"
	"math"

	"github.com/perfest/gopep/pep"
)

// Monotone is the class of (maximally) monotone operators. Its formula is
// symmetric in the pair, so the reverse pair is skipped.
type Monotone struct{}

func (Monotone) Name() string         { return "monotone" }
func (Monotone) Validate() error      { return nil }
func (Monotone) ReuseGradient() bool  { return false }
func (Monotone) Pairing() pep.Pairing { return pep.UnorderedPairs }

// PairConstraints emits (g_i - g_j)*(x_i - x_j) >= 0.
func (Monotone) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	return []pep.Constraint{
		ti.G.Sub(tj.G).Dot(ti.X.Sub(tj.X)).GEConst(0),
	}
}

// StronglyMonotone is the class of Mu-strongly monotone operators. As for
// Monotone, the formula is symmetric and the reverse pair is skipped.
type StronglyMonotone struct {
	Mu float64
}

func (StronglyMonotone) Name() string         { return "strongly-monotone" }
func (StronglyMonotone) ReuseGradient() bool  { return false }
func (StronglyMonotone) Pairing() pep.Pairing { return pep.UnorderedPairs }

func (r StronglyMonotone) Validate() error {
	if r.Mu <= 0 || math.IsInf(r.Mu, 0) || math.IsNaN(r.Mu) {
		return errors.New("strong-monotonicity modulus Mu must be positive and finite")
	}
	return nil
}

// PairConstraints emits (g_i - g_j)*(x_i - x_j) >= Mu*||x_i - x_j||^2.
func (r StronglyMonotone) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	dx := ti.X.Sub(tj.X)
	return []pep.Constraint{
		ti.G.Sub(tj.G).Dot(dx).GE(dx.SquaredNorm().Scale(r.Mu)),
	}
}

// Lipschitz is the class of L-Lipschitz (single-valued) operators; L < 1
// gives a contraction, L = 1 a non-expansive operator.
type Lipschitz struct {
	L float64
}

func (Lipschitz) Name() string         { return "lipschitz" }
func (Lipschitz) ReuseGradient() bool  { return true }
func (Lipschitz) Pairing() pep.Pairing { return pep.OrderedPairs }

func (r Lipschitz) Validate() error {
	if r.L <= 0 || math.IsInf(r.L, 0) || math.IsNaN(r.L) {
		return errors.New("Lipschitz constant L must be positive and finite")
	}
	return nil
}

// PairConstraints emits ||g_i - g_j||^2 <= L^2*||x_i - x_j||^2.
func (r Lipschitz) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	return []pep.Constraint{
		ti.G.Sub(tj.G).SquaredNorm().
			LE(ti.X.Sub(tj.X).SquaredNorm().Scale(r.L * r.L)),
	}
}

// Cocoercive is the class of Beta-cocoercive operators.
type Cocoercive struct {
	Beta float64
}

func (Cocoercive) Name() string         { return "cocoercive" }
func (Cocoercive) ReuseGradient() bool  { return true }
func (Cocoercive) Pairing() pep.Pairing { return pep.OrderedPairs }

func (r Cocoercive) Validate() error {
	if r.Beta <= 0 || math.IsInf(r.Beta, 0) || math.IsNaN(r.Beta) {
		return errors.New("cocoercivity constant Beta must be positive and finite")
	}
	return nil
}

// PairConstraints emits (g_i - g_j)*(x_i - x_j) >= Beta*||g_i - g_j||^2.
func (r Cocoercive) PairConstraints(ti, tj pep.Triple) []pep.Constraint {
	dg := ti.G.Sub(tj.G)
	return []pep.Constraint{
		dg.Dot(ti.X.Sub(tj.X)).GE(dg.SquaredNorm().Scale(r.Beta)),
	}
}
