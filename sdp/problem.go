// Package sdp defines the matrix-form semidefinite program handed to a
// solver oracle, the Solver interface decoupling the modeling engine from
// any particular backend, and a built-in dense interior-point backend.
//
// A Problem has one symmetric PSD matrix variable G of side Dim, NumScalars
// free scalar variables s, linear constraints of the form
//
//	<A, G> + b·s + c  <=  0   (or  == 0)
//
// and a linear objective in the same shape. <A, G> is the elementwise
// (Frobenius) inner product with A stored symmetric.
package sdp

import (
	"errors"
	"log/slog"

	"gonum.org/v1/gonum/mat"
)

// Kind is the relation of a constraint after normalization to a zero
// right-hand side.
type Kind int

const (
	// LessEq means value <= 0.
	LessEq Kind = iota
	// Eq means value == 0.
	Eq
)

// Coeffs is an affine functional of the matrix variable and the scalars:
// <Gram, G> + Scalars·s + Offset. A nil Gram or Scalars part is zero.
type Coeffs struct {
	Gram    *mat.SymDense
	Scalars []float64
	Offset  float64
}

// Eval substitutes a concrete (G, s) into the functional.
func (c *Coeffs) Eval(g *mat.SymDense, s []float64) float64 {
	v := c.Offset
	if c.Gram != nil {
		n, _ := c.Gram.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v += c.Gram.At(i, j) * g.At(i, j)
			}
		}
	}
	for i, b := range c.Scalars {
		v += b * s[i]
	}
	return v
}

// Constraint is one linear constraint: Coeffs <= 0 or Coeffs == 0.
type Constraint struct {
	Coeffs
	Kind Kind
}

// Problem is a matrix-form semidefinite program.
type Problem struct {
	Dim         int // side of the PSD matrix variable
	NumScalars  int // number of free scalar variables
	Objective   Coeffs
	Constraints []Constraint
	Maximize    bool
}

// Validate checks the problem dimensions for consistency.
func (p *Problem) Validate() error {
	if p.Dim <= 0 {
		return errors.New("sdp: matrix variable must have positive dimension")
	}
	check := func(c *Coeffs) error {
		if c.Gram != nil {
			if n, _ := c.Gram.Dims(); n != p.Dim {
				return errors.New("sdp: coefficient matrix size does not match Dim")
			}
		}
		if c.Scalars != nil && len(c.Scalars) != p.NumScalars {
			return errors.New("sdp: scalar coefficient length does not match NumScalars")
		}
		return nil
	}
	if err := check(&p.Objective); err != nil {
		return err
	}
	for k := range p.Constraints {
		if err := check(&p.Constraints[k].Coeffs); err != nil {
			return err
		}
	}
	return nil
}

// Status is the solver's verdict.
type Status int

const (
	// StatusOptimal means the returned solution satisfies the tolerances.
	StatusOptimal Status = iota
	// StatusInaccurate means the iteration limit was reached with a nearly
	// converged solution; the value is usable but below target accuracy.
	StatusInaccurate
	// StatusInfeasible means no (G, s) satisfies the constraints.
	StatusInfeasible
	// StatusUnbounded means the objective is unbounded in the requested
	// direction.
	StatusUnbounded
	// StatusFailed means the solver broke down numerically.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInaccurate:
		return "inaccurate"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "failed"
	}
}

// Usable reports whether the solution carries a meaningful objective value.
func (s Status) Usable() bool {
	return s == StatusOptimal || s == StatusInaccurate
}

// Solution is what a Solver hands back.
type Solution struct {
	Status     Status
	Value      float64 // objective value in the problem's own direction
	Gram       *mat.SymDense
	Scalars    []float64
	Iterations int
	Gap        float64 // final relative duality gap
}

// Options tunes a solve call.
type Options struct {
	// Tolerance on relative duality gap and residuals. Zero means 1e-8.
	Tolerance float64
	// MaxIterations caps the iteration count. Zero means 200.
	MaxIterations int
	// Logger receives per-iteration progress when Verbose is set. A nil
	// Logger falls back to slog.Default.
	Logger  *slog.Logger
	Verbose bool
}

func (o Options) tolerance() float64 {
	if o.Tolerance <= 0 {
		return 1e-8
	}
	return o.Tolerance
}

func (o Options) maxIterations() int {
	if o.MaxIterations <= 0 {
		return 200
	}
	return o.MaxIterations
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Solver is the boundary to the numerical oracle. Implementations must not
// retain or mutate the Problem.
type Solver interface {
	Solve(p *Problem, o Options) (*Solution, error)
}
