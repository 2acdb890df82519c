package pep

import (
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/perfest/gopep/sdp"
)

// captureSolver records the compiled problem and hands back a canned
// solution, so compilation can be inspected without a numerical solve.
type captureSolver struct {
	prob *sdp.Problem
	sol  *sdp.Solution
}

func (c *captureSolver) Solve(p *sdp.Problem, o sdp.Options) (*sdp.Solution, error) {
	c.prob = p
	if c.sol != nil {
		return c.sol, nil
	}
	g := mat.NewSymDense(p.Dim, nil)
	for i := 0; i < p.Dim; i++ {
		g.SetSym(i, i, 1)
	}
	return &sdp.Solution{
		Status:  sdp.StatusOptimal,
		Gram:    g,
		Scalars: make([]float64, p.NumScalars),
	}, nil
}

func TestSolvePhaseErrors(t *testing.T) {
	p := NewPEP()
	if _, err := p.Solve(SolveOptions{Solver: &captureSolver{}}); err == nil {
		t.Fatal("Solve without an initial point did not fail")
	}

	p = NewPEP()
	if _, err := p.SetInitialPoint(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Solve(SolveOptions{Solver: &captureSolver{}}); err == nil {
		t.Fatal("Solve without an initial condition did not fail")
	}

	p = NewPEP()
	x0, _ := p.SetInitialPoint()
	if err := p.SetInitialCondition(x0.SquaredNorm().LEConst(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Solve(SolveOptions{Solver: &captureSolver{}}); err == nil {
		t.Fatal("Solve without a performance metric did not fail")
	}
}

func TestSingleInitialPointAndCondition(t *testing.T) {
	p := NewPEP()
	x0, err := p.SetInitialPoint()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.SetInitialPoint(); err == nil {
		t.Error("second SetInitialPoint did not fail")
	}

	c := x0.SquaredNorm().LEConst(1)
	if err := p.SetInitialCondition(c); err != nil {
		t.Fatal(err)
	}
	if err := p.SetInitialCondition(c); err == nil {
		t.Error("second SetInitialCondition did not fail")
	}
}

// gradientStepProblem traces one gradient step on a test-rule function and
// returns the problem plus the symbols a test may want to inspect.
func gradientStepProblem(t *testing.T) (*PEP, *Function, Point, Point) {
	t.Helper()
	p := NewPEP()
	f := declare(t, p, smoothRule{})
	xs := f.StationaryPoint()
	x0, err := p.SetInitialPoint()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetInitialCondition(x0.Sub(xs).SquaredNorm().LEConst(1)); err != nil {
		t.Fatal(err)
	}
	x1 := x0.Sub(f.Gradient(x0))
	p.SetPerformanceMetric(f.Value(x1).Sub(f.Value(xs)))
	return p, f, x0, x1
}

func TestSolveOnce(t *testing.T) {
	p, _, _, _ := gradientStepProblem(t)
	cs := &captureSolver{}
	if _, err := p.Solve(SolveOptions{Solver: cs}); err != nil {
		t.Fatalf("first Solve failed: %v", err)
	}
	if _, err := p.Solve(SolveOptions{Solver: cs}); err == nil {
		t.Fatal("second Solve did not fail")
	}
}

func TestCompileStructure(t *testing.T) {
	p, _, _, _ := gradientStepProblem(t)
	cs := &captureSolver{}
	if _, err := p.Solve(SolveOptions{Solver: cs}); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	prob := cs.prob
	if prob == nil {
		t.Fatal("solver was never called")
	}

	// Points: xs, x0, g(x0), g(x1). Scalars: f* and the two values.
	if prob.Dim != 4 {
		t.Errorf("Dim = %d, want 4", prob.Dim)
	}
	if prob.NumScalars != 3 {
		t.Errorf("NumScalars = %d, want 3", prob.NumScalars)
	}
	if !prob.Maximize {
		t.Error("compiled problem does not maximize")
	}

	// Initial condition plus ordered interpolation over three triples.
	if len(prob.Constraints) != 1+6 {
		t.Errorf("compiled %d constraints, want 7", len(prob.Constraints))
	}
	if err := prob.Validate(); err != nil {
		t.Errorf("compiled problem does not validate: %v", err)
	}
}

func TestCompilePrunesUnusedScalars(t *testing.T) {
	p, f, _, _ := gradientStepProblem(t)
	orphan := f.NewScalar()

	cs := &captureSolver{}
	res, err := p.Solve(SolveOptions{Solver: cs})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if cs.prob.NumScalars != 3 {
		t.Errorf("NumScalars = %d, want 3 (orphan scalar not pruned)", cs.prob.NumScalars)
	}
	if _, err := res.Value(orphan); err == nil {
		t.Error("Value on a pruned scalar did not fail")
	}
}

func TestWorstOfMetricsCompilation(t *testing.T) {
	p, f, x0, _ := gradientStepProblem(t)
	p.SetPerformanceMetric(x0.Sub(f.Triples()[0].X).SquaredNorm())

	cs := &captureSolver{}
	if _, err := p.Solve(SolveOptions{Solver: cs}); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	prob := cs.prob

	// One auxiliary scalar, bounded above by each of the two metrics.
	if prob.NumScalars != 4 {
		t.Errorf("NumScalars = %d, want 4 (3 values + aux)", prob.NumScalars)
	}
	if len(prob.Constraints) != 1+6+2 {
		t.Errorf("compiled %d constraints, want 9", len(prob.Constraints))
	}

	obj := prob.Objective
	if obj.Gram != nil {
		t.Error("worst-of objective has a Gram part")
	}
	nonzero := 0
	for col, v := range obj.Scalars {
		if v != 0 {
			nonzero++
			if col != 3 || v != 1 {
				t.Errorf("objective scalar at col %d = %v, want 1 at col 3", col, v)
			}
		}
	}
	if nonzero != 1 {
		t.Errorf("objective has %d nonzero scalar coefficients, want 1", nonzero)
	}
}

func TestConstantConstraints(t *testing.T) {
	p, _, _, _ := gradientStepProblem(t)
	p.AddConstraint(Const(-1).LEConst(0)) // trivially true, dropped

	cs := &captureSolver{}
	if _, err := p.Solve(SolveOptions{Solver: cs}); err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if len(cs.prob.Constraints) != 7 {
		t.Errorf("trivially true constraint was not dropped: %d constraints", len(cs.prob.Constraints))
	}

	p2, _, _, _ := gradientStepProblem(t)
	p2.AddConstraint(Const(1).LEConst(0))
	_, err := p2.Solve(SolveOptions{Solver: &captureSolver{}})
	if err == nil {
		t.Fatal("violated constant constraint did not fail compilation")
	}
	if !strings.Contains(err.Error(), "violated") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResultValueAndPointValue(t *testing.T) {
	p, _, x0, _ := gradientStepProblem(t)
	res, err := p.Solve(SolveOptions{Solver: &captureSolver{}})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	// The canned solution is the identity Gram with zero scalars.
	v, err := res.Value(x0.SquaredNorm())
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != 1 {
		t.Errorf("Value(||x0||^2) = %v, want 1", v)
	}

	if res.Dimension != 4 {
		t.Errorf("Dimension = %d, want 4 for the identity Gram", res.Dimension)
	}
	coords := res.PointValue(x0)
	if len(coords) != res.Dimension {
		t.Fatalf("PointValue length = %d, want %d", len(coords), res.Dimension)
	}
	norm := 0.0
	for _, c := range coords {
		norm += c * c
	}
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("||PointValue(x0)||^2 = %v, want 1", norm)
	}
}
