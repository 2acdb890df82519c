// Package pep builds worst-case performance estimation problems over an
// implicit inner-product space. Algorithm iterates are symbolic Points,
// scalar quantities are Expressions over inner products of leaf points, and
// declared function classes contribute interpolation constraints. Solve
// compiles everything into a semidefinite program over the Gram matrix of
// the leaf points and reports the worst-case value together with a matching
// low-dimensional instance.
package pep

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/perfest/gopep/sdp"
)

// PEP is a performance-estimation problem: the top-level object that owns
// the declared functions, the initial point, the initial condition and the
// performance metrics, and that compiles everything into a semidefinite
// program over the Gram matrix of all leaf points and the leaf scalars.
//
// Usage follows four phases: declare functions and the initial point, trace
// the algorithm through oracles and primitive steps, register the initial
// condition and the performance metric, then Solve exactly once.
type PEP struct {
	alloc *allocator

	fns []*Function // declared (leaf) functions, in declaration order
	all []*Function // every function of this problem, in creation order

	x0      Point
	hasX0   bool
	initial *Constraint
	metrics []Expression
	extra   []Constraint

	solved bool
}

// NewPEP creates an empty problem with its own identifier space.
func NewPEP() *PEP {
	return &PEP{alloc: &allocator{}}
}

// DeclareFunction declares a leaf function or operator of the class
// described by rule. Missing or out-of-range class parameters are reported
// here, never at constraint-emission time.
func (p *PEP) DeclareFunction(rule Rule) (*Function, error) {
	if rule == nil {
		return nil, errors.New("pep: nil class rule")
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("pep: declaring %s function: %w", rule.Name(), err)
	}
	f := newLeafFunction(p, rule)
	p.fns = append(p.fns, f)
	p.all = append(p.all, f)
	return f, nil
}

func (p *PEP) register(f *Function) {
	p.all = append(p.all, f)
}

// SetInitialPoint creates and returns the problem's starting point. A
// problem has exactly one.
func (p *PEP) SetInitialPoint() (Point, error) {
	if p.hasX0 {
		return Point{}, errors.New("pep: initial point already set")
	}
	p.x0 = newLeafPoint(p.alloc)
	p.hasX0 = true
	return p.x0, nil
}

// SetInitialCondition registers the single constraint normalizing the
// problem's scale, typically bounding an initial distance by one.
func (p *PEP) SetInitialCondition(c Constraint) error {
	if p.initial != nil {
		return errors.New("pep: initial condition already set")
	}
	p.initial = &c
	return nil
}

// SetPerformanceMetric registers a performance metric to bound. Several
// metrics combine as "worst of".
func (p *PEP) SetPerformanceMetric(e Expression) {
	p.metrics = append(p.metrics, e)
}

// AddConstraint attaches a problem-level constraint.
func (p *PEP) AddConstraint(c Constraint) {
	p.extra = append(p.extra, c)
}

// SolveOptions tunes compilation and solving.
type SolveOptions struct {
	// Verbose enables the compiled-problem summary and solver progress on
	// the logger.
	Verbose bool
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Solver defaults to the built-in interior-point backend.
	Solver sdp.Solver
	// Tolerance is passed to the solver; zero selects its default.
	Tolerance float64
	// DimensionReduction selects the optional post-processing pass:
	// "" (off), "trace", or "logdetN" for N reweighting iterations.
	DimensionReduction string
}

func (o SolveOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Result carries the solved worst-case value and the numeric certificate.
type Result struct {
	// WorstCase is the tight worst-case constant tau.
	WorstCase float64
	// Status is the solver verdict for the main solve.
	Status sdp.Status
	// Iterations and Gap describe the main solve.
	Iterations int
	Gap        float64
	// Dimension is the number of significant eigenvalues of the final Gram
	// matrix: the dimension of the recovered concrete example.
	Dimension int
	// Passes records the dimension-reduction solves, in order; empty when
	// no reduction was requested.
	Passes []ReductionPass

	gram    *mat.SymDense
	scalars []float64
	scol    map[int]int
	factor  *mat.Dense
}

// Solve compiles the problem and dispatches it to the solver. It may be
// called once per PEP instance.
func (p *PEP) Solve(opts SolveOptions) (*Result, error) {
	if p.solved {
		return nil, errors.New("pep: problem already solved")
	}
	p.solved = true

	logger := opts.logger()
	prob, scol, err := p.compile(logger, opts.Verbose)
	if err != nil {
		return nil, err
	}

	solver := opts.Solver
	if solver == nil {
		solver = sdp.NewInteriorPoint()
	}
	solverOpts := sdp.Options{
		Tolerance: opts.Tolerance,
		Logger:    logger,
		Verbose:   opts.Verbose,
	}

	if opts.Verbose {
		logger.Info("calling SDP solver")
	}
	sol, err := solver.Solve(prob, solverOpts)
	if err != nil {
		return nil, fmt.Errorf("pep: solver error: %w", err)
	}
	if !sol.Status.Usable() {
		return nil, fmt.Errorf("pep: solver returned status %s", sol.Status)
	}
	if opts.Verbose {
		logger.Info("solver finished",
			"status", sol.Status.String(),
			"optimal_value", sol.Value,
			"iterations", sol.Iterations,
			"gap", sol.Gap)
	}

	var passes []ReductionPass
	if opts.DimensionReduction != "" {
		reduced, ps, err := p.reduceDimension(prob, sol, opts.DimensionReduction, solver, solverOpts, logger, opts.Verbose)
		if err != nil {
			return nil, err
		}
		sol, passes = reduced, ps
	}

	res := &Result{
		WorstCase:  prob.Objective.Eval(sol.Gram, sol.Scalars),
		Status:     sol.Status,
		Iterations: sol.Iterations,
		Gap:        sol.Gap,
		Passes:     passes,
		gram:       sol.Gram,
		scalars:    sol.Scalars,
		scol:       scol,
	}
	res.factor, res.Dimension = realize(sol.Gram)
	return res, nil
}

// compile flattens every symbol and constraint into the matrix-form SDP.
// The returned map sends leaf-scalar identifiers to scalar-variable columns;
// scalars appearing in no constraint and no metric are pruned.
func (p *PEP) compile(logger *slog.Logger, verbose bool) (*sdp.Problem, map[int]int, error) {
	if !p.hasX0 {
		return nil, nil, errors.New("pep: no initial point set")
	}
	if p.initial == nil {
		return nil, nil, errors.New("pep: no initial condition set")
	}
	if len(p.metrics) == 0 {
		return nil, nil, errors.New("pep: no performance metric set")
	}
	dim := p.alloc.points
	if dim == 0 {
		return nil, nil, errors.New("pep: problem has no points")
	}

	type tagged struct {
		c   Constraint
		src string
	}
	var cons []tagged
	cons = append(cons, tagged{*p.initial, "initial condition"})
	for _, c := range p.extra {
		cons = append(cons, tagged{c, "problem constraint"})
	}
	for _, f := range p.all {
		for _, c := range f.cons {
			cons = append(cons, tagged{c, "step constraint"})
		}
	}
	for i, f := range p.fns {
		cc := f.ClassConstraints()
		if verbose {
			logger.Info("interpolation conditions",
				"function", i+1,
				"class", f.rule.Name(),
				"constraints", len(cc))
		}
		for _, c := range cc {
			cons = append(cons, tagged{c, "interpolation"})
		}
	}

	// Scalar variables: every leaf scalar referenced anywhere, in id order.
	used := make(map[int]bool)
	scan := func(e Expression) {
		e.terms(func(t term, _ float64) {
			if t.j == scalarKey {
				used[t.i] = true
			}
		})
	}
	for _, tc := range cons {
		scan(tc.c.expr)
	}
	for _, m := range p.metrics {
		scan(m)
	}
	ids := make([]int, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	scol := make(map[int]int, len(ids))
	for col, id := range ids {
		scol[id] = col
	}

	numScalars := len(ids)
	worstOf := len(p.metrics) > 1
	auxCol := -1
	if worstOf {
		auxCol = numScalars
		numScalars++
	}

	prob := &sdp.Problem{
		Dim:        dim,
		NumScalars: numScalars,
		Maximize:   true,
	}

	for _, tc := range cons {
		sc, empty, err := p.lower(tc.c.expr, scol, numScalars)
		if err != nil {
			return nil, nil, fmt.Errorf("pep: compiling %s: %w", tc.src, err)
		}
		if empty {
			// Constant-only constraint: either trivially true or a
			// structurally broken trace.
			v := tc.c.expr.Constant()
			if (tc.c.rel == Inequality && v > 0) || (tc.c.rel == Equality && v != 0) {
				return nil, nil, fmt.Errorf("pep: %s has empty decomposition and is violated (constant %v %s 0)",
					tc.src, v, tc.c.rel)
			}
			continue
		}
		kind := sdp.LessEq
		if tc.c.rel == Equality {
			kind = sdp.Eq
		}
		prob.Constraints = append(prob.Constraints, sdp.Constraint{Coeffs: *sc, Kind: kind})
	}

	if worstOf {
		// tau = max min_k metric_k: maximize an auxiliary scalar bounded by
		// every metric.
		for _, m := range p.metrics {
			sc, _, err := p.lower(m, scol, numScalars)
			if err != nil {
				return nil, nil, fmt.Errorf("pep: compiling performance metric: %w", err)
			}
			neg := negateCoeffs(sc)
			neg.Scalars[auxCol] += 1
			prob.Constraints = append(prob.Constraints, sdp.Constraint{Coeffs: *neg, Kind: sdp.LessEq})
		}
		obj := &sdp.Coeffs{Scalars: make([]float64, numScalars)}
		obj.Scalars[auxCol] = 1
		prob.Objective = *obj
	} else {
		sc, _, err := p.lower(p.metrics[0], scol, numScalars)
		if err != nil {
			return nil, nil, fmt.Errorf("pep: compiling performance metric: %w", err)
		}
		prob.Objective = *sc
	}

	if verbose {
		logger.Info("compiled problem",
			"psd_matrix_size", dim,
			"scalar_variables", numScalars,
			"constraints", len(prob.Constraints),
			"performance_metrics", len(p.metrics))
	}
	return prob, scol, nil
}

// lower turns an Expression into SDP coefficients. The off-diagonal halves
// account for the Frobenius inner product counting both (i,j) and (j,i).
func (p *PEP) lower(e Expression, scol map[int]int, numScalars int) (*sdp.Coeffs, bool, error) {
	dim := p.alloc.points
	sc := &sdp.Coeffs{
		Gram:    mat.NewSymDense(dim, nil),
		Scalars: make([]float64, numScalars),
		Offset:  e.Constant(),
	}
	empty := true
	var lerr error
	e.terms(func(t term, w float64) {
		if lerr != nil || w == 0 {
			return
		}
		empty = false
		if t.j == scalarKey {
			col, ok := scol[t.i]
			if !ok || t.i >= p.alloc.scalars {
				lerr = fmt.Errorf("expression references unknown scalar leaf %d", t.i)
				return
			}
			sc.Scalars[col] += w
			return
		}
		if t.i < 0 || t.j < 0 || t.i >= dim || t.j >= dim {
			lerr = fmt.Errorf("expression references unknown point leaf pair (%d, %d)", t.i, t.j)
			return
		}
		if t.i == t.j {
			sc.Gram.SetSym(t.i, t.i, sc.Gram.At(t.i, t.i)+w)
		} else {
			sc.Gram.SetSym(t.i, t.j, sc.Gram.At(t.i, t.j)+w/2)
		}
	})
	if lerr != nil {
		return nil, false, lerr
	}
	return sc, empty, nil
}

func negateCoeffs(c *sdp.Coeffs) *sdp.Coeffs {
	out := &sdp.Coeffs{Offset: -c.Offset}
	if c.Gram != nil {
		n, _ := c.Gram.Dims()
		out.Gram = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				out.Gram.SetSym(i, j, -c.Gram.At(i, j))
			}
		}
	}
	out.Scalars = make([]float64, len(c.Scalars))
	for i, v := range c.Scalars {
		out.Scalars[i] = -v
	}
	return out
}

// Value substitutes the solved Gram matrix and scalar values into an
// Expression's decomposition.
func (r *Result) Value(e Expression) (float64, error) {
	total := e.Constant()
	var verr error
	e.terms(func(t term, w float64) {
		if verr != nil {
			return
		}
		if t.j == scalarKey {
			col, ok := r.scol[t.i]
			if !ok {
				verr = fmt.Errorf("pep: scalar leaf %d was not part of the compiled problem", t.i)
				return
			}
			total += w * r.scalars[col]
			return
		}
		total += w * r.gram.At(t.i, t.j)
	})
	if verr != nil {
		return 0, verr
	}
	return total, nil
}

// PointValue returns the concrete low-dimensional realization of a Point,
// recovered from the factorized Gram matrix. Coordinates are ordered by
// decreasing eigenvalue; the length equals Dimension.
func (r *Result) PointValue(p Point) []float64 {
	out := make([]float64, r.Dimension)
	p.terms(func(id int, c float64) {
		for d := 0; d < r.Dimension; d++ {
			out[d] += c * r.factor.At(id, d)
		}
	})
	return out
}

// realize factorizes a PSD matrix into point coordinates, keeping the
// eigenvalues that stand above numerical noise.
func realize(g *mat.SymDense) (*mat.Dense, int) {
	n, _ := g.Dims()
	var es mat.EigenSym
	if !es.Factorize(g, true) {
		return mat.NewDense(n, 1, nil), 0
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	lmax := 0.0
	for _, v := range vals {
		lmax = math.Max(lmax, v)
	}
	thresh := math.Max(lmax*1e-7, 1e-9)

	// Eigenvalues come in ascending order; significant ones sit at the end.
	var keep []int
	for i := n - 1; i >= 0; i-- {
		if vals[i] > thresh {
			keep = append(keep, i)
		}
	}
	dim := len(keep)
	cols := dim
	if cols == 0 {
		cols = 1
	}
	factor := mat.NewDense(n, cols, nil)
	for d, idx := range keep {
		s := math.Sqrt(vals[idx])
		for i := 0; i < n; i++ {
			factor.Set(i, d, s*vecs.At(i, idx))
		}
	}
	return factor, dim
}
