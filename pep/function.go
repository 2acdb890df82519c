package pep

import "fmt"

// Triple is one oracle record of a Function: a point, the subgradient or
// operator value returned there, and the function value.
type Triple struct {
	X Point
	G Point
	F Expression
}

// Pairing is the iteration policy a class rule uses when emitting its
// interpolation constraints over the recorded triples.
type Pairing int

const (
	// OrderedPairs emits the formula for every ordered pair (i, j), i != j.
	// This is the default: most interpolation inequalities are not symmetric
	// in their arguments.
	OrderedPairs Pairing = iota
	// UnorderedPairs emits the formula once per unordered pair {i, j}. Only
	// classes whose formula is symmetric in (i, j) may use it.
	UnorderedPairs
)

// Rule is a closed description of one function or operator class: its
// parameters, its gradient-reuse behavior, its pairing policy, and the pure
// pairwise formula characterizing interpolation by the class.
type Rule interface {
	// Name is a short class tag used in logs.
	Name() string
	// Validate checks the class parameters. It is called at declaration
	// time; a Rule with missing or out-of-range parameters never becomes a
	// Function.
	Validate() error
	// ReuseGradient reports whether repeated oracle calls at a structurally
	// identical point return the previously recorded gradient (true for
	// differentiable and single-valued classes).
	ReuseGradient() bool
	// Pairing is the constraint-emission policy for this class.
	Pairing() Pairing
	// PairConstraints is the interpolation formula for one pair of recorded
	// triples. It must be pure: no state, no symbol creation.
	PairConstraints(ti, tj Triple) []Constraint
}

type component struct {
	fn    *Function
	coeff float64
}

// Function is a named mathematical object: either a leaf (basis) function or
// operator belonging to the class described by its Rule, or a linear
// combination of leaves. It records every oracle call made on it and the
// extra constraints attached by primitive steps.
type Function struct {
	leaf  bool
	id    int
	rule  Rule
	comps []component // leaf components, ordered by id; combinations only

	triples []Triple
	cons    []Constraint

	alloc *allocator
	owner *PEP
}

func newLeafFunction(p *PEP, rule Rule) *Function {
	return &Function{
		leaf:  true,
		id:    p.alloc.nextFunc(),
		rule:  rule,
		alloc: p.alloc,
		owner: p,
	}
}

// ID returns the leaf identifier of f. The second return is false for
// combinations, which carry no identifier.
func (f *Function) ID() (int, bool) {
	return f.id, f.leaf
}

// Rule returns the class rule of a leaf Function, or nil for a combination.
func (f *Function) Rule() Rule {
	return f.rule
}

// NumTriples returns the number of oracle records on f.
func (f *Function) NumTriples() int {
	return len(f.triples)
}

// Triples returns a copy of f's oracle history in recording order.
func (f *Function) Triples() []Triple {
	out := make([]Triple, len(f.triples))
	copy(out, f.triples)
	return out
}

// NewPoint synthesizes a fresh leaf Point in f's problem. It is meant for
// primitive-step helpers that introduce implicitly defined points.
func (f *Function) NewPoint() Point {
	return newLeafPoint(f.alloc)
}

// NewScalar synthesizes a fresh leaf Expression in f's problem.
func (f *Function) NewScalar() Expression {
	return newLeafExpression(f.alloc)
}

func (f *Function) reuseGradient() bool {
	if f.leaf {
		return f.rule.ReuseGradient()
	}
	for _, c := range f.comps {
		if !c.fn.reuseGradient() {
			return false
		}
	}
	return true
}

// find returns the first recorded triple at a structurally equal point.
func (f *Function) find(x Point) (Triple, bool) {
	k := x.key()
	for _, t := range f.triples {
		if t.X.key() == k {
			return t, true
		}
	}
	return Triple{}, false
}

// Oracle queries f at x and returns the (sub)gradient or operator value and
// the function value there. If x was queried before, the function value is
// reused; the gradient is reused as well when the class is single-valued,
// and a fresh subgradient leaf is synthesized otherwise. For a combination,
// the oracle is the coefficient-weighted combination of the components'
// oracles, and the combined triple is recorded on the combination itself.
func (f *Function) Oracle(x Point) (Point, Expression) {
	if t, ok := f.find(x); ok {
		if f.reuseGradient() {
			return t.G, t.F
		}
		if f.leaf {
			g := newLeafPoint(f.alloc)
			f.triples = append(f.triples, Triple{X: x, G: g, F: t.F})
			return g, t.F
		}
	}

	if f.leaf {
		g := newLeafPoint(f.alloc)
		v := newLeafExpression(f.alloc)
		f.triples = append(f.triples, Triple{X: x, G: g, F: v})
		return g, v
	}

	g := ZeroPoint()
	v := Expression{}
	for _, c := range f.comps {
		gc, vc := c.fn.Oracle(x)
		g = g.Add(gc.Scale(c.coeff))
		v = v.Add(vc.Scale(c.coeff))
	}
	f.triples = append(f.triples, Triple{X: x, G: g, F: v})
	return g, v
}

// Gradient returns only the gradient or operator-value part of an oracle
// call at x.
func (f *Function) Gradient(x Point) Point {
	g, _ := f.Oracle(x)
	return g
}

// Value returns the function value at x. Values are single-valued even for
// nonsmooth classes, so a previously recorded value is returned without
// synthesizing a fresh subgradient.
func (f *Function) Value(x Point) Expression {
	if t, ok := f.find(x); ok {
		return t.F
	}
	_, v := f.Oracle(x)
	return v
}

// AddTriple records an externally constructed oracle triple on f. For a
// combination, the triple is distributed over the components: all but the
// last component receive a regular oracle call at t.X and the last absorbs
// the residual, so that the weighted component triples always recombine to t.
func (f *Function) AddTriple(t Triple) {
	f.triples = append(f.triples, t)
	if f.leaf || len(f.comps) == 0 {
		return
	}

	g, v := t.G, t.F
	last := len(f.comps) - 1
	for _, c := range f.comps[:last] {
		gc, vc := c.fn.Oracle(t.X)
		g = g.Sub(gc.Scale(c.coeff))
		v = v.Sub(vc.Scale(c.coeff))
	}
	cl := f.comps[last]
	cl.fn.AddTriple(Triple{
		X: t.X,
		G: g.Scale(1 / cl.coeff),
		F: v.Scale(1 / cl.coeff),
	})
}

// AddConstraint attaches a constraint to f, to be collected at compilation.
// Primitive steps use this for the implicit relations defining a step.
func (f *Function) AddConstraint(c Constraint) {
	f.cons = append(f.cons, c)
}

// Constraints returns a copy of the constraints attached to f by steps.
func (f *Function) Constraints() []Constraint {
	out := make([]Constraint, len(f.cons))
	copy(out, f.cons)
	return out
}

// StationaryPoint synthesizes a point at which f's gradient or operator
// value is the symbolic zero, records the corresponding triple, and returns
// the point: "some minimizer exists, fix one by symbol".
func (f *Function) StationaryPoint() Point {
	x := newLeafPoint(f.alloc)
	v := newLeafExpression(f.alloc)
	f.AddTriple(Triple{X: x, G: ZeroPoint(), F: v})
	return x
}

// FixedPoint synthesizes a point x with f(x) = x, records the triple, and
// returns the point together with its operator value and function value. It
// is meant for operator classes, where the oracle value is the operator
// applied to the point.
func (f *Function) FixedPoint() (Point, Point, Expression) {
	x := newLeafPoint(f.alloc)
	v := newLeafExpression(f.alloc)
	f.AddTriple(Triple{X: x, G: x, F: v})
	return x, x, v
}

// ClassConstraints emits the interpolation constraints characterizing
// membership of f in its class, given the recorded triples. A leaf applies
// its Rule's pairwise formula under the Rule's pairing policy; a combination
// delegates to its components, preserving additivity of interpolation
// conditions under linear combination. Pairs whose points and gradients are
// both structurally equal are skipped.
func (f *Function) ClassConstraints() []Constraint {
	if !f.leaf {
		var out []Constraint
		for _, c := range f.comps {
			out = append(out, c.fn.ClassConstraints()...)
		}
		return out
	}

	var out []Constraint
	for i, ti := range f.triples {
		for j, tj := range f.triples {
			if j <= i && f.rule.Pairing() == UnorderedPairs {
				continue
			}
			if i == j {
				continue
			}
			if ti.X.Equal(tj.X) && ti.G.Equal(tj.G) {
				continue
			}
			out = append(out, f.rule.PairConstraints(ti, tj)...)
		}
	}
	return out
}

// Add returns the Function f + g as a linear combination. Both operands must
// belong to the same problem.
func (f *Function) Add(g *Function) *Function {
	return combineFunctions(f, 1, g, 1)
}

// Sub returns the Function f - g.
func (f *Function) Sub(g *Function) *Function {
	return combineFunctions(f, 1, g, -1)
}

// Scale returns the Function a*f.
func (f *Function) Scale(a float64) *Function {
	return combineFunctions(f, a, nil, 0)
}

func combineFunctions(f *Function, cf float64, g *Function, cg float64) *Function {
	if g != nil && f.owner != g.owner {
		panic(fmt.Sprintf("pep: combining functions from different problems (%q, %q)",
			f.name(), g.name()))
	}

	weights := make(map[*Function]float64)
	var order []*Function
	accumulate := func(fn *Function, w float64) {
		if _, seen := weights[fn]; !seen {
			order = append(order, fn)
		}
		weights[fn] += w
	}
	flatten := func(fn *Function, w float64) {
		if fn == nil || w == 0 {
			return
		}
		if fn.leaf {
			accumulate(fn, w)
			return
		}
		for _, c := range fn.comps {
			accumulate(c.fn, w*c.coeff)
		}
	}
	flatten(f, cf)
	flatten(g, cg)

	comps := make([]component, 0, len(order))
	for _, fn := range order {
		if w := weights[fn]; w != 0 {
			comps = append(comps, component{fn: fn, coeff: w})
		}
	}

	out := &Function{comps: comps, alloc: f.alloc, owner: f.owner}
	f.owner.register(out)
	return out
}

func (f *Function) name() string {
	if f.leaf {
		return fmt.Sprintf("%s#%d", f.rule.Name(), f.id)
	}
	return "combination"
}
