package pep

import (
	"sort"
	"strconv"
	"strings"
)

// scalarKey marks a term as a leaf scalar rather than a point pair.
const scalarKey = -1

// term is a key of an Expression decomposition: either a leaf scalar
// identifier (j == scalarKey) or an ordered pair of leaf point identifiers
// standing for their inner product.
type term struct {
	i, j int
}

func addTerm(dec map[term]float64, t term, w float64) {
	if v := dec[t] + w; v != 0 {
		dec[t] = v
	} else {
		delete(dec, t)
	}
}

// Expression represents an abstract scalar. A leaf Expression is an
// independent unknown with a problem-unique identifier; any other Expression
// is an affine combination of leaf scalars and inner products of leaf Points.
//
// Expressions are immutable values. The zero value is the constant zero.
type Expression struct {
	leaf  bool
	id    int
	dec   map[term]float64
	konst float64
}

// Const returns the constant Expression c.
func Const(c float64) Expression {
	return Expression{konst: c}
}

func newLeafExpression(a *allocator) Expression {
	return Expression{leaf: true, id: a.nextScalar()}
}

// ID returns the leaf identifier of e. The second return is false when e is a
// combination, which carries no identifier of its own.
func (e Expression) ID() (int, bool) {
	return e.id, e.leaf
}

// Constant returns the constant part of e.
func (e Expression) Constant() float64 {
	return e.konst
}

// Decomposition returns a copy of e's decomposition over scalar-leaf and
// point-pair keys (the constant part excluded). A leaf decomposes as itself
// with coefficient one.
func (e Expression) Decomposition() map[term]float64 {
	out := make(map[term]float64, len(e.dec)+1)
	if e.leaf {
		out[term{e.id, scalarKey}] = 1
		return out
	}
	for t, c := range e.dec {
		out[t] = c
	}
	return out
}

func (e Expression) terms(visit func(t term, coeff float64)) {
	if e.leaf {
		visit(term{e.id, scalarKey}, 1)
		return
	}
	for t, c := range e.dec {
		visit(t, c)
	}
}

func combineExpressions(a Expression, ca float64, b Expression, cb float64) Expression {
	dec := make(map[term]float64)
	a.terms(func(t term, c float64) { addTerm(dec, t, ca*c) })
	b.terms(func(t term, c float64) { addTerm(dec, t, cb*c) })
	return Expression{dec: dec, konst: ca*a.konst + cb*b.konst}
}

// Add returns e + f.
func (e Expression) Add(f Expression) Expression {
	return combineExpressions(e, 1, f, 1)
}

// Sub returns e - f.
func (e Expression) Sub(f Expression) Expression {
	return combineExpressions(e, 1, f, -1)
}

// Neg returns -e.
func (e Expression) Neg() Expression {
	return e.Scale(-1)
}

// Scale returns a*e.
func (e Expression) Scale(a float64) Expression {
	return combineExpressions(e, a, Expression{}, 0)
}

// AddConst returns e + c.
func (e Expression) AddConst(c float64) Expression {
	return combineExpressions(e, 1, Const(c), 1)
}

// IsConstant reports whether e has an empty decomposition.
func (e Expression) IsConstant() bool {
	return !e.leaf && len(e.dec) == 0
}

// Equal reports structural equality of decompositions and constants.
func (e Expression) Equal(f Expression) bool {
	return e.konst == f.konst && e.key() == f.key()
}

func (e Expression) key() string {
	dec := e.Decomposition()
	keys := make([]term, 0, len(dec))
	for t := range dec {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].i != keys[b].i {
			return keys[a].i < keys[b].i
		}
		return keys[a].j < keys[b].j
	})
	var sb strings.Builder
	for _, t := range keys {
		sb.WriteString(strconv.Itoa(t.i))
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(t.j))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatFloat(dec[t], 'g', -1, 64))
		sb.WriteByte(';')
	}
	return sb.String()
}

// LE returns the constraint e <= f, normalized as e - f <= 0.
func (e Expression) LE(f Expression) Constraint {
	return Constraint{expr: e.Sub(f), rel: Inequality}
}

// GE returns the constraint e >= f, normalized as f - e <= 0.
func (e Expression) GE(f Expression) Constraint {
	return Constraint{expr: f.Sub(e), rel: Inequality}
}

// EQ returns the constraint e == f, normalized as e - f == 0.
func (e Expression) EQ(f Expression) Constraint {
	return Constraint{expr: e.Sub(f), rel: Equality}
}

// LEConst returns the constraint e <= c.
func (e Expression) LEConst(c float64) Constraint {
	return e.LE(Const(c))
}

// GEConst returns the constraint e >= c.
func (e Expression) GEConst(c float64) Constraint {
	return e.GE(Const(c))
}

// EQConst returns the constraint e == c.
func (e Expression) EQConst(c float64) Constraint {
	return e.EQ(Const(c))
}
