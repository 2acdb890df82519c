package pep

import (
	"sort"
	"strconv"
	"strings"
)

// Point represents an element of an abstract real inner-product space of
// unspecified dimension. A leaf Point is an independent unknown vector with a
// problem-unique identifier; any other Point is a finite linear combination
// of leaves, stored as a map from leaf identifiers to coefficients.
//
// Points are immutable values: every operation returns a new Point and never
// mutates its operands. The zero value is the symbolic zero vector.
type Point struct {
	leaf bool
	id   int
	dec  map[int]float64
}

// ZeroPoint returns the symbolic zero vector (the empty linear combination).
func ZeroPoint() Point {
	return Point{}
}

func newLeafPoint(a *allocator) Point {
	return Point{leaf: true, id: a.nextPoint()}
}

// ID returns the leaf identifier of p. The second return is false when p is a
// linear combination, which carries no identifier of its own.
func (p Point) ID() (int, bool) {
	return p.id, p.leaf
}

// IsZero reports whether p is structurally the zero vector.
func (p Point) IsZero() bool {
	return !p.leaf && len(p.dec) == 0
}

// Decomposition returns a copy of p written as a map from leaf identifiers to
// coefficients. A leaf decomposes as itself with coefficient one.
func (p Point) Decomposition() map[int]float64 {
	out := make(map[int]float64, len(p.dec)+1)
	if p.leaf {
		out[p.id] = 1
		return out
	}
	for id, c := range p.dec {
		out[id] = c
	}
	return out
}

// terms iterates p's canonical decomposition without copying when possible.
func (p Point) terms(visit func(id int, coeff float64)) {
	if p.leaf {
		visit(p.id, 1)
		return
	}
	for id, c := range p.dec {
		visit(id, c)
	}
}

func combinePoints(a Point, ca float64, b Point, cb float64) Point {
	dec := make(map[int]float64)
	a.terms(func(id int, c float64) {
		if v := dec[id] + ca*c; v != 0 {
			dec[id] = v
		} else {
			delete(dec, id)
		}
	})
	b.terms(func(id int, c float64) {
		if v := dec[id] + cb*c; v != 0 {
			dec[id] = v
		} else {
			delete(dec, id)
		}
	})
	return Point{dec: dec}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return combinePoints(p, 1, q, 1)
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return combinePoints(p, 1, q, -1)
}

// Neg returns -p.
func (p Point) Neg() Point {
	return p.Scale(-1)
}

// Scale returns a*p.
func (p Point) Scale(a float64) Point {
	return combinePoints(p, a, Point{}, 0)
}

// Dot returns the inner product of p and q as a symbolic Expression over
// ordered point-pair keys. The coefficient of every cross product is split
// evenly over the (i,j) and (j,i) keys, so that p.Dot(q) and q.Dot(p) are
// structurally identical.
func (p Point) Dot(q Point) Expression {
	dec := make(map[term]float64)
	p.terms(func(i int, ci float64) {
		q.terms(func(j int, cj float64) {
			w := ci * cj
			if w == 0 {
				return
			}
			addTerm(dec, term{i, j}, w/2)
			addTerm(dec, term{j, i}, w/2)
		})
	})
	return Expression{dec: dec}
}

// SquaredNorm returns the squared norm of p, i.e. p.Dot(p).
func (p Point) SquaredNorm() Expression {
	return p.Dot(p)
}

// Equal reports structural equality: same leaf, or identical canonical
// decompositions. It is not a numerical comparison.
func (p Point) Equal(q Point) bool {
	return p.key() == q.key()
}

// key is the canonical serialized decomposition, used for structural equality
// and for oracle-cache lookup.
func (p Point) key() string {
	dec := p.Decomposition()
	ids := make([]int, 0, len(dec))
	for id := range dec {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(strconv.Itoa(id))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatFloat(dec[id], 'g', -1, 64))
		sb.WriteByte(';')
	}
	return sb.String()
}
