package pep

import (
	"testing"
)

func TestLeafExpressionIdentifiers(t *testing.T) {
	a := &allocator{}

	e := newLeafExpression(a)
	f := newLeafExpression(a)

	eid, ok := e.ID()
	if !ok || eid != 0 {
		t.Errorf("first leaf: ID() = (%d, %v), want (0, true)", eid, ok)
	}
	if fid, _ := f.ID(); fid != 1 {
		t.Errorf("second leaf: ID() = %d, want 1", fid)
	}

	// Scalars and points draw from independent counters.
	x := newLeafPoint(a)
	if xid, _ := x.ID(); xid != 0 {
		t.Errorf("point after two scalars: ID() = %d, want 0", xid)
	}
}

func TestConstExpression(t *testing.T) {
	c := Const(2.5)
	if !c.IsConstant() {
		t.Error("Const is not IsConstant")
	}
	if c.Constant() != 2.5 {
		t.Errorf("Constant() = %v, want 2.5", c.Constant())
	}

	var zero Expression
	if !zero.IsConstant() || zero.Constant() != 0 {
		t.Error("zero value is not the constant zero")
	}
}

func TestExpressionAffineCombination(t *testing.T) {
	a := &allocator{}
	e := newLeafExpression(a)
	f := newLeafExpression(a)

	g := e.Scale(2).Sub(f).AddConst(3)
	dec := g.Decomposition()
	if dec[term{0, scalarKey}] != 2 || dec[term{1, scalarKey}] != -1 {
		t.Errorf("decomposition = %v, want {0:2, 1:-1}", dec)
	}
	if g.Constant() != 3 {
		t.Errorf("Constant() = %v, want 3", g.Constant())
	}
}

func TestExpressionCancellation(t *testing.T) {
	a := &allocator{}
	e := newLeafExpression(a)

	z := e.Add(e.Neg())
	if !z.IsConstant() {
		t.Errorf("e - e left terms behind: %v", z.Decomposition())
	}
	if !z.Equal(Const(0)) {
		t.Error("e - e does not equal the constant zero")
	}
}

func TestExpressionMixedTerms(t *testing.T) {
	a := &allocator{}
	x := newLeafPoint(a)
	y := newLeafPoint(a)
	v := newLeafExpression(a)

	// g . (x - y) + v, the shape of an interpolation condition.
	e := x.Dot(x.Sub(y)).Add(v)
	dec := e.Decomposition()
	if dec[term{0, 0}] != 1 {
		t.Errorf("coefficient of (0,0) = %v, want 1", dec[term{0, 0}])
	}
	if dec[term{0, 1}] != -0.5 || dec[term{1, 0}] != -0.5 {
		t.Errorf("cross terms = %v, %v, want -0.5 each", dec[term{0, 1}], dec[term{1, 0}])
	}
	if dec[term{0, scalarKey}] != 1 {
		t.Errorf("scalar term = %v, want 1", dec[term{0, scalarKey}])
	}
}

func TestExpressionEqualIsStructural(t *testing.T) {
	a := &allocator{}
	x := newLeafPoint(a)
	y := newLeafPoint(a)

	if !x.Dot(y).Equal(y.Dot(x)) {
		t.Error("x.y and y.x are not Equal")
	}
	if x.Dot(y).Equal(x.Dot(y).AddConst(1)) {
		t.Error("expressions with different constants compare Equal")
	}
}

func TestComparisonsNormalize(t *testing.T) {
	a := &allocator{}
	e := newLeafExpression(a)
	f := newLeafExpression(a)

	le := e.LE(f)
	if le.Rel() != Inequality {
		t.Errorf("LE relation = %v, want Inequality", le.Rel())
	}
	if !le.Expr().Equal(e.Sub(f)) {
		t.Error("LE did not normalize to e - f")
	}

	ge := e.GE(f)
	if !ge.Expr().Equal(f.Sub(e)) {
		t.Error("GE did not normalize to f - e")
	}

	eq := e.EQConst(2)
	if eq.Rel() != Equality {
		t.Errorf("EQConst relation = %v, want Equality", eq.Rel())
	}
	if eq.Expr().Constant() != -2 {
		t.Errorf("EQConst constant = %v, want -2", eq.Expr().Constant())
	}

	lec := e.LEConst(1)
	if lec.Rel() != Inequality || lec.Expr().Constant() != -1 {
		t.Errorf("LEConst normalized badly: rel=%v const=%v", lec.Rel(), lec.Expr().Constant())
	}
}

func TestRelationString(t *testing.T) {
	if Inequality.String() != "<=" {
		t.Errorf("Inequality.String() = %q", Inequality.String())
	}
	if Equality.String() != "==" {
		t.Errorf("Equality.String() = %q", Equality.String())
	}
}
