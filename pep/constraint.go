package pep

// Relation is the kind of a Constraint.
type Relation int

const (
	// Inequality means expr <= 0.
	Inequality Relation = iota
	// Equality means expr == 0.
	Equality
)

func (r Relation) String() string {
	if r == Equality {
		return "=="
	}
	return "<="
}

// Constraint is a normalized relation "expr <= 0" or "expr == 0" produced by
// comparing two Expressions. Comparisons never yield booleans; feasibility is
// only decided by the solver.
type Constraint struct {
	expr Expression
	rel  Relation
}

// Expr returns the left-hand Expression of the normalized relation.
func (c Constraint) Expr() Expression {
	return c.expr
}

// Rel returns the relation kind.
func (c Constraint) Rel() Relation {
	return c.rel
}
