package pep

// allocator hands out process-unique identifiers for the leaf symbols of one
// problem instance. Each PEP owns its own allocator, so two independently
// constructed problems never collide on identifiers even when built
// concurrently in the same process.
type allocator struct {
	points  int
	scalars int
	funcs   int
}

func (a *allocator) nextPoint() int {
	id := a.points
	a.points++
	return id
}

func (a *allocator) nextScalar() int {
	id := a.scalars
	a.scalars++
	return id
}

func (a *allocator) nextFunc() int {
	id := a.funcs
	a.funcs++
	return id
}
