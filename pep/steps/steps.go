// Package steps provides the primitive-step helpers: each encodes one
// optimization move as an implicit first-order optimality relation over
// fresh symbols, never as a closed-form solution.
package steps

import "github.com/perfest/gopep/pep"

// ProximalStep performs y = prox_{gamma*f}(x). The optimality condition
// x - y = gamma*g_y is encoded structurally: a fresh subgradient g_y and
// value f_y are synthesized, y is defined as x - gamma*g_y, and the triple
// (y, g_y, f_y) is recorded on f. It returns the step output, the
// subgradient of f at the output, and the function value there.
func ProximalStep(x pep.Point, f *pep.Function, gamma float64) (pep.Point, pep.Point, pep.Expression) {
	gy := f.NewPoint()
	fy := f.NewScalar()
	y := x.Sub(gy.Scale(gamma))
	f.AddTriple(pep.Triple{X: y, G: gy, F: fy})
	return y, gy, fy
}

// ProjectionStep projects x onto the domain of the indicator function ind;
// it is a proximal step with unit step size. It returns the projection and
// the normal-cone direction at it.
func ProjectionStep(x pep.Point, ind *pep.Function) (pep.Point, pep.Point) {
	y, gy, _ := ProximalStep(x, ind, 1)
	return y, gy
}

// BregmanProximalStep performs the Bregman proximal step
//
//	x_+ = argmin_u  gamma*f(u) + D_h(u, x),
//
// where h is the mirror map and sx0 its gradient at the current point. The
// optimality condition grad h(x_+) = sx0 - gamma*grad f(x_+) is encoded by
// defining the fresh mirror gradient sx as that combination. It returns the
// new point, the mirror-map gradient and value at it, and the gradient and
// value of f at it.
func BregmanProximalStep(sx0 pep.Point, mirror, f *pep.Function, gamma float64) (pep.Point, pep.Point, pep.Expression, pep.Point, pep.Expression) {
	x := f.NewPoint()
	gx := f.NewPoint()
	fx := f.NewScalar()
	hx := mirror.NewScalar()
	sx := sx0.Sub(gx.Scale(gamma))
	f.AddTriple(pep.Triple{X: x, G: gx, F: fx})
	mirror.AddTriple(pep.Triple{X: x, G: sx, F: hx})
	return x, sx, hx, gx, fx
}

// ExactLinesearchStep performs an exact minimization of f over x0 plus the
// span of the given directions, in the standard relaxed form: the output's
// gradient is orthogonal to every direction and to the displacement from
// x0. It returns the new point and its oracle pair.
func ExactLinesearchStep(x0 pep.Point, f *pep.Function, directions []pep.Point) (pep.Point, pep.Point, pep.Expression) {
	x := f.NewPoint()
	gx, fx := f.Oracle(x)
	f.AddConstraint(gx.Dot(x.Sub(x0)).EQConst(0))
	for _, d := range directions {
		f.AddConstraint(gx.Dot(d).EQConst(0))
	}
	return x, gx, fx
}
