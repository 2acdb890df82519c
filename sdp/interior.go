package sdp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// InteriorPoint is the built-in dense solver backend: an infeasible-start
// primal-dual path-following method using the HKM search direction with a
// Mehrotra predictor-corrector step. Inequality constraints are folded into
// the PSD block as extra diagonal slack entries; free scalar variables are
// carried exactly through a bordered Schur-complement system.
//
// It is intended for the small dense problems performance-estimation
// compilation produces (matrix sides and constraint counts in the low
// hundreds). It is not a general sparse SDP code.
type InteriorPoint struct{}

// NewInteriorPoint returns the built-in backend.
func NewInteriorPoint() *InteriorPoint {
	return &InteriorPoint{}
}

// stdForm is the problem rewritten as
//
//	min C•X + cu·u   s.t.  A_k•X + b_k·u = r_k,  X ⪰ 0,  u free,
//
// where X is the original PSD block padded with one diagonal slack entry per
// inequality constraint.
type stdForm struct {
	n, m, nu int
	dim      int // original PSD block side
	c        *mat.SymDense
	cu       []float64
	a        []*mat.SymDense
	b        [][]float64
	r        []float64
	flip     bool // objective was negated (maximization)
}

func toStdForm(p *Problem) (*stdForm, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(p.Constraints) == 0 {
		return nil, errors.New("sdp: problem has no constraints")
	}

	slacks := 0
	for _, c := range p.Constraints {
		if c.Kind == LessEq {
			slacks++
		}
	}

	n := p.Dim + slacks
	m := len(p.Constraints)
	f := &stdForm{
		n: n, m: m, nu: p.NumScalars, dim: p.Dim,
		c:    mat.NewSymDense(n, nil),
		cu:   make([]float64, p.NumScalars),
		a:    make([]*mat.SymDense, m),
		b:    make([][]float64, m),
		r:    make([]float64, m),
		flip: p.Maximize,
	}

	sign := 1.0
	if p.Maximize {
		sign = -1
	}
	embed := func(dst *mat.SymDense, src *mat.SymDense, scale float64) {
		if src == nil {
			return
		}
		for i := 0; i < p.Dim; i++ {
			for j := i; j < p.Dim; j++ {
				dst.SetSym(i, j, scale*src.At(i, j))
			}
		}
	}

	embed(f.c, p.Objective.Gram, sign)
	for i, v := range p.Objective.Scalars {
		f.cu[i] = sign * v
	}

	slack := p.Dim
	for k, con := range p.Constraints {
		ak := mat.NewSymDense(n, nil)
		embed(ak, con.Gram, 1)
		if con.Kind == LessEq {
			ak.SetSym(slack, slack, 1)
			slack++
		}
		bk := make([]float64, p.NumScalars)
		copy(bk, con.Scalars)
		f.a[k] = ak
		f.b[k] = bk
		f.r[k] = -con.Offset
	}
	return f, nil
}

// Solve implements Solver.
func (ip *InteriorPoint) Solve(p *Problem, o Options) (*Solution, error) {
	f, err := toStdForm(p)
	if err != nil {
		return nil, err
	}

	st := newIPMState(f)
	tol := o.tolerance()
	log := o.logger()

	var status Status
	iter := 0
	for ; iter < o.maxIterations(); iter++ {
		st.computeResiduals()

		if o.Verbose {
			log.Debug("interior-point iteration",
				"iter", iter, "mu", st.mu, "gap", st.gap,
				"primal_res", st.rpNorm, "dual_res", st.rdNorm)
		}

		if st.converged(tol) {
			status = StatusOptimal
			break
		}
		if st.mu < 1e-14 {
			// Complementarity exhausted without feasibility.
			break
		}

		if err := st.step(); err != nil {
			return &Solution{Status: StatusFailed, Iterations: iter, Gap: st.gap},
				fmt.Errorf("sdp: interior-point breakdown at iteration %d: %w", iter, err)
		}
	}

	st.computeResiduals()
	if status != StatusOptimal {
		status = st.classify(tol)
	}

	sol := &Solution{
		Status:     status,
		Iterations: iter,
		Gap:        st.gap,
	}
	if status.Usable() {
		gram := mat.NewSymDense(f.dim, nil)
		for i := 0; i < f.dim; i++ {
			for j := i; j < f.dim; j++ {
				gram.SetSym(i, j, st.x.At(i, j))
			}
		}
		scalars := make([]float64, f.nu)
		copy(scalars, st.u)
		sol.Gram = gram
		sol.Scalars = scalars
		sol.Value = p.Objective.Eval(gram, scalars)
	}
	return sol, nil
}

type ipmState struct {
	f *stdForm

	x, s *mat.SymDense // primal PSD block and dual slack matrix
	y    []float64     // constraint multipliers
	u    []float64     // free scalars

	// residuals, refreshed by computeResiduals
	rp     []float64
	rf     []float64
	rd     *mat.SymDense
	mu     float64
	gap    float64
	rpNorm float64
	rdNorm float64
	rfNorm float64
	pobj   float64
	dobj   float64
}

func newIPMState(f *stdForm) *ipmState {
	maxR := 1.0
	for _, r := range f.r {
		maxR = math.Max(maxR, math.Abs(r))
	}
	maxA := frobNorm(f.c)
	for _, a := range f.a {
		maxA = math.Max(maxA, frobNorm(a))
	}
	etaP := math.Max(10, math.Max(math.Sqrt(float64(f.n)), maxR))
	etaD := math.Max(10, math.Max(math.Sqrt(float64(f.n)), maxA))

	st := &ipmState{
		f:  f,
		x:  scaledIdentity(f.n, etaP),
		s:  scaledIdentity(f.n, etaD),
		y:  make([]float64, f.m),
		u:  make([]float64, f.nu),
		rp: make([]float64, f.m),
		rf: make([]float64, f.nu),
		rd: mat.NewSymDense(f.n, nil),
	}
	return st
}

func (st *ipmState) computeResiduals() {
	f := st.f

	for k := 0; k < f.m; k++ {
		st.rp[k] = f.r[k] - symInner(f.a[k], st.x) - dot(f.b[k], st.u)
	}
	for j := 0; j < f.nu; j++ {
		v := f.cu[j]
		for k := 0; k < f.m; k++ {
			v -= st.y[k] * f.b[k][j]
		}
		st.rf[j] = v
	}
	for i := 0; i < f.n; i++ {
		for j := i; j < f.n; j++ {
			v := f.c.At(i, j) - st.s.At(i, j)
			for k := 0; k < f.m; k++ {
				v -= st.y[k] * f.a[k].At(i, j)
			}
			st.rd.SetSym(i, j, v)
		}
	}

	st.mu = symInner(st.x, st.s) / float64(f.n)
	st.pobj = symInner(f.c, st.x) + dot(f.cu, st.u)
	st.dobj = dot(f.r, st.y)
	st.gap = math.Abs(st.pobj-st.dobj) / (1 + math.Abs(st.pobj) + math.Abs(st.dobj))
	st.rpNorm = norm2(st.rp) / (1 + norm2(f.r))
	st.rdNorm = frobNorm(st.rd) / (1 + frobNorm(f.c))
	st.rfNorm = norm2(st.rf) / (1 + norm2(f.cu))
}

func (st *ipmState) converged(tol float64) bool {
	return st.gap <= tol && st.rpNorm <= tol && st.rdNorm <= tol && st.rfNorm <= tol
}

func (st *ipmState) classify(tol float64) Status {
	loose := math.Sqrt(tol)
	switch {
	case st.converged(loose):
		return StatusInaccurate
	case st.mu < 1e-9 && st.rpNorm > loose && st.rdNorm <= loose:
		return StatusInfeasible
	case st.pobj < -1e10 && st.rdNorm > loose:
		return StatusUnbounded
	case st.rpNorm > loose && st.rdNorm <= loose:
		return StatusInfeasible
	default:
		return StatusFailed
	}
}

// step performs one predictor-corrector iteration.
func (st *ipmState) step() error {
	f := st.f
	n := f.n

	var cholS mat.Cholesky
	if !cholS.Factorize(st.s) {
		return errors.New("dual matrix lost positive definiteness")
	}
	var sinv mat.SymDense
	if err := okIfIllConditioned(cholS.InverseTo(&sinv)); err != nil {
		return fmt.Errorf("inverting dual matrix: %w", err)
	}

	// Schur complement M[k][l] = tr(A_k X A_l S⁻¹), built a column at a time.
	M := mat.NewDense(f.m, f.m, nil)
	var t1, vl mat.Dense
	for l := 0; l < f.m; l++ {
		t1.Mul(st.x, f.a[l])
		vl.Mul(&t1, &sinv)
		for k := 0; k < f.m; k++ {
			M.Set(k, l, traceProd(f.a[k], &vl))
		}
	}
	schur := symmetrize(M)
	cholM, err := factorizeWithRidge(schur)
	if err != nil {
		return fmt.Errorf("factorizing Schur complement: %w", err)
	}

	// X·Rd·S⁻¹ appears in every right-hand side this iteration.
	var xrs mat.Dense
	t1.Mul(st.x, st.rd)
	xrs.Mul(&t1, &sinv)

	solve := func(sigmaMu float64, corr *mat.Dense) (dx, ds *mat.SymDense, dy, du []float64, err error) {
		// Target T = σμS⁻¹ − X − corr; h_k = Rp_k − tr(A_k (T − X·Rd·S⁻¹)).
		e := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := sigmaMu*sinv.At(i, j) - st.x.At(i, j) - xrs.At(i, j)
				if corr != nil {
					v -= corr.At(i, j)
				}
				e.Set(i, j, v)
			}
		}
		h := make([]float64, f.m)
		for k := 0; k < f.m; k++ {
			h[k] = st.rp[k] - traceProd(f.a[k], e)
		}

		dy, du, err = st.solveBordered(cholM, h)
		if err != nil {
			return nil, nil, nil, nil, err
		}

		ds = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := st.rd.At(i, j)
				for k := 0; k < f.m; k++ {
					v -= dy[k] * f.a[k].At(i, j)
				}
				ds.SetSym(i, j, v)
			}
		}

		// ΔX = σμS⁻¹ − X − corr − X·ΔS·S⁻¹, then symmetrized.
		var xds mat.Dense
		t1.Mul(st.x, ds)
		xds.Mul(&t1, &sinv)
		raw := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := sigmaMu*sinv.At(i, j) - st.x.At(i, j) - xds.At(i, j)
				if corr != nil {
					v -= corr.At(i, j)
				}
				raw.Set(i, j, v)
			}
		}
		dx = symmetrize(raw)
		return dx, ds, dy, du, nil
	}

	// Predictor: pure Newton step toward complementarity zero.
	dxA, dsA, _, _, err := solve(0, nil)
	if err != nil {
		return err
	}
	alphaP := maxPSDStep(st.x, dxA)
	alphaD := maxPSDStep(st.s, dsA)

	// Centering parameter from the affine trial point.
	muAff := trialMu(st.x, dxA, alphaP, st.s, dsA, alphaD)
	sigma := math.Pow(muAff/st.mu, 3)
	sigma = math.Min(1, math.Max(sigma, 1e-8))

	// Corrector, reusing the factorizations: second-order term ΔX·ΔS·S⁻¹.
	var corr mat.Dense
	t1.Mul(dxA, dsA)
	corr.Mul(&t1, &sinv)
	dx, ds, dy, du, err := solve(sigma*st.mu, &corr)
	if err != nil {
		return err
	}

	alphaP = 0.98 * maxPSDStep(st.x, dx)
	alphaD = 0.98 * maxPSDStep(st.s, ds)

	// The clip is strict in exact arithmetic, but near convergence the blocks
	// are close to singular and rounding can defeat it. Verify before
	// committing and halve the whole step until both blocks factorize.
	alphaP, alphaD, err = shrinkToCone(st.x, dx, st.s, ds, alphaP, alphaD)
	if err != nil {
		return err
	}

	applyStep(st.x, dx, alphaP)
	applyStep(st.s, ds, alphaD)
	for k := range st.y {
		st.y[k] += alphaD * dy[k]
	}
	for j := range st.u {
		st.u[j] += alphaP * du[j]
	}
	return nil
}

// solveBordered solves [M B; Bᵀ 0][Δy; Δu] = [h; rf] by block elimination.
func (st *ipmState) solveBordered(cholM *mat.Cholesky, h []float64) ([]float64, []float64, error) {
	f := st.f
	hv := mat.NewVecDense(f.m, h)

	if f.nu == 0 {
		var dy mat.VecDense
		if err := okIfIllConditioned(cholM.SolveVecTo(&dy, hv)); err != nil {
			return nil, nil, fmt.Errorf("solving for multipliers: %w", err)
		}
		return vecSlice(&dy), nil, nil
	}

	bmat := mat.NewDense(f.m, f.nu, nil)
	for k := 0; k < f.m; k++ {
		for j := 0; j < f.nu; j++ {
			bmat.Set(k, j, f.b[k][j])
		}
	}

	var minvB mat.Dense
	if err := okIfIllConditioned(cholM.SolveTo(&minvB, bmat)); err != nil {
		return nil, nil, fmt.Errorf("solving border columns: %w", err)
	}
	var minvH mat.VecDense
	if err := okIfIllConditioned(cholM.SolveVecTo(&minvH, hv)); err != nil {
		return nil, nil, fmt.Errorf("solving for multipliers: %w", err)
	}

	// W Δu = Bᵀ M⁻¹ h − rf  with W = Bᵀ M⁻¹ B.
	var wDense mat.Dense
	wDense.Mul(bmat.T(), &minvB)
	w := symmetrize(&wDense)
	cholW, err := factorizeWithRidge(w)
	if err != nil {
		return nil, nil, fmt.Errorf("factorizing free-variable block: %w", err)
	}

	rhs := mat.NewVecDense(f.nu, nil)
	for j := 0; j < f.nu; j++ {
		v := -st.rf[j]
		for k := 0; k < f.m; k++ {
			v += bmat.At(k, j) * minvH.AtVec(k)
		}
		rhs.SetVec(j, v)
	}
	var duVec mat.VecDense
	if err := okIfIllConditioned(cholW.SolveVecTo(&duVec, rhs)); err != nil {
		return nil, nil, fmt.Errorf("solving free variables: %w", err)
	}

	du := vecSlice(&duVec)
	dy := make([]float64, f.m)
	for k := 0; k < f.m; k++ {
		v := minvH.AtVec(k)
		for j := 0; j < f.nu; j++ {
			v -= minvB.At(k, j) * du[j]
		}
		dy[k] = v
	}
	return dy, du, nil
}

// maxPSDStep returns the largest alpha in (0, 1] keeping x + alpha*dx
// positive definite, found by bisection on Cholesky success.
func maxPSDStep(x, dx *mat.SymDense) float64 {
	if psdAt(x, dx, 1) {
		return 1
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		if psdAt(x, dx, mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func psdAt(x, dx *mat.SymDense, alpha float64) bool {
	n, _ := x.Dims()
	trial := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			trial.SetSym(i, j, x.At(i, j)+alpha*dx.At(i, j))
		}
	}
	var ch mat.Cholesky
	return ch.Factorize(trial)
}

func applyStep(x, dx *mat.SymDense, alpha float64) {
	n, _ := x.Dims()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			x.SetSym(i, j, x.At(i, j)+alpha*dx.At(i, j))
		}
	}
}

// shrinkToCone halves the step fractions until both trial iterates stay
// strictly positive definite. Forty halvings reduce the step below any
// meaningful progress, at which point the method has genuinely stalled.
func shrinkToCone(x, dx, s, ds *mat.SymDense, alphaP, alphaD float64) (float64, float64, error) {
	for tries := 0; tries < 40; tries++ {
		if psdAt(x, dx, alphaP) && psdAt(s, ds, alphaD) {
			return alphaP, alphaD, nil
		}
		alphaP /= 2
		alphaD /= 2
	}
	return 0, 0, errors.New("iterate left the positive-definite cone")
}

// okIfIllConditioned keeps gonum's ill-conditioning warning from aborting a
// solve. The Schur complement approaches singularity as the method converges;
// the computed direction is still usable and the convergence and status
// checks catch a direction that was not.
func okIfIllConditioned(err error) error {
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}

func trialMu(x, dx *mat.SymDense, ap float64, s, ds *mat.SymDense, ad float64) float64 {
	n, _ := x.Dims()
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			total += (x.At(i, j) + ap*dx.At(i, j)) * (s.At(i, j) + ad*ds.At(i, j))
		}
	}
	return total / float64(n)
}

// factorizeWithRidge factorizes a symmetric matrix, adding an escalating
// diagonal ridge when it is numerically rank-deficient (dependent equality
// constraints produce exactly that).
func factorizeWithRidge(a *mat.SymDense) (*mat.Cholesky, error) {
	n, _ := a.Dims()
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(a.At(i, i)))
	}
	if scale == 0 {
		scale = 1
	}
	var ch mat.Cholesky
	ridge := 0.0
	for k := 0; k < 8; k++ {
		trial := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				trial.SetSym(i, j, a.At(i, j))
			}
			trial.SetSym(i, i, a.At(i, i)+ridge)
		}
		if ch.Factorize(trial) {
			return &ch, nil
		}
		if ridge == 0 {
			ridge = scale * 1e-14
		} else {
			ridge *= 100
		}
	}
	return nil, errors.New("matrix is not positive definite")
}

func scaledIdentity(n int, v float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, v)
	}
	return m
}

func symmetrize(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (d.At(i, j)+d.At(j, i))/2)
		}
	}
	return s
}

// symInner is the Frobenius inner product of two symmetric matrices.
func symInner(a, b *mat.SymDense) float64 {
	n, _ := a.Dims()
	total := 0.0
	for i := 0; i < n; i++ {
		total += a.At(i, i) * b.At(i, i)
		for j := i + 1; j < n; j++ {
			total += 2 * a.At(i, j) * b.At(i, j)
		}
	}
	return total
}

// traceProd is tr(a·b) for symmetric a and general b.
func traceProd(a *mat.SymDense, b mat.Matrix) float64 {
	n, _ := a.Dims()
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			total += a.At(i, j) * b.At(j, i)
		}
	}
	return total
}

func frobNorm(a *mat.SymDense) float64 {
	n, _ := a.Dims()
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := a.At(i, j)
			total += v * v
		}
	}
	return math.Sqrt(total)
}

func dot(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		total += a[i] * b[i]
	}
	return total
}

func norm2(a []float64) float64 {
	return math.Sqrt(dot(a, a))
}

func vecSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
