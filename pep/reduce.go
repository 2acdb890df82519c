package pep

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/perfest/gopep/sdp"
)

// parseHeuristic understands "trace" and "logdetN" (N reweighting
// iterations, e.g. "logdet1", "logdet5").
func parseHeuristic(s string) (iters int, logdet bool, err error) {
	if s == "trace" {
		return 0, false, nil
	}
	if rest, ok := strings.CutPrefix(s, "logdet"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return 0, false, fmt.Errorf("pep: bad dimension-reduction heuristic %q", s)
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("pep: unknown dimension-reduction heuristic %q", s)
}

// ReductionPass describes one solve of the dimension-reduction loop.
type ReductionPass struct {
	// Pass is the zero-based index of the heuristic solve.
	Pass int `json:"pass"`
	// Dimension is the significant-eigenvalue count after this pass.
	Dimension int `json:"dimension"`
	// WorstCase is the pinned objective value recomputed on this pass's
	// Gram iterate.
	WorstCase float64 `json:"worstCase"`
}

// reduceDimension re-solves the problem with the objective pinned within a
// small tolerance of the optimum while minimizing a rank surrogate of the
// Gram matrix: the trace, then optionally iteratively reweighted by
// (G + delta*I)^-1 (the log-det heuristic). The pass stops when the count of
// significant eigenvalues plateaus or the iteration budget runs out, and
// returns the last solution that kept or improved the count. Failure to
// reduce further is a stop condition, not an error.
func (p *PEP) reduceDimension(prob *sdp.Problem, base *sdp.Solution, heuristic string,
	solver sdp.Solver, solverOpts sdp.Options, logger *slog.Logger, verbose bool) (*sdp.Solution, []ReductionPass, error) {

	reweights, logdet, err := parseHeuristic(heuristic)
	if err != nil {
		return nil, nil, err
	}

	tau := prob.Objective.Eval(base.Gram, base.Scalars)
	slack := 1e-6 * (1 + math.Abs(tau))
	pinned := pinObjective(prob, tau, slack)

	best := base
	bestDim := eigCount(base.Gram)
	if verbose {
		logger.Info("dimension reduction started",
			"heuristic", heuristic, "initial_dimension", bestDim, "tau", tau)
	}

	weight := identityWeight(prob.Dim)
	total := 1 + reweights
	var passes []ReductionPass
	for it := 0; it < total; it++ {
		trial := *pinned
		trial.Objective = sdp.Coeffs{Gram: weight}
		trial.Maximize = false

		sol, err := solver.Solve(&trial, solverOpts)
		if err != nil || !sol.Status.Usable() {
			// Non-convergence of the heuristic: keep the last good result.
			if verbose {
				logger.Warn("dimension-reduction solve failed, keeping previous result",
					"iteration", it, "error", err)
			}
			break
		}

		dim := eigCount(sol.Gram)
		passTau := prob.Objective.Eval(sol.Gram, sol.Scalars)
		passes = append(passes, ReductionPass{Pass: it, Dimension: dim, WorstCase: passTau})
		if verbose {
			logger.Info("dimension-reduction iteration",
				"iteration", it, "dimension", dim, "tau", passTau)
		}
		if dim <= bestDim {
			best, bestDim = sol, dim
		} else {
			break
		}

		if !logdet || it == total-1 {
			break
		}
		weight = logdetWeight(sol.Gram)
	}

	if verbose {
		logger.Info("dimension reduction finished", "dimension", bestDim)
	}
	return best, passes, nil
}

// pinObjective copies the problem, replacing the objective's optimality by a
// constraint holding it within slack of tau.
func pinObjective(prob *sdp.Problem, tau, slack float64) *sdp.Problem {
	out := *prob
	out.Constraints = make([]sdp.Constraint, len(prob.Constraints), len(prob.Constraints)+1)
	copy(out.Constraints, prob.Constraints)

	pin := negateCoeffs(&prob.Objective)
	if prob.Maximize {
		// objective >= tau - slack  <=>  (tau - slack) - objective <= 0
		pin.Offset += tau - slack
	} else {
		// objective <= tau + slack
		pin = &sdp.Coeffs{Gram: prob.Objective.Gram, Scalars: prob.Objective.Scalars,
			Offset: prob.Objective.Offset - tau - slack}
	}
	out.Constraints = append(out.Constraints, sdp.Constraint{Coeffs: *pin, Kind: sdp.LessEq})
	return &out
}

func identityWeight(n int) *mat.SymDense {
	w := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		w.SetSym(i, i, 1)
	}
	return w
}

// logdetWeight is (G + delta*I)^-1, the gradient of log det at the current
// Gram iterate.
func logdetWeight(g *mat.SymDense) *mat.SymDense {
	n, _ := g.Dims()
	lmax := 0.0
	for i := 0; i < n; i++ {
		lmax = math.Max(lmax, g.At(i, i))
	}
	delta := 1e-5 * (1 + lmax)

	shifted := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			shifted.SetSym(i, j, g.At(i, j))
		}
		shifted.SetSym(i, i, g.At(i, i)+delta)
	}
	var ch mat.Cholesky
	if !ch.Factorize(shifted) {
		return identityWeight(n)
	}
	var inv mat.SymDense
	if err := ch.InverseTo(&inv); err != nil {
		return identityWeight(n)
	}
	return &inv
}

// eigCount counts the eigenvalues standing above numerical noise.
func eigCount(g *mat.SymDense) int {
	var es mat.EigenSym
	if !es.Factorize(g, false) {
		n, _ := g.Dims()
		return n
	}
	vals := es.Values(nil)
	lmax := 0.0
	for _, v := range vals {
		lmax = math.Max(lmax, v)
	}
	thresh := math.Max(lmax*1e-7, 1e-9)
	count := 0
	for _, v := range vals {
		if v > thresh {
			count++
		}
	}
	return count
}
