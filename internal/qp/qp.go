// Package qp solves the per-step safety projection
//
//	min_u 1/2 |u - u_nom|^2   s.t.  A u <= b
//
// with Hildreth's dual coordinate method. The identity Hessian makes
// every dual coordinate update closed-form, so the solver needs nothing
// beyond dense matrix products; instances here are small (tens of rows,
// 2N columns) and solved thousands of times per run.
//
// The objective is strictly convex, so the optimum is unique whenever
// the constraints are feasible. An infeasible or non-convergent instance
// is an error: the caller must never fall back to the unfiltered
// command, since that is exactly the unsafe input the filter exists to
// reject.
package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInfeasible reports that no command satisfies all constraint rows
// simultaneously.
var ErrInfeasible = errors.New("qp: constraints infeasible")

// ErrNoConvergence reports that the dual iteration did not settle within
// the iteration budget.
var ErrNoConvergence = errors.New("qp: dual iteration did not converge")

// Options tune the solver. The zero value selects the defaults.
type Options struct {
	// Tol is the feasibility and dual-convergence tolerance.
	// Defaults to 1e-9.
	Tol float64
	// MaxIter caps dual sweeps. Defaults to 100 + 50*rows.
	MaxIter int
}

func (o Options) withDefaults(rows int) Options {
	if o.Tol <= 0 {
		o.Tol = 1e-9
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 100 + 50*rows
	}
	return o
}

// Result carries the solution and solve diagnostics.
type Result struct {
	U          []float64
	Iterations int
	// MaxViolation is max(A u - b) at the solution, clamped at zero.
	MaxViolation float64
	// WorstRow is the row index attaining MaxViolation, or -1.
	WorstRow int
	// Active holds the row indices with positive multipliers.
	Active []int
}

// Solve projects uNom onto {u : A u <= b}. A may be nil (no rows), in
// which case uNom is returned unchanged. If uNom already satisfies every
// row, it is returned exactly, with no numerical perturbation.
//
// The dual iteration runs rows in fixed order, so identical inputs give
// identical outputs.
func Solve(uNom []float64, a *mat.Dense, b []float64, opts Options) (*Result, error) {
	n := len(uNom)
	if a == nil || len(b) == 0 {
		return &Result{U: append([]float64(nil), uNom...), WorstRow: -1}, nil
	}
	rows, cols := a.Dims()
	if cols != n {
		return nil, fmt.Errorf("qp: A is %dx%d but u_nom has dimension %d", rows, cols, n)
	}
	if len(b) != rows {
		return nil, fmt.Errorf("qp: A has %d rows but b has %d entries", rows, len(b))
	}
	opts = opts.withDefaults(rows)

	// Slack of each row at the nominal command: g_i = a_i.u_nom - b_i.
	// If no row is violated the nominal command is already the unique
	// optimum and is passed through untouched.
	g := make([]float64, rows)
	uNomVec := mat.NewVecDense(n, uNom)
	gVec := mat.NewVecDense(rows, g)
	gVec.MulVec(a, uNomVec)
	violated := false
	for i := range g {
		g[i] -= b[i]
		if g[i] > 0 {
			violated = true
		}
	}
	if !violated {
		return &Result{U: append([]float64(nil), uNom...), WorstRow: -1}, nil
	}

	// Dual problem: min_{lambda>=0} 1/2 lambda'G lambda - g'lambda with
	// G = A A'. Hildreth sweeps coordinates in row order:
	//	w_i = (g_i - sum_{j!=i} G_ij lambda_j) / G_ii
	//	lambda_i = max(0, w_i)
	gram := mat.NewDense(rows, rows, nil)
	gram.Mul(a, a.T())

	lambda := make([]float64, rows)
	iter := 0
	for ; iter < opts.MaxIter; iter++ {
		delta := 0.0
		for i := 0; i < rows; i++ {
			gii := gram.At(i, i)
			if gii <= opts.Tol {
				// Zero row: trivially satisfied or structurally
				// infeasible; either way it has no useful multiplier.
				continue
			}
			s := g[i]
			for j := 0; j < rows; j++ {
				if j != i {
					s -= gram.At(i, j) * lambda[j]
				}
			}
			next := s / gii
			if next < 0 {
				next = 0
			}
			if d := math.Abs(next - lambda[i]); d > delta {
				delta = d
			}
			lambda[i] = next
		}
		if delta <= opts.Tol {
			iter++
			break
		}
	}

	// Primal recovery: u = u_nom - A' lambda.
	u := make([]float64, n)
	uVec := mat.NewVecDense(n, u)
	uVec.MulVec(a.T(), mat.NewVecDense(rows, lambda))
	for i := range u {
		u[i] = uNom[i] - u[i]
	}

	res := &Result{U: u, Iterations: iter, WorstRow: -1}
	for i := 0; i < rows; i++ {
		if lambda[i] > 0 {
			res.Active = append(res.Active, i)
		}
	}

	// Feasibility check at the recovered primal point. A diverging dual
	// (infeasible primal) leaves residual violations here.
	av := mat.NewVecDense(rows, nil)
	av.MulVec(a, uVec)
	feasTol := math.Sqrt(opts.Tol)
	for i := 0; i < rows; i++ {
		if v := av.AtVec(i) - b[i]; v > res.MaxViolation {
			res.MaxViolation = v
			res.WorstRow = i
		}
	}
	if res.MaxViolation > feasTol {
		if iter >= opts.MaxIter {
			return res, fmt.Errorf("%w: residual violation %.3g after %d iterations", ErrInfeasible, res.MaxViolation, iter)
		}
		return res, fmt.Errorf("%w: residual violation %.3g", ErrInfeasible, res.MaxViolation)
	}
	if iter >= opts.MaxIter {
		return res, fmt.Errorf("%w after %d iterations", ErrNoConvergence, iter)
	}

	for _, v := range u {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return res, fmt.Errorf("%w: non-finite solution component", ErrNoConvergence)
		}
	}
	return res, nil
}
