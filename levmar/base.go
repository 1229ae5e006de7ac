// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

const (
	zero  = 0.0
	one   = 1.0
	two   = 2.0
	three = 3.0
)

// Default tolerance for the gradient, step and residue checks.
const defTolerance = 1e-18

// Default scale factor for the initial damping μ₀ = 𝚏 × 𝚖𝚊𝚡(𝚍𝚒𝚊𝚐 𝐇).
const defInitialMu = 1e-3

// The trial loop of one iteration is abandoned once ν exceeds this limit.
// A flat residue surface keeps ρ at zero and would retry forever otherwise.
const nuLimit = 1 << 32

// ExitCondition classifies why the iteration stopped.
type ExitCondition int

const (
	// None the run has not reached a terminal state.
	None ExitCondition = iota
	// Converged the residual sum of squares satisfied the function tolerance.
	Converged
	// RelativeGradient the infinity norm of the gradient satisfied the gradient tolerance.
	RelativeGradient
	// RelativePoints the proposed step became negligible relative to the current parameters.
	RelativePoints
	// ExceedIterations the iteration budget was exhausted before any tolerance was satisfied.
	ExceedIterations
	// InvalidValues the residual sum of squares evaluated to NaN.
	InvalidValues
	// ManuallyStopped the run was an evaluation-only request with a zero iteration budget.
	ManuallyStopped
)

// converged reports whether the condition belongs to the success family.
func (e ExitCondition) converged() bool {
	return e == Converged || e == RelativeGradient || e == RelativePoints
}

type lmSpec struct {
	// the number of free parameters
	n int
	// the logging config
	logger Logger
	Problem
}

type lmLoc struct {
	// current weighted residual sum of squares.
	rss float64
	// current parameters, updated only on accepted steps.
	x []float64 // n
}

type lmCtx struct {
	// damping scalar blending Gauss-Newton and gradient-descent behaviour.
	mu float64
	// damping growth factor, doubled on rejection and reset to 2 on acceptance.
	nu float64
	// infinity norm of the gradient at the latest Jacobian refresh.
	gNorm float64
	// outer iteration counter, -1 until the loop starts.
	iter int
	// trial counter across the whole run.
	trials int
	// undamped diagonal of the approximate Hessian.
	diag []float64 // n
	// proposed step Δ𝐩.
	step []float64 // n
	// candidate parameters 𝐩 + Δ𝐩.
	xNew []float64 // n
	// damped copy of the Hessian consumed by the Cholesky solve.
	a []float64 // n×n
}
