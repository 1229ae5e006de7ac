// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

// Objective is the model evaluated by the optimizer during a fit.
//
// The optimizer drives the model through the three evaluation calls and
// reads the resulting state back through the accessors. Evaluations update
// internal state only; numeric singularities must propagate as NaN instead
// of panicking, so a bad region of the parameter space surfaces as an
// InvalidValues exit condition rather than an error.
type Objective interface {
	// Reset clears the evaluation counters before a run.
	Reset()
	// EvaluateFunction recomputes the residual sum of squares at p
	// and increments the function evaluation counter.
	EvaluateFunction(p []float64)
	// EvaluateJacobian recomputes the gradient and the approximate Hessian
	// at p and increments the Jacobian evaluation counter.
	EvaluateJacobian(p []float64)
	// EvaluateCovariance computes the covariance estimate of the fitted
	// parameters at p. The optimizer calls it exactly once per run,
	// at finalization, on every exit path.
	EvaluateCovariance(p []float64)
	// Point returns the parameter vector of the latest evaluation.
	Point() []float64
	// Residue returns the weighted residual sum of squares RSS = ∑𝚠ᵢ𝐫ᵢ².
	Residue() float64
	// Gradient returns -𝐉ᵀ𝐖𝐫 of the latest Jacobian evaluation.
	Gradient() []float64
	// Hessian returns 𝐉ᵀ𝐖𝐉 of the latest Jacobian evaluation
	// as an n×n row-major slice.
	Hessian() []float64
	// SupportsJacobian reports whether analytic derivatives are available.
	// It selects the automatic iteration budget of the optimizer.
	SupportsJacobian() bool
	// FunctionEvaluations returns the function evaluation count since Reset.
	FunctionEvaluations() int
	// JacobianEvaluations returns the Jacobian evaluation count since Reset.
	JacobianEvaluations() int
}
