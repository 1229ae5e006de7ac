// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"math"
)

// lmSolver minimizes the weighted residual sum of squares of an objective
// model with the damped Gauss-Newton (Levenberg-Marquardt) iteration.
//
// minimize RSS(𝐩) = ∑ 𝚠ᵢ𝐫ᵢ²(𝐩)
//
// Each iteration solves the damped normal equations for a trial step
//
//	(𝐇 + μ𝐈)Δ𝐩 = -𝐠
//
// where 𝐠 = -𝐉ᵀ𝐖𝐫 and 𝐇 = 𝐉ᵀ𝐖𝐉 come from the model. The damping scalar μ
// interpolates between the Gauss-Newton step (μ small, fast near a good fit)
// and a short steepest-descent step (μ large, safe far from one).
//
// # Damping
//
// The μ/ν adaptation is the classic trust-region surrogate: the quality of a
// trial is the gain ratio of actual to predicted reduction
//
//	ρ = (RSS - RSSₙₑᵥ) / Δ𝐩·(μΔ𝐩 - 𝐠)
//
// An accepted trial (ρ > 0) shrinks the damping by μ = μ × 𝚖𝚊𝚡(⅓, 1-(2ρ-1)³)
// and resets ν = 2, so a high quality step (ρ near 1) earns a larger decrease
// than a marginal one. A rejected trial grows μ = μ×ν and doubles ν, then
// retries without consuming an outer iteration.
//
// # Convergence
//
// The exit condition is assigned by sequential unconditional checks, so when
// several criteria fire in the same pass the last assignment wins:
//   - RSS ≤ 𝚏𝚝𝚘𝚕 : Converged
//   - ‖𝐠‖∞ ≤ 𝚐𝚝𝚘𝚕 : RelativeGradient
//   - ‖Δ𝐩‖₂ ≤ 𝚡𝚝𝚘𝚕 × (𝚡𝚝𝚘𝚕 + 𝐩·𝐩) : RelativePoints
//
// A NaN residue is terminal (InvalidValues) but never raised as an error.
//
// # Reference
//
// K. Madsen, H.B. Nielsen, O. Tingleff:
// "Methods for Non-Linear Least Squares Problems". IMM DTU, 2004
type lmSolver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *lmLoc
}

// mainLoop runs the whole fit: initial evaluation, the outer iteration loop
// and the covariance finalization performed on every exit path.
func (ls *lmSolver) mainLoop() (status ExitCondition) {

	loc := ls.location
	spec := &ls.optimizer.lmSpec
	ctx := &ls.workspace.lmCtx

	model, stop := spec.Model, spec.Stop

	model.Reset()
	model.EvaluateFunction(loc.x)
	loc.rss = model.Residue()

	ctx.iter = -1
	ctx.trials = 0

	maxIter := stop.MaxIterations
	if maxIter < 0 {
		if model.SupportsJacobian() {
			maxIter = 100 * (spec.n + 1)
		} else {
			maxIter = 200 * (spec.n + 1)
		}
	}

	ls.printInit()

	if math.IsNaN(loc.rss) {
		status = InvalidValues
	} else {
		if maxIter == 0 {
			status = ManuallyStopped
		}
		if loc.rss <= stop.FunctionTolerance {
			status = Converged
		}
		status = ls.refreshJacobian(status)
	}

	if status != None {
		model.EvaluateCovariance(loc.x)
		ls.printExit(status)
		return
	}

	maxDiag := ctx.diag[0]
	for _, d := range ctx.diag[1:] {
		maxDiag = math.Max(maxDiag, d)
	}
	ctx.mu = spec.InitialMu * maxDiag
	ctx.nu = two

	for ctx.iter = 0; ctx.iter < maxIter && status == None; {
		ctx.iter++
		status = ls.trialLoop()
		ls.printIter()
	}

	if ctx.iter == maxIter && status == None {
		status = ExceedIterations
	}

	model.EvaluateCovariance(loc.x)
	ls.printExit(status)
	return
}

// trialLoop proposes damped steps with growing μ until one is accepted or a
// terminal condition is reached for the current outer iteration.
func (ls *lmSolver) trialLoop() (status ExitCondition) {

	loc := ls.location
	spec := &ls.optimizer.lmSpec
	ctx := &ls.workspace.lmCtx

	n, model, stop := spec.n, spec.Model, spec.Stop

	g := model.Gradient()
	for status == None {
		ctx.trials++
		ls.solveStep()

		// ‖Δ𝐩‖₂ ≤ 𝚡𝚝𝚘𝚕 × (𝚡𝚝𝚘𝚕 + 𝐩·𝐩)
		pp := ddot(n, loc.x, 1, loc.x, 1)
		if dnrm2(n, ctx.step, 1) <= stop.StepTolerance*(stop.StepTolerance+pp) {
			status = RelativePoints
			break
		}

		// 𝐩ₙₑᵥ = 𝐩 + Δ𝐩
		dcopy(n, loc.x, 1, ctx.xNew, 1)
		daxpy(n, one, ctx.step, 1, ctx.xNew, 1)
		model.EvaluateFunction(ctx.xNew)
		rssNew := model.Residue()
		if math.IsNaN(rssNew) {
			status = InvalidValues
			break
		}

		// predicted reduction Δ𝐩·(μΔ𝐩 - 𝐠)
		pred := zero
		for i, s := range ctx.step {
			pred += s * (ctx.mu*s - g[i])
		}
		rho := zero
		if pred != zero {
			rho = (loc.rss - rssNew) / pred
		}

		if rho > zero {
			// accept the candidate and refresh the derivatives
			dcopy(n, ctx.xNew, 1, loc.x, 1)
			loc.rss = rssNew
			status = ls.refreshJacobian(status)
			if loc.rss <= stop.FunctionTolerance {
				status = Converged
			}
			t := two*rho - one
			ctx.mu *= math.Max(one/three, one-t*t*t)
			ctx.nu = two
			break
		}

		// reject the candidate and grow the damping
		ctx.mu *= ctx.nu
		ctx.nu *= two
		if log := spec.logger; log.enable(LogTrace) {
			log.log("Trial step rejected. rho: %g, mu: %e\n", rho, ctx.mu)
		}
		if ctx.nu > nuLimit {
			// ν saturated without progress, hand the iteration back.
			break
		}
	}
	return
}

// solveStep solves the damped normal equations (𝐇 + μ𝐈)Δ𝐩 = -𝐠 on a fresh
// copy of the Hessian, so the undamped diagonal held by the model is never
// observably perturbed. A singular system surfaces as a NaN step.
func (ls *lmSolver) solveStep() {

	spec := &ls.optimizer.lmSpec
	ctx := &ls.workspace.lmCtx

	n, model := spec.n, spec.Model

	a := ctx.a
	dcopy(n*n, model.Hessian(), 1, a, 1)
	for i := 0; i < n; i++ {
		a[i*n+i] = ctx.diag[i] + ctx.mu
	}

	s := ctx.step
	dcopy(n, model.Gradient(), 1, s, 1)
	dscal(n, -one, s, 1)

	if dpofa(a, n, n) != 0 {
		for i := range s {
			s[i] = math.NaN()
		}
		return
	}
	dposl(a, n, n, s)
}

// refreshJacobian re-evaluates the model derivatives at the current point,
// records the undamped Hessian diagonal and applies the gradient check.
func (ls *lmSolver) refreshJacobian(status ExitCondition) ExitCondition {

	loc := ls.location
	spec := &ls.optimizer.lmSpec
	ctx := &ls.workspace.lmCtx

	model := spec.Model
	model.EvaluateJacobian(loc.x)
	dcopy(spec.n, model.Hessian(), spec.n+1, ctx.diag, 1)

	// ‖𝐠‖∞ ≤ 𝚐𝚝𝚘𝚕
	ctx.gNorm = dnrminf(spec.n, model.Gradient(), 1)
	if ctx.gNorm <= spec.Stop.GradientTolerance {
		status = RelativeGradient
	}
	return status
}

// printInit logs the initialization details of the optimization process.
func (ls *lmSolver) printInit() {
	spec := &ls.optimizer.lmSpec
	if log := spec.logger; log.enable(LogLast) {
		log.log("RUNNING THE LEVENBERG-MARQUARDT CODE\n")
		log.log("           * * *\n")
		log.log("N = %d\n", spec.n)
		if log.enable(LogEval) {
			log.log("At iterate     0    f= %12.5e\n", ls.location.rss)
		}
	}
}

// printIter logs the current iteration details.
func (ls *lmSolver) printIter() {
	spec := &ls.optimizer.lmSpec
	ctx := &ls.workspace.lmCtx
	if log := spec.logger; log.enable(LogEval) && ctx.iter%int(log.Level) == 0 {
		log.log("At iterate %5d    f= %12.5e    |g|= %12.5e    mu= %12.5e\n",
			ctx.iter, ls.location.rss, ctx.gNorm, ctx.mu)
	}
}

// printExit logs the final statistics and exit condition of the optimization process.
func (ls *lmSolver) printExit(status ExitCondition) {

	loc := ls.location
	spec := &ls.optimizer.lmSpec
	ctx := &ls.workspace.lmCtx

	log := spec.logger
	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("\n   N    Tit   Ttrial   Tnf   Tnj    Projg         F\n")
	log.log("%5d %6d %7d %6d %5d %9.2e %11.5e\n",
		spec.n, ctx.iter, ctx.trials,
		spec.Model.FunctionEvaluations(), spec.Model.JacobianEvaluations(),
		ctx.gNorm, loc.rss)

	var msg string
	switch status {
	case Converged:
		msg = "CONVERGENCE: RSS_<=_FTOL"
	case RelativeGradient:
		msg = "CONVERGENCE: NORM_OF_GRADIENT_<=_GTOL"
	case RelativePoints:
		msg = "CONVERGENCE: REL_STEP_SIZE_<=_XTOL"
	case ExceedIterations:
		msg = "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case InvalidValues:
		msg = "STOP: RESIDUE EVALUATED TO NAN"
	case ManuallyStopped:
		msg = "STOP: EVALUATION ONLY REQUEST"
	default:
		msg = "UNKNOWN STATUS"
	}
	log.log("\n%s\n", msg)
}
