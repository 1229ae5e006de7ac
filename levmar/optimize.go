// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line at the last iteration
	LogLast LogLevel = 0
	// LogEval print also f and |g| every `level` iterations for any (0 < level < 99)
	LogEval LogLevel = 1
	// LogTrace print details of every trial step
	LogTrace LogLevel = 99
)

// Logger handles logging output for the optimizer.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Termination specifies the stopping criteria for the optimization algorithm.
// A zero tolerance selects the default 1e-18 and NaN disables that check.
type Termination struct {
	// The iteration will stop when ‖𝐠‖∞ ≤ 𝚐𝚝𝚘𝚕
	GradientTolerance float64
	// The iteration will stop when ‖Δ𝐩‖₂ ≤ 𝚡𝚝𝚘𝚕 × (𝚡𝚝𝚘𝚕 + 𝐩·𝐩)
	StepTolerance float64
	// The iteration will stop when RSS ≤ 𝚏𝚝𝚘𝚕
	FunctionTolerance float64
	// The iteration stop when the number of iteration exceeds limit.
	// Zero requests an evaluation-only run and a negative value selects
	// the automatic budget 100×(n+1), or 200×(n+1) when the model does
	// not support analytic Jacobians.
	MaxIterations int
}

// Problem specifies the problem for the Levenberg-Marquardt optimizer.
type Problem struct {
	N     int         // The problem dimension
	Model Objective   // The objective model to fit
	Stop  Termination // Stop condition
	// InitialMu scales the initial damping μ₀ = InitialMu × 𝚖𝚊𝚡(𝚍𝚒𝚊𝚐 𝐇).
	// Zero selects the default 1e-3.
	InitialMu float64
}

// New creates a new Levenberg-Marquardt optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	stop := p.Stop
	if stop.GradientTolerance == zero {
		stop.GradientTolerance = defTolerance
	}
	if stop.StepTolerance == zero {
		stop.StepTolerance = defTolerance
	}
	if stop.FunctionTolerance == zero {
		stop.FunctionTolerance = defTolerance
	}

	initMu := p.InitialMu
	if initMu == zero {
		initMu = defInitialMu
	}

	switch {
	case p.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.Model == nil:
		err = errors.New("objective model is required")
	case !math.IsNaN(stop.GradientTolerance) && stop.GradientTolerance < zero:
		err = errors.New("gradient tolerance must not less than 0")
	case !math.IsNaN(stop.StepTolerance) && stop.StepTolerance < zero:
		err = errors.New("step tolerance must not less than 0")
	case !math.IsNaN(stop.FunctionTolerance) && stop.FunctionTolerance < zero:
		err = errors.New("function tolerance must not less than 0")
	case math.IsNaN(initMu) || initMu <= zero:
		err = errors.New("initial damping factor must greater than 0")
	}

	if err != nil {
		return
	}

	optimizer = &Optimizer{
		lmSpec{
			n:      p.N,
			logger: *logger,
			Problem: Problem{
				N:         p.N,
				Model:     p.Model,
				Stop:      stop,
				InitialMu: initMu,
			},
		},
	}
	return
}

// Optimizer implemented using the Levenberg-Marquardt algorithm.
type Optimizer struct {
	lmSpec
}

// Workspace contains the state and context of the optimization process.
// Given problem dimension n, total work space is approximately float64[n² + 3×n].
type Workspace struct {
	n int
	lmCtx
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	RSS     float64   // Final weighted residual sum of squares.
	X       []float64 // Final parameters.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status   ExitCondition // Final exit condition after optimization.
	NumIter  int           // Number of outer iterations performed (-1 when the loop never started).
	NumFunc  int           // Number of function evaluations performed by the model.
	NumJacob int           // Number of Jacobian evaluations performed by the model.
}

// Init allocate the workspace for the Levenberg-Marquardt optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n = o.n
	n := w.n
	w.lmCtx = lmCtx{
		diag: make([]float64, n),
		step: make([]float64, n),
		xNew: make([]float64, n),
		a:    make([]float64, n*n),
	}
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.n {
		panic("initial x dimension not match spec")
	}

	if w.n != o.n {
		panic("workspace dimension not match spec")
	}

	loc := lmLoc{
		x: slices.Repeat(x, 1),
	}

	solver := lmSolver{
		optimizer: o,
		workspace: w,
		location:  &loc,
	}

	status := solver.mainLoop()
	model := o.Model
	return &Result{
		OK:  status.converged(),
		RSS: loc.rss,
		X:   loc.x,
		Summary: Summary{
			Status:   status,
			NumIter:  w.iter,
			NumFunc:  model.FunctionEvaluations(),
			NumJacob: model.JacobianEvaluations(),
		},
	}
}
