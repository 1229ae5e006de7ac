// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"math"
	"testing"
)

func fitCurve(t *testing.T, c *Curve, stop Termination, guess []float64) (*Result, *CurveModel) {
	t.Helper()

	model, err := c.New()
	if err != nil {
		t.Fatal(err)
	}

	p := Problem{N: c.N, Model: model, Stop: stop}
	o, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	return o.Fit(guess, o.Init()), model
}

func TestLinearFit(t *testing.T) {

	c := &Curve{
		N:        1,
		Function: func(p []float64, x float64) float64 { return p[0] * x },
		Gradient: func(p []float64, x float64, d []float64) { d[0] = x },
		X:        []float64{1, 2, 3},
		Y:        []float64{2, 4.01, 5.99},
	}
	stop := Termination{GradientTolerance: 1e-12, MaxIterations: 50}
	r, _ := fitCurve(t, c, stop, []float64{1})

	// closed form slope ∑𝚡𝚢/∑𝚡²
	best := (1*2 + 2*4.01 + 3*5.99) / 14.0

	switch {
	case !r.OK:
		t.Fatalf("TestLinearFit: not converged: %v", r.Status)
	case !almostEqual(r.X[0], best, 1e-6):
		t.Fatalf("TestLinearFit: slope = %v", r.X[0])
	case r.NumIter < 1 || r.NumIter >= 50:
		t.Fatalf("TestLinearFit: iterations = %d", r.NumIter)
	}
}

func TestLinearFitDefaults(t *testing.T) {

	c := &Curve{
		N:        1,
		Function: func(p []float64, x float64) float64 { return p[0] * x },
		Gradient: func(p []float64, x float64, d []float64) { d[0] = x },
		X:        []float64{1, 2, 3},
		Y:        []float64{2, 4.01, 5.99},
	}
	// all-default tolerances: the gradient floors around 1e-14 in double
	// precision, so the run ends when rejected trials shrink the step
	// below the relative point tolerance
	r, _ := fitCurve(t, c, Termination{MaxIterations: 50}, []float64{1})

	switch {
	case !r.OK:
		t.Fatalf("TestLinearFitDefaults: not converged: %v", r.Status)
	case r.Status != RelativePoints:
		t.Fatalf("TestLinearFitDefaults: status = %v", r.Status)
	case !almostEqual(r.X[0], 2, 1e-3):
		t.Fatalf("TestLinearFitDefaults: slope = %v", r.X[0])
	case r.NumIter < 1 || r.NumIter >= 50:
		t.Fatalf("TestLinearFitDefaults: iterations = %d", r.NumIter)
	}
}

func TestExponentialFit(t *testing.T) {

	a, b := 2.5, -0.8
	x := make([]float64, 10)
	y := make([]float64, 10)
	for i := range x {
		x[i] = float64(i) * 0.3
		y[i] = a * math.Exp(b*x[i])
	}

	c := &Curve{
		N:        2,
		Function: func(p []float64, x float64) float64 { return p[0] * math.Exp(p[1]*x) },
		Gradient: func(p []float64, x float64, d []float64) {
			e := math.Exp(p[1] * x)
			d[0] = e
			d[1] = p[0] * x * e
		},
		X: x, Y: y,
	}
	stop := Termination{MaxIterations: 100}
	r, _ := fitCurve(t, c, stop, []float64{1, -0.5})

	switch {
	case !r.OK:
		t.Fatalf("TestExponentialFit: not converged: %v", r.Status)
	case !almostEqual(r.X, []float64{a, b}, 1e-6):
		t.Fatalf("TestExponentialFit: params = %v", r.X)
	}
}

func TestNumericJacobian(t *testing.T) {

	a, b := 2.5, -0.8
	x := make([]float64, 10)
	y := make([]float64, 10)
	for i := range x {
		x[i] = float64(i) * 0.3
		y[i] = a * math.Exp(b*x[i])
	}

	c := &Curve{
		N:        2,
		Function: func(p []float64, x float64) float64 { return p[0] * math.Exp(p[1]*x) },
		X:        x, Y: y,
	}
	r, model := fitCurve(t, c, Termination{MaxIterations: 400}, []float64{1, -0.5})

	switch {
	case model.SupportsJacobian():
		t.Fatal("TestNumericJacobian: no analytic gradient was given")
	case !r.OK:
		t.Fatalf("TestNumericJacobian: not converged: %v", r.Status)
	case !almostEqual(r.X, []float64{a, b}, 1e-4):
		t.Fatalf("TestNumericJacobian: params = %v", r.X)
	case r.NumFunc <= r.NumJacob:
		t.Fatalf("TestNumericJacobian: evaluations = %d/%d", r.NumFunc, r.NumJacob)
	}
}

func TestWeightedFit(t *testing.T) {

	x := []float64{1, 2, 3}
	y := []float64{2, 4.01, 5.99}
	w := []float64{1, 1, 100}

	c := &Curve{
		N:        1,
		Function: func(p []float64, x float64) float64 { return p[0] * x },
		Gradient: func(p []float64, x float64, d []float64) { d[0] = x },
		X:        x, Y: y, W: w,
	}
	stop := Termination{GradientTolerance: 1e-12, MaxIterations: 50}
	r, _ := fitCurve(t, c, stop, []float64{1})

	// closed form slope ∑𝚠𝚡𝚢/∑𝚠𝚡²
	num, den := zero, zero
	for i := range x {
		num += w[i] * x[i] * y[i]
		den += w[i] * x[i] * x[i]
	}

	switch {
	case !r.OK:
		t.Fatalf("TestWeightedFit: not converged: %v", r.Status)
	case !almostEqual(r.X[0], num/den, 1e-6):
		t.Fatalf("TestWeightedFit: slope = %v", r.X[0])
	}
}

func TestManualStop(t *testing.T) {

	c := &Curve{
		N:        1,
		Function: func(p []float64, x float64) float64 { return p[0] * x },
		Gradient: func(p []float64, x float64, d []float64) { d[0] = x },
		X:        []float64{1, 2, 3},
		Y:        []float64{2, 4.01, 5.99},
	}
	r, _ := fitCurve(t, c, Termination{MaxIterations: 0}, []float64{1})

	// ∑(𝚢ᵢ - 𝚡ᵢ)²
	rss := 1*1 + 2.01*2.01 + 2.99*2.99

	switch {
	case r.OK:
		t.Fatal("TestManualStop: evaluation only run should not converge")
	case r.Status != ManuallyStopped:
		t.Fatalf("TestManualStop: status = %v", r.Status)
	case r.NumIter != -1:
		t.Fatalf("TestManualStop: iterations = %d", r.NumIter)
	case !almostEqual(r.RSS, rss, 1e-12):
		t.Fatalf("TestManualStop: rss = %v", r.RSS)
	case !almostEqual(r.X[0], 1, 0):
		t.Fatalf("TestManualStop: parameters moved: %v", r.X)
	}
}

func TestRerunFromSolution(t *testing.T) {

	a, b := 2.5, -0.8
	x := make([]float64, 10)
	y := make([]float64, 10)
	for i := range x {
		x[i] = float64(i) * 0.3
		y[i] = a * math.Exp(b*x[i])
	}

	c := &Curve{
		N:        2,
		Function: func(p []float64, x float64) float64 { return p[0] * math.Exp(p[1]*x) },
		Gradient: func(p []float64, x float64, d []float64) {
			e := math.Exp(p[1] * x)
			d[0] = e
			d[1] = p[0] * x * e
		},
		X: x, Y: y,
	}

	model, err := c.New()
	if err != nil {
		t.Fatal(err)
	}
	p := Problem{N: c.N, Model: model, Stop: Termination{MaxIterations: 100}}
	o, err := p.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	w := o.Init()
	first := o.Fit([]float64{1, -0.5}, w)
	if !first.OK {
		t.Fatalf("TestRerunFromSolution: not converged: %v", first.Status)
	}

	second := o.Fit(first.X, w)
	switch {
	case !second.OK:
		t.Fatalf("TestRerunFromSolution: rerun not converged: %v", second.Status)
	case second.NumIter > 1:
		t.Fatalf("TestRerunFromSolution: rerun iterations = %d", second.NumIter)
	case !almostEqual(second.X, first.X, 1e-9):
		t.Fatalf("TestRerunFromSolution: solution drifted: %v", second.X)
	}
}

func TestInvalidData(t *testing.T) {

	c := &Curve{
		N:        1,
		Function: func(p []float64, x float64) float64 { return math.Sqrt(p[0] - x) },
		Gradient: func(p []float64, x float64, d []float64) { d[0] = 0.5 / math.Sqrt(p[0]-x) },
		X:        []float64{1, 2, 3},
		Y:        []float64{1, 1, 1},
	}
	r, _ := fitCurve(t, c, Termination{MaxIterations: 10}, []float64{0})

	switch {
	case r.OK:
		t.Fatal("TestInvalidData: should not converge")
	case r.Status != InvalidValues:
		t.Fatalf("TestInvalidData: status = %v", r.Status)
	case r.NumIter != -1:
		t.Fatalf("TestInvalidData: iterations = %d", r.NumIter)
	}
}

func TestBadProblem(t *testing.T) {

	model := newStubModel(1, func(p []float64) float64 { return 0 })

	bad := []Problem{
		{N: 0, Model: model},
		{N: 1, Model: nil},
		{N: 1, Model: model, Stop: Termination{GradientTolerance: -1}},
		{N: 1, Model: model, Stop: Termination{StepTolerance: -1}},
		{N: 1, Model: model, Stop: Termination{FunctionTolerance: -1}},
		{N: 1, Model: model, InitialMu: -1},
		{N: 1, Model: model, InitialMu: math.NaN()},
	}
	for i := range bad {
		if _, err := bad[i].New(nil); err == nil {
			t.Fatalf("TestBadProblem: problem %d accepted", i)
		}
	}

	good := Problem{N: 1, Model: model, Stop: Termination{GradientTolerance: math.NaN()}}
	if _, err := good.New(nil); err != nil {
		t.Fatalf("TestBadProblem: %v", err)
	}
}
