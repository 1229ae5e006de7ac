// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"errors"
	"math"
	"slices"

	"github.com/curioloop/fitting/numdiff"
)

// ModelFunc evaluates the parametric model y = 𝒇(x;𝐩) at a single point x.
type ModelFunc func(p []float64, x float64) float64

// ModelGrad stores the partial derivatives ∂𝒇/∂𝐩ⱼ(x;𝐩) into d.
type ModelGrad func(p []float64, x float64, d []float64)

// Curve specifies a parametric model and the observed data to fit.
type Curve struct {
	N        int       // The number of free parameters
	Function ModelFunc // The model function 𝒇(x;𝐩)
	Gradient ModelGrad // Optional partials ∂𝒇/∂𝐩, finite differences when nil
	X, Y     []float64 // The observed points
	W        []float64 // Optional per-observation weights, 1 when nil
}

// New creates a least-squares objective model for the given curve and data.
func (c *Curve) New() (model *CurveModel, err error) {

	n, m := c.N, len(c.X)

	w := c.W
	if w == nil {
		w = make([]float64, m)
		for i := range w {
			w[i] = one
		}
	}

	switch {
	case n <= 0:
		err = errors.New("parameter dimension must greater than 0")
	case c.Function == nil:
		err = errors.New("model function is required")
	case m == 0:
		err = errors.New("observed points are required")
	case m < n:
		err = errors.New("observed points must not less than parameters")
	case len(c.Y) != m:
		err = errors.New("observation size must equal to x")
	case len(w) != m:
		err = errors.New("weight size must equal to x")
	}

	if err == nil {
		for _, wi := range w {
			if math.IsNaN(wi) || wi < zero {
				err = errors.New("weights must not less than 0")
				break
			}
		}
	}

	if err != nil {
		return
	}

	model = &CurveModel{
		n:    n,
		fn:   c.Function,
		grad: c.Gradient,
		obsX: slices.Repeat(c.X, 1),
		obsY: slices.Repeat(c.Y, 1),
		wts:  slices.Repeat(w, 1),
		p:    make([]float64, n),
		g:    make([]float64, n),
		h:    make([]float64, n*n),
		cov:  make([]float64, n*n),
		res:  make([]float64, m),
		jac:  make([]float64, m*n),
	}

	if model.grad == nil {
		model.diff = &numdiff.ApproxSpec{
			N: n, M: m,
			Method: numdiff.Forward,
			Object: func(p, y []float64) {
				for i, x := range model.obsX {
					y[i] = model.fn(p, x)
				}
			},
		}
	}
	return
}

// CurveModel is a weighted least-squares Objective built from observed data.
//
// Every function evaluation recomputes RSS = ∑𝚠ᵢ(𝚢ᵢ - 𝒇(𝚡ᵢ;𝐩))² and every
// Jacobian evaluation recomputes the gradient 𝐠 = -𝐉ᵀ𝐖𝐫 and the
// Gauss-Newton Hessian approximation 𝐇 = 𝐉ᵀ𝐖𝐉, where 𝐉ᵢⱼ = ∂𝒇/∂𝐩ⱼ(𝚡ᵢ;𝐩)
// and 𝐫ᵢ = 𝚢ᵢ - 𝒇(𝚡ᵢ;𝐩). Numeric singularities propagate as NaN.
type CurveModel struct {
	n    int
	fn   ModelFunc
	grad ModelGrad

	obsX, obsY, wts []float64

	rss float64
	p   []float64 // n
	g   []float64 // n
	h   []float64 // n×n
	cov []float64 // n×n

	numFunc, numJacob int

	res  []float64 // m
	jac  []float64 // m×n
	diff *numdiff.ApproxSpec
}

// Reset clears the evaluation counters before a run.
func (c *CurveModel) Reset() {
	c.numFunc = 0
	c.numJacob = 0
}

// EvaluateFunction recomputes the weighted residual sum of squares at p.
func (c *CurveModel) EvaluateFunction(p []float64) {
	copy(c.p, p)
	c.rss = c.residue(p)
	c.numFunc++
}

// EvaluateJacobian recomputes the gradient and the approximate Hessian at p.
func (c *CurveModel) EvaluateJacobian(p []float64) {
	copy(c.p, p)
	c.residue(p)

	n := c.n
	if c.grad != nil {
		for i, x := range c.obsX {
			c.grad(p, x, c.jac[i*n:(i+1)*n])
		}
	} else {
		// probe evaluations of the model are charged to the function counter
		_ = c.diff.Diff(c.p, c.jac)
		c.numFunc += c.diff.Evals()
	}

	// 𝐠 = -𝐉ᵀ𝐖𝐫 , 𝐇 = 𝐉ᵀ𝐖𝐉
	dzero(c.g)
	dzero(c.h)
	for i, r := range c.res {
		w := c.wts[i]
		row := c.jac[i*n : (i+1)*n]
		for j, dj := range row {
			c.g[j] -= w * r * dj
			daxpy(n-j, w*dj, row[j:], 1, c.h[j*n+j:], 1)
		}
	}
	// mirror the upper triangle
	for j := 0; j < n-1; j++ {
		dcopy(n-j-1, c.h[j*n+j+1:], 1, c.h[(j+1)*n+j:], n)
	}
	c.numJacob++
}

// EvaluateCovariance computes the covariance estimate 𝐇⁻¹ × RSS/(m-n) of the
// fitted parameters at p. The estimate is NaN filled when the system is
// singular or the fit has no residual degrees of freedom.
func (c *CurveModel) EvaluateCovariance(p []float64) {
	copy(c.p, p)

	n, dof := c.n, len(c.obsX)-c.n
	if dof <= 0 {
		c.nanCovariance()
		return
	}

	a := slices.Repeat(c.h, 1)
	if dpofa(a, n, n) != 0 {
		c.nanCovariance()
		return
	}

	// invert by solving 𝐇𝐳ₖ = 𝐞ₖ column by column
	sigma2 := c.rss / float64(dof)
	z := make([]float64, n)
	for k := 0; k < n; k++ {
		dzero(z)
		z[k] = one
		dposl(a, n, n, z)
		dscal(n, sigma2, z, 1)
		dcopy(n, z, 1, c.cov[k:], n)
	}
}

func (c *CurveModel) nanCovariance() {
	for i := range c.cov {
		c.cov[i] = math.NaN()
	}
}

func (c *CurveModel) residue(p []float64) (rss float64) {
	for i, x := range c.obsX {
		r := c.obsY[i] - c.fn(p, x)
		c.res[i] = r
		rss += c.wts[i] * r * r
	}
	return
}

// Point returns the parameter vector of the latest evaluation.
func (c *CurveModel) Point() []float64 { return c.p }

// Residue returns the weighted residual sum of squares of the latest evaluation.
func (c *CurveModel) Residue() float64 { return c.rss }

// Gradient returns -𝐉ᵀ𝐖𝐫 of the latest Jacobian evaluation.
func (c *CurveModel) Gradient() []float64 { return c.g }

// Hessian returns 𝐉ᵀ𝐖𝐉 of the latest Jacobian evaluation as an n×n row-major slice.
func (c *CurveModel) Hessian() []float64 { return c.h }

// Covariance returns the n×n row-major estimate of the latest EvaluateCovariance.
func (c *CurveModel) Covariance() []float64 { return c.cov }

// SupportsJacobian reports whether analytic derivatives are available.
func (c *CurveModel) SupportsJacobian() bool { return c.grad != nil }

// FunctionEvaluations returns the function evaluation count since Reset.
func (c *CurveModel) FunctionEvaluations() int { return c.numFunc }

// JacobianEvaluations returns the Jacobian evaluation count since Reset.
func (c *CurveModel) JacobianEvaluations() int { return c.numJacob }
