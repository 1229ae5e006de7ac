// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"math"
)

// dpofa factors a double precision symmetric positive definite matrix A = Rᵀ * R.
//
// Only the diagonal and upper triangle of a are used, with the element at
// row i and column j stored at a[i*lda+j]. On return the upper triangle
// holds R. The returned info is 0 for a normal return, or k when the leading
// minor of order k is not positive definite and the factorization is not
// complete.
func dpofa(a []float64, lda, n int) (info int) {
	if n > len(a) {
		panic("bound check error")
	}
	for j := 0; j < n; j++ {
		info = j + 1
		s := 0.0
		for k := 0; k < j; k++ {
			t := a[k*lda+j] - ddot(k, a[k:], lda, a[j:], lda)
			t /= a[k*lda+k]
			a[k*lda+j] = t
			s += t * t
		}
		s = a[j*lda+j] - s
		if s <= 0.0 || math.IsNaN(s) {
			return
		}
		a[j*lda+j] = math.Sqrt(s)
	}
	return 0
}

// dposl solves the symmetric positive definite system A * x = b
// using the factors computed by dpofa.
//
// The solution overwrites b. The contents of a are those of dpofa:
// an upper triangular R with A = Rᵀ * R, so the system is solved as
// Rᵀy = b followed by Rx = y.
func dposl(a []float64, lda, n int, b []float64) {
	if n > len(a) || n > len(b) {
		panic("bound check error")
	}
	for k := 0; k < n; k++ {
		t := ddot(k, a[k:], lda, b, 1)
		b[k] = (b[k] - t) / a[k*lda+k]
	}
	for k := n - 1; k >= 0; k-- {
		b[k] /= a[k*lda+k]
		daxpy(k, -b[k], a[k:], lda, b, 1)
	}
}
