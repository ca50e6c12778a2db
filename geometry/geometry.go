// Package geometry provides the geometry maps that carry a parametric
// tensor-product domain into physical space. The assembler only ever needs
// the Jacobian of the map evaluated over the quadrature grid; determinants
// and inverses are derived from it pointwise.
package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Map is a geometry map from the D-dimensional parametric domain into
// physical space.
type Map interface {
	// Dim returns the parametric (and physical) dimension.
	Dim() int
	// Jacobian writes the D×D Jacobian ∂x/∂ξ at parametric point xi into
	// jac, row-major.
	Jacobian(xi []float64, jac []float64)
}

// Identity is the identity map on the parametric domain.
type Identity struct {
	D int
}

func (m Identity) Dim() int { return m.D }

func (m Identity) Jacobian(xi []float64, jac []float64) {
	for i := range jac {
		jac[i] = 0
	}
	for k := 0; k < m.D; k++ {
		jac[k*m.D+k] = 1
	}
}

// Affine maps each axis independently: x_k = Scale[k]*xi_k + Shift[k].
type Affine struct {
	Scale []float64
	Shift []float64
}

func (m Affine) Dim() int { return len(m.Scale) }

func (m Affine) Jacobian(xi []float64, jac []float64) {
	d := len(m.Scale)
	for i := range jac {
		jac[i] = 0
	}
	for k := 0; k < d; k++ {
		jac[k*d+k] = m.Scale[k]
	}
}

// FuncMap wraps an arbitrary Jacobian callback, mainly for tests of
// non-affine geometries.
type FuncMap struct {
	D   int
	Jac func(xi []float64, jac []float64)
}

func (m FuncMap) Dim() int                             { return m.D }
func (m FuncMap) Jacobian(xi []float64, jac []float64) { m.Jac(xi, jac) }

// GridJacobian evaluates the Jacobian of m at every point of the tensor
// grid spanned by the per-axis node sets, row-major with the last axis
// varying fastest, and returns a flat array of D×D blocks.
func GridJacobian(m Map, grid [][]float64) []float64 {
	d := m.Dim()
	total := 1
	for _, g := range grid {
		total *= len(g)
	}
	out := make([]float64, total*d*d)
	xi := make([]float64, d)
	idx := make([]int, d)
	for t := 0; t < total; t++ {
		decode(t, grid, idx)
		for k := 0; k < d; k++ {
			xi[k] = grid[k][idx[k]]
		}
		m.Jacobian(xi, out[t*d*d:(t+1)*d*d])
	}
	return out
}

// decode splits a flat row-major grid index into per-axis indices, last
// axis fastest.
func decode(t int, grid [][]float64, idx []int) {
	for k := len(grid) - 1; k >= 1; k-- {
		n := len(grid[k])
		idx[k] = t % n
		t /= n
	}
	idx[0] = t
}

// DetInv computes the determinant and inverse of every D×D block of a flat
// Jacobian array. Either output may be nil if not needed.
func DetInv(jac []float64, d int, det []float64, inv []float64) error {
	n := len(jac) / (d * d)
	var vi mat.Dense
	for t := 0; t < n; t++ {
		m := mat.NewDense(d, d, jac[t*d*d:(t+1)*d*d])
		if det != nil {
			det[t] = mat.Det(m)
		}
		if inv != nil {
			if err := vi.Inverse(m); err != nil {
				return fmt.Errorf("geometry: singular Jacobian at grid point %d: %w", t, err)
			}
			copy(inv[t*d*d:(t+1)*d*d], vi.RawMatrix().Data)
		}
	}
	return nil
}
