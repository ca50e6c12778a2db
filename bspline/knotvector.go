// Package bspline provides 1D B-spline bases over open knot vectors: degree
// and dof queries, the mesh-support tables the assembly drivers intersect,
// and derivative collocation tables for tensor-product kernels.
package bspline

import (
	"fmt"
	"sort"
)

// KnotVector is an open (clamped) knot vector of degree p. It is immutable
// after construction.
type KnotVector struct {
	p     int
	knots []float64
	mesh  []float64 // unique knot values (breakpoints)
}

// New creates a knot vector of degree p. The knots must be nondecreasing
// and long enough to carry at least one basis function.
func New(p int, knots []float64) (*KnotVector, error) {
	if p < 0 {
		return nil, fmt.Errorf("bspline: negative degree %d", p)
	}
	if len(knots) < 2*(p+1) {
		return nil, fmt.Errorf("bspline: %d knots is too few for degree %d", len(knots), p)
	}
	for i := 1; i < len(knots); i++ {
		if knots[i] < knots[i-1] {
			return nil, fmt.Errorf("bspline: knots not nondecreasing at position %d", i)
		}
	}
	kv := &KnotVector{p: p, knots: append([]float64(nil), knots...)}
	kv.mesh = uniqueSorted(kv.knots)
	return kv, nil
}

// NewUniform creates a clamped uniform knot vector of degree p with ncells
// equal mesh cells on [0,1].
func NewUniform(p, ncells int) *KnotVector {
	if p < 0 || ncells < 1 {
		panic(fmt.Sprintf("bspline: invalid degree %d or cell count %d", p, ncells))
	}
	knots := make([]float64, 0, 2*(p+1)+ncells-1)
	for i := 0; i <= p; i++ {
		knots = append(knots, 0)
	}
	for i := 1; i < ncells; i++ {
		knots = append(knots, float64(i)/float64(ncells))
	}
	for i := 0; i <= p; i++ {
		knots = append(knots, 1)
	}
	kv, err := New(p, knots)
	if err != nil {
		panic(err)
	}
	return kv
}

func uniqueSorted(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for i, x := range xs {
		if i == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// Degree returns the polynomial degree p.
func (kv *KnotVector) Degree() int { return kv.p }

// NumDofs returns the number of basis functions.
func (kv *KnotVector) NumDofs() int { return len(kv.knots) - kv.p - 1 }

// Mesh returns the breakpoints (unique knot values) of the underlying mesh.
func (kv *KnotVector) Mesh() []float64 { return kv.mesh }

// NumCells returns the number of nonempty mesh cells.
func (kv *KnotVector) NumCells() int { return len(kv.mesh) - 1 }

// Domain returns the parametric interval spanned by the basis.
func (kv *KnotVector) Domain() (lo, hi float64) {
	return kv.knots[kv.p], kv.knots[len(kv.knots)-kv.p-1]
}

// meshIndex returns the index of value x within the breakpoint sequence.
func (kv *KnotVector) meshIndex(x float64) int {
	i := sort.SearchFloat64s(kv.mesh, x)
	if i == len(kv.mesh) || kv.mesh[i] != x {
		panic(fmt.Sprintf("bspline: knot %v is not a breakpoint", x))
	}
	return i
}

// MeshSupport returns, for every basis function, the half-open interval
// [a,b) of mesh-cell indices on which it is nonzero. The table is sorted
// in both columns, which is what the support-intersection entry routines
// rely on.
func (kv *KnotVector) MeshSupport() [][2]int {
	n := kv.NumDofs()
	supp := make([][2]int, n)
	for i := 0; i < n; i++ {
		supp[i] = [2]int{
			kv.meshIndex(kv.knots[i]),
			kv.meshIndex(kv.knots[i+kv.p+1]),
		}
	}
	return supp
}

// JointSupport returns the contiguous half-open range [lo,hi) of basis
// function indices whose mesh support intersects that of basis function i.
func JointSupport(supp [][2]int, i int) (lo, hi int) {
	lo = i
	for lo > 0 && supp[lo-1][1] > supp[i][0] {
		lo--
	}
	hi = i + 1
	for hi < len(supp) && supp[hi][0] < supp[i][1] {
		hi++
	}
	return lo, hi
}

// FindSpan returns the knot span index mu with knots[mu] <= x < knots[mu+1],
// clamped so that the span always carries p+1 nonzero basis functions.
func (kv *KnotVector) FindSpan(x float64) int {
	lo := kv.p
	hi := len(kv.knots) - kv.p - 2
	if x >= kv.knots[hi+1] {
		return hi
	}
	if x <= kv.knots[lo] {
		return lo
	}
	// binary search over the interior spans
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case x < kv.knots[mid]:
			hi = mid - 1
		case x >= kv.knots[mid+1]:
			lo = mid + 1
		default:
			return mid
		}
	}
	return lo
}
