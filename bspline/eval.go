package bspline

import (
	"gonum.org/v1/gonum/mat"
)

// DerivTable holds the values and derivatives of every basis function of a
// 1D basis at a fixed set of evaluation points, laid out as a flat
// [NumDofs × NumPoints × (MaxDeriv+1)] row-major array. It is write-once at
// construction and safe to share across workers.
type DerivTable struct {
	Data      []float64
	NumDofs   int
	NumPoints int
	MaxDeriv  int
}

// Stride returns the number of stored derivative orders per point.
func (t *DerivTable) Stride() int { return t.MaxDeriv + 1 }

// Row returns the slice of table entries for basis function i starting at
// point g: element l*Stride()+d is the d-th derivative at point g+l.
func (t *DerivTable) Row(i, g int) []float64 {
	return t.Data[(i*t.NumPoints+g)*t.Stride():]
}

// At returns the d-th derivative of basis function i at point g.
func (t *DerivTable) At(i, g, d int) float64 {
	return t.Data[(i*t.NumPoints+g)*t.Stride()+d]
}

// DersBasisFuns evaluates the p+1 basis functions that are nonzero on the
// knot span containing x, together with their derivatives up to order n.
// ders[d][r] is the d-th derivative of basis function span-p+r.
// This is the standard derivative recurrence for B-splines; derivatives of
// order above the degree are exactly zero.
func (kv *KnotVector) DersBasisFuns(span int, x float64, n int) [][]float64 {
	p := kv.p
	U := kv.knots

	ders := make([][]float64, n+1)
	for d := range ders {
		ders[d] = make([]float64, p+1)
	}

	ndu := make([][]float64, p+1)
	for j := range ndu {
		ndu[j] = make([]float64, p+1)
	}
	left := make([]float64, p+1)
	right := make([]float64, p+1)

	ndu[0][0] = 1
	for j := 1; j <= p; j++ {
		left[j] = x - U[span+1-j]
		right[j] = U[span+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			ndu[j][r] = right[r+1] + left[j-r]
			temp := ndu[r][j-1] / ndu[j][r]
			ndu[r][j] = saved + right[r+1]*temp
			saved = left[j-r] * temp
		}
		ndu[j][j] = saved
	}
	for j := 0; j <= p; j++ {
		ders[0][j] = ndu[j][p]
	}

	nd := n
	if nd > p {
		nd = p
	}
	a := [2][]float64{make([]float64, p+1), make([]float64, p+1)}
	for r := 0; r <= p; r++ {
		s1, s2 := 0, 1
		a[0][0] = 1
		for k := 1; k <= nd; k++ {
			d := 0.0
			rk, pk := r-k, p-k
			if r >= k {
				a[s2][0] = a[s1][0] / ndu[pk+1][rk]
				d = a[s2][0] * ndu[rk][pk]
			}
			j1 := 1
			if rk < -1 {
				j1 = -rk
			}
			j2 := k - 1
			if r-1 > pk {
				j2 = p - r
			}
			for j := j1; j <= j2; j++ {
				a[s2][j] = (a[s1][j] - a[s1][j-1]) / ndu[pk+1][rk+j]
				d += a[s2][j] * ndu[rk+j][pk]
			}
			if r <= pk {
				a[s2][k] = -a[s1][k-1] / ndu[pk+1][r]
				d += a[s2][k] * ndu[r][pk]
			}
			ders[k][r] = d
			s1, s2 = s2, s1
		}
	}

	fac := float64(p)
	for k := 1; k <= nd; k++ {
		for j := 0; j <= p; j++ {
			ders[k][j] *= fac
		}
		fac *= float64(p - k)
	}
	return ders
}

// CollocationDerivs evaluates every basis function of kv at the given
// points with derivatives up to maxDeriv and returns the result as a
// DerivTable. Entries for basis functions whose support excludes a point
// are exactly zero.
func CollocationDerivs(kv *KnotVector, points []float64, maxDeriv int) *DerivTable {
	n := kv.NumDofs()
	stride := maxDeriv + 1
	t := &DerivTable{
		Data:      make([]float64, n*len(points)*stride),
		NumDofs:   n,
		NumPoints: len(points),
		MaxDeriv:  maxDeriv,
	}
	for g, x := range points {
		span := kv.FindSpan(x)
		ders := kv.DersBasisFuns(span, x, maxDeriv)
		for r := 0; r <= kv.p; r++ {
			i := span - kv.p + r
			base := (i*len(points) + g) * stride
			for d := 0; d <= maxDeriv; d++ {
				t.Data[base+d] = ders[d][r]
			}
		}
	}
	return t
}

// CollocationMatrix returns the dense NumDofs × len(points) matrix of basis
// function values at the given points.
func CollocationMatrix(kv *KnotVector, points []float64) *mat.Dense {
	t := CollocationDerivs(kv, points, 0)
	m := mat.NewDense(kv.NumDofs(), len(points), nil)
	for i := 0; i < kv.NumDofs(); i++ {
		for g := range points {
			m.Set(i, g, t.At(i, g, 0))
		}
	}
	return m
}
