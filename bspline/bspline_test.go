package bspline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformKnotVector(t *testing.T) {
	kv := NewUniform(3, 4)
	assert.Equal(t, 3, kv.Degree())
	assert.Equal(t, 7, kv.NumDofs()) // ncells + p
	assert.Equal(t, 4, kv.NumCells())
	lo, hi := kv.Domain()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, kv.Mesh())
}

func TestNewValidation(t *testing.T) {
	_, err := New(-1, []float64{0, 1})
	assert.Error(t, err)
	_, err = New(2, []float64{0, 0, 0, 1, 1, 1})
	assert.NoError(t, err)
	_, err = New(2, []float64{0, 0, 1, 1})
	assert.Error(t, err, "too few knots for degree 2")
	_, err = New(1, []float64{0, 0, 1, 0.5, 1, 1})
	assert.Error(t, err, "decreasing knots")
}

func TestPartitionOfUnity(t *testing.T) {
	kv := NewUniform(3, 5)
	points := []float64{0, 0.11, 0.3, 0.5, 0.77, 0.99, 1}
	tab := CollocationDerivs(kv, points, 1)
	for g := range points {
		sum, dsum := 0.0, 0.0
		for i := 0; i < kv.NumDofs(); i++ {
			sum += tab.At(i, g, 0)
			dsum += tab.At(i, g, 1)
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "point %v", points[g])
		assert.InDelta(t, 0.0, dsum, 1e-10, "point %v", points[g])
	}
}

func TestDerivativeMatchesFiniteDifference(t *testing.T) {
	kv := NewUniform(3, 4)
	const h = 1e-6
	for _, x := range []float64{0.1, 0.37, 0.62, 0.9} {
		lo := CollocationDerivs(kv, []float64{x - h}, 0)
		hi := CollocationDerivs(kv, []float64{x + h}, 0)
		d := CollocationDerivs(kv, []float64{x}, 1)
		for i := 0; i < kv.NumDofs(); i++ {
			fd := (hi.At(i, 0, 0) - lo.At(i, 0, 0)) / (2 * h)
			assert.InDelta(t, fd, d.At(i, 0, 1), 1e-5, "basis %d at %v", i, x)
		}
	}
}

func TestSecondDerivative(t *testing.T) {
	// For p=2 on a single cell [0,1], the middle basis function is
	// 2x(1-x) with constant second derivative -4.
	kv, err := New(2, []float64{0, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	tab := CollocationDerivs(kv, []float64{0.25, 0.5, 0.75}, 2)
	for g := 0; g < 3; g++ {
		assert.InDelta(t, -4.0, tab.At(1, g, 2), 1e-12)
	}
	// derivatives above the degree vanish identically
	tab3 := CollocationDerivs(kv, []float64{0.5}, 3)
	for i := 0; i < kv.NumDofs(); i++ {
		assert.Equal(t, 0.0, tab3.At(i, 0, 3))
	}
}

func TestMeshSupport(t *testing.T) {
	kv := NewUniform(2, 4)
	supp := kv.MeshSupport()
	require.Len(t, supp, kv.NumDofs())

	// clamped ends: first and last functions live on one cell sides
	assert.Equal(t, [2]int{0, 1}, supp[0])
	assert.Equal(t, [2]int{3, 4}, supp[len(supp)-1])

	// support never exceeds p+1 cells and both columns are sorted
	for i, s := range supp {
		assert.LessOrEqual(t, s[1]-s[0], kv.Degree()+1, "basis %d", i)
		if i > 0 {
			assert.LessOrEqual(t, supp[i-1][0], s[0])
			assert.LessOrEqual(t, supp[i-1][1], s[1])
		}
	}

	// basis values vanish outside the declared support
	mesh := kv.Mesh()
	tab := CollocationDerivs(kv, []float64{0.95}, 0)
	for i, s := range supp {
		x := 0.95
		inside := x >= mesh[s[0]] && x <= mesh[s[1]]
		if !inside {
			assert.Equal(t, 0.0, tab.At(i, 0, 0), "basis %d", i)
		}
	}
}

func TestJointSupport(t *testing.T) {
	kv := NewUniform(2, 5)
	supp := kv.MeshSupport()
	for i := range supp {
		lo, hi := JointSupport(supp, i)
		for j := range supp {
			overlaps := supp[j][0] < supp[i][1] && supp[i][0] < supp[j][1]
			in := j >= lo && j < hi
			assert.Equal(t, overlaps, in, "i=%d j=%d", i, j)
		}
	}
}

func TestFindSpan(t *testing.T) {
	kv := NewUniform(2, 4)
	for _, x := range []float64{0, 0.1, 0.25, 0.5, 0.99, 1} {
		span := kv.FindSpan(x)
		assert.GreaterOrEqual(t, span, kv.Degree())
		assert.LessOrEqual(t, span, len(kv.knots)-kv.Degree()-2)
		if x < 1 {
			assert.True(t, kv.knots[span] <= x && x < kv.knots[span+1],
				"x=%v span=%d", x, span)
		}
	}
}

func TestCollocationMatrixInterpolates(t *testing.T) {
	kv := NewUniform(1, 3)
	// degree 1: basis i peaks at the i-th breakpoint extended mesh
	pts := []float64{0, 1. / 3, 2. / 3, 1}
	m := CollocationMatrix(kv, pts)
	r, c := m.Dims()
	assert.Equal(t, kv.NumDofs(), r)
	assert.Equal(t, len(pts), c)
	for i := 0; i < r; i++ {
		for g := 0; g < c; g++ {
			want := 0.0
			if i == g {
				want = 1.0
			}
			assert.InDelta(t, want, m.At(i, g), 1e-12)
		}
	}
}

func TestDersBasisFunsSumAndSymmetry(t *testing.T) {
	kv := NewUniform(4, 6)
	x := 0.42
	span := kv.FindSpan(x)
	ders := kv.DersBasisFuns(span, x, 2)
	sum := 0.0
	for r := 0; r <= kv.Degree(); r++ {
		sum += ders[0][r]
		assert.False(t, math.IsNaN(ders[2][r]))
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}
