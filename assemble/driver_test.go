package assemble

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gdrealm/igakernel/pool"
	"github.com/gdrealm/igakernel/vform"
)

// denseOf materializes a sparse result as a flat row-major array.
func denseOf(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[i*c+j] = m.At(i, j)
		}
	}
	return out
}

// denseReference assembles the full matrix of an arity-2 source through
// EntryMulti alone, one pair at a time, with the component-interleaved
// layout the sparse driver uses.
func denseReference(src Source) []float64 {
	dim := src.Dim()
	ncTrial, ncTest := src.NumComponents()
	total := 1
	for k := 0; k < dim; k++ {
		total *= src.NumDofsAxis(k)
	}
	out := make([]float64, total*ncTest*total*ncTrial)
	slots := make([]float64, ncTrial*ncTest)
	var I, J, zero, end [maxDim]int
	for k := 0; k < dim; k++ {
		end[k] = src.NumDofsAxis(k)
	}
	ii := 0
	for {
		copy(J[:], zero[:])
		jj := 0
		for {
			for n := range slots {
				slots[n] = 0
			}
			src.EntryMulti(I[:dim], J[:dim], slots)
			for r := 0; r < ncTest; r++ {
				for c := 0; c < ncTrial; c++ {
					out[(ii*ncTest+r)*total*ncTrial+jj*ncTrial+c] = slots[r*ncTrial+c]
				}
			}
			jj++
			if !nextLexicographic(J[:dim], zero[:dim], end[:dim]) {
				break
			}
		}
		ii++
		if !nextLexicographic(I[:dim], zero[:dim], end[:dim]) {
			break
		}
	}
	return out
}

func TestAssembleMatrixMatchesEntries(t *testing.T) {
	a := newAssembler(t, vform.Mass(2), 2, 4, nil)
	m, err := AssembleMatrix(a, pool.New(1), false)
	require.NoError(t, err)
	r, c := m.Dims()
	n := a.NumDofs()
	require.Equal(t, n, r)
	require.Equal(t, n, c)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.InDelta(t, a.Entry(i, j), m.At(i, j), 1e-14, "entry (%d,%d)", i, j)
		}
	}
}

func TestAssembleMatrixWorkerInvariance(t *testing.T) {
	for _, form := range []*vform.Form{vform.Mass(2), vform.Stiffness(2), vform.Heat(2)} {
		a := newAssembler(t, form, 2, 5, nil)
		one, err := AssembleMatrix(a, pool.New(1), false)
		require.NoError(t, err)
		many, err := AssembleMatrix(a, pool.New(7), false)
		require.NoError(t, err)
		assert.True(t, floats.Equal(denseOf(one), denseOf(many)),
			"%s: worker count changed the assembled matrix", form.Name)
	}
}

func TestAssembleMatrixSymmetricMode(t *testing.T) {
	for _, form := range []*vform.Form{vform.Mass(2), vform.Stiffness(2)} {
		a := newAssembler(t, form, 2, 4, nil)
		full, err := AssembleMatrix(a, pool.New(3), false)
		require.NoError(t, err)
		half, err := AssembleMatrix(a, pool.New(3), true)
		require.NoError(t, err)
		df, dh := denseOf(full), denseOf(half)
		require.Len(t, dh, len(df))
		for n := range df {
			assert.InDelta(t, df[n], dh[n], 1e-13, "%s flat index %d", form.Name, n)
		}
	}
}

func TestAssembleMatrix3D(t *testing.T) {
	a := newAssembler(t, vform.Mass(3), 1, 2, nil)
	m, err := AssembleMatrix(a, pool.New(2), true)
	require.NoError(t, err)
	want := denseReference(a)
	got := denseOf(m)
	require.Len(t, got, len(want))
	for n := range want {
		assert.InDelta(t, want[n], got[n], 1e-13, "flat index %d", n)
	}
}

func TestAssembleMatrixDivDiv(t *testing.T) {
	a := newAssembler(t, vform.DivDiv(2), 2, 3, nil)
	n := a.NumDofs()
	m, err := AssembleMatrix(a, pool.New(2), false)
	require.NoError(t, err)
	r, c := m.Dims()
	require.Equal(t, 2*n, r)
	require.Equal(t, 2*n, c)

	want := denseReference(a)
	got := denseOf(m)
	for idx := range want {
		assert.InDelta(t, want[idx], got[idx], 1e-13, "flat index %d", idx)
	}

	// the div-div operator is symmetric through the component transpose
	symm, err := AssembleMatrix(a, pool.New(2), true)
	require.NoError(t, err)
	ds := denseOf(symm)
	for idx := range want {
		assert.InDelta(t, want[idx], ds[idx], 1e-13, "symmetric flat index %d", idx)
	}
}

func TestAssembleMatrixNilPool(t *testing.T) {
	a := newAssembler(t, vform.Mass(2), 2, 3, nil)
	m, err := AssembleMatrix(a, nil, false)
	require.NoError(t, err)
	assert.InDelta(t, a.Entry(0, 0), m.At(0, 0), 1e-14)
}

func TestAssembleMatrixErrors(t *testing.T) {
	src := newAssembler(t, vform.Source(2), 2, 3, nil)
	_, err := AssembleMatrix(src, nil, false)
	assert.Error(t, err, "arity-1 form")

	_, err = AssembleMatrix(&stubSource{ncTrial: 2, ncTest: 1}, nil, true)
	assert.Error(t, err, "symmetric with unequal component counts")
}

// stubSource is a minimal Source over a 2×2 dof grid with constant entries.
type stubSource struct {
	ncTrial, ncTest int

	mu     sync.Mutex
	clones int
}

func (s *stubSource) Dim() int                        { return 2 }
func (s *stubSource) Arity() int                      { return 2 }
func (s *stubSource) NumDofsAxis(int) int             { return 2 }
func (s *stubSource) NumComponents() (int, int)       { return s.ncTrial, s.ncTest }
func (s *stubSource) NeighborRange(_, i int) (int, int) { return 0, 2 }

func (s *stubSource) EntryMulti(I, J []int, out []float64) {
	for n := range out {
		out[n] += 1
	}
}

func (s *stubSource) CloneForWorker() Source {
	s.mu.Lock()
	s.clones++
	s.mu.Unlock()
	return s
}

func TestAssembleMatrixClonesPerChunk(t *testing.T) {
	src := &stubSource{ncTrial: 1, ncTest: 1}
	m, err := AssembleMatrix(src, pool.New(2), false)
	require.NoError(t, err)
	assert.Equal(t, 2, src.clones, "one clone per dispatched chunk")
	d := denseOf(m)
	for n, v := range d {
		assert.Equal(t, 1.0, v, "flat index %d", n)
	}
}
