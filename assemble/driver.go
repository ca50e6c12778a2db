package assemble

import (
	"fmt"
	"sort"
	"sync"

	"github.com/james-bowman/sparse"

	"github.com/gdrealm/igakernel/pool"
)

// Source computes matrix contributions for (test, trial) multi-index pairs.
// *Assembler is the canonical implementation; the interface exists so that
// alternative runtimes can plug into the sparse driver.
type Source interface {
	Dim() int
	Arity() int
	NumDofsAxis(k int) int
	NumComponents() (trial, test int)
	NeighborRange(axis, i int) (lo, hi int)
	EntryMulti(I, J []int, out []float64)
}

// WorkerCloner is the opt-in escape hatch for Source implementations that
// are not safe to share across workers: CloneForWorker returns an
// independent instance sharing only immutable precomputed tables. Sources
// without this method are assumed immutable and shared directly.
type WorkerCloner interface {
	CloneForWorker() Source
}

func sourceForWorker(s Source) Source {
	if wc, ok := s.(WorkerCloner); ok {
		return wc.CloneForWorker()
	}
	return s
}

// oversubscribe is the number of assembly chunks handed to each worker;
// outer rows differ in neighbor count, so finer chunks balance better.
const oversubscribe = 4

// chunkTriples is one worker's share of COO output.
type chunkTriples struct {
	rows, cols []int
	vals       []float64
}

// AssembleMatrix builds the sparse matrix of an arity-2 form with the
// dense-neighbor strategy: for every test dof, enumerate the trial dofs
// with overlapping support on every axis and compute their entries. In
// symmetric mode only pairs with trial index at or below the test index in
// the canonical lexicographic order are computed; every off-diagonal entry
// is mirrored. The axis-0 dof range is distributed over the pool in
// contiguous chunks, each worker owning a disjoint slice of the output.
func AssembleMatrix(src Source, p *pool.Pool, symmetric bool) (*sparse.CSR, error) {
	if src.Arity() != 2 {
		return nil, fmt.Errorf("assemble: matrix assembly requires an arity-2 form")
	}
	dim := src.Dim()
	ncTrial, ncTest := src.NumComponents()
	if symmetric && ncTrial != ncTest {
		return nil, fmt.Errorf("assemble: symmetric assembly requires equal component counts, got (%d,%d)", ncTrial, ncTest)
	}
	var ndofs [maxDim]int
	total := 1
	for k := 0; k < dim; k++ {
		ndofs[k] = src.NumDofsAxis(k)
		total *= ndofs[k]
	}
	toSeq := func(I []int) int {
		s := I[0]
		for k := 1; k < dim; k++ {
			s = s*ndofs[k] + I[k]
		}
		return s
	}

	if p == nil {
		p = pool.New(1)
	}
	var mu sync.Mutex
	results := make(map[int]chunkTriples)

	err := p.MapOversubscribed(ndofs[0], oversubscribe, func(c pool.Range) error {
		s := sourceForWorker(src)
		out := make([]float64, ncTrial*ncTest)
		var res chunkTriples

		var i, j, iSta, iEnd, jSta, jEnd [maxDim]int
		iSta[0], iEnd[0] = c.Start, c.End
		for k := 1; k < dim; k++ {
			iEnd[k] = ndofs[k]
		}
		copy(i[:], iSta[:])
		for { // loop over all test dofs i in this chunk
			ii := toSeq(i[:dim])
			for k := 0; k < dim; k++ {
				jSta[k], jEnd[k] = s.NeighborRange(k, i[k])
				j[k] = jSta[k]
			}
			for { // loop j over all support neighbors of i
				jj := toSeq(j[:dim])
				if !symmetric || jj <= ii {
					for n := range out {
						out[n] = 0
					}
					s.EntryMulti(i[:dim], j[:dim], out)
					for r := 0; r < ncTest; r++ {
						for cc := 0; cc < ncTrial; cc++ {
							v := out[r*ncTrial+cc]
							res.rows = append(res.rows, ii*ncTest+r)
							res.cols = append(res.cols, jj*ncTrial+cc)
							res.vals = append(res.vals, v)
							if symmetric && ii != jj {
								res.rows = append(res.rows, jj*ncTest+cc)
								res.cols = append(res.cols, ii*ncTrial+r)
								res.vals = append(res.vals, v)
							}
						}
					}
				}
				if !nextLexicographic(j[:dim], jSta[:dim], jEnd[:dim]) {
					break
				}
			}
			if !nextLexicographic(i[:dim], iSta[:dim], iEnd[:dim]) {
				break
			}
		}
		mu.Lock()
		results[c.Start] = res
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	// concatenate chunk triples by chunk start so the triple order is
	// independent of worker scheduling
	starts := make([]int, 0, len(results))
	nnz := 0
	for s, r := range results {
		starts = append(starts, s)
		nnz += len(r.vals)
	}
	sort.Ints(starts)
	rows := make([]int, 0, nnz)
	cols := make([]int, 0, nnz)
	vals := make([]float64, 0, nnz)
	for _, s := range starts {
		r := results[s]
		rows = append(rows, r.rows...)
		cols = append(cols, r.cols...)
		vals = append(vals, r.vals...)
	}
	coo := sparse.NewCOO(total*ncTest, total*ncTrial, rows, cols, vals)
	return coo.ToCSR(), nil
}
