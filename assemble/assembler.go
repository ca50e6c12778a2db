package assemble

import (
	"errors"
	"fmt"

	"github.com/gdrealm/igakernel/bspline"
	"github.com/gdrealm/igakernel/geometry"
	"github.com/gdrealm/igakernel/pool"
	"github.com/gdrealm/igakernel/quadrature"
	"github.com/gdrealm/igakernel/vform"
)

// ErrInvalidDimension is returned when the geometry map, knot vectors and
// form specification disagree on the spatial dimension, or when the
// dimension is outside the supported range.
var ErrInvalidDimension = errors.New("assemble: invalid dimension")

// IndexOutOfRangeError is the panic payload raised by explicit entry
// queries with out-of-range dof indices.
type IndexOutOfRangeError struct {
	Index, Limit int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("assemble: dof index %d out of range [0,%d)", e.Index, e.Limit)
}

// Config carries assembler construction options.
type Config struct {
	// NQP is the number of Gauss nodes per mesh cell and axis;
	// 0 defaults to the maximum degree plus one.
	NQP int
}

// fieldArray is the storage of one global field over the quadrature grid:
// gridLen points times ncomps stored components, row-major with the last
// grid axis fastest.
type fieldArray struct {
	f      *vform.Field
	data   []float64
	ncomps int
}

// Assembler evaluates a compiled form over a tensor-product spline basis.
// All tables are written once during construction and only read afterwards,
// so a single instance may be shared by any number of workers.
type Assembler struct {
	form  *vform.Form
	dim   int
	arity int
	nqp   int

	maxDeriv int
	kvs      []*bspline.KnotVector
	ndofs    [maxDim]int
	meshsupp [maxDim][][2]int
	tables   [maxDim]*bspline.DerivTable

	rules   []quadrature.Rule
	gridN   [maxDim]int
	gridLen int

	fields map[*vform.Field]*fieldArray
	kern   *kernel
}

// New builds an assembler for the given form over one knot vector per axis
// and a geometry map of matching dimension: it constructs the tensor
// quadrature grid, the basis derivative tables up to the form's required
// order, the geometry-derived field arrays, and the compiled combine and
// entry kernels.
func New(form *vform.Form, kvs []*bspline.KnotVector, geo geometry.Map, cfg Config) (*Assembler, error) {
	form.Finalize()
	dim := form.Dim
	if dim < 2 || dim > maxDim {
		return nil, fmt.Errorf("%w: dimension %d, supported are 2 and 3", ErrInvalidDimension, dim)
	}
	if len(kvs) != dim {
		return nil, fmt.Errorf("%w: form has dimension %d but %d knot vectors given", ErrInvalidDimension, dim, len(kvs))
	}
	if geo.Dim() != dim {
		return nil, fmt.Errorf("%w: geometry has dimension %d, assembler requires %d", ErrInvalidDimension, geo.Dim(), dim)
	}

	a := &Assembler{
		form:     form,
		dim:      dim,
		arity:    form.Arity,
		maxDeriv: form.MaxDeriv(),
		kvs:      kvs,
		fields:   make(map[*vform.Field]*fieldArray),
	}

	a.nqp = cfg.NQP
	if a.nqp == 0 {
		for _, kv := range kvs {
			if kv.Degree()+1 > a.nqp {
				a.nqp = kv.Degree() + 1
			}
		}
	}

	meshes := make([][]float64, dim)
	for k, kv := range kvs {
		a.ndofs[k] = kv.NumDofs()
		a.meshsupp[k] = kv.MeshSupport()
		meshes[k] = kv.Mesh()
	}
	rules, err := quadrature.Grid(meshes, a.nqp)
	if err != nil {
		return nil, err
	}
	a.rules = rules
	a.gridLen = 1
	for k := 0; k < dim; k++ {
		a.gridN[k] = len(rules[k].Nodes)
		a.gridLen *= a.gridN[k]
	}

	for k, kv := range kvs {
		a.tables[k] = bspline.CollocationDerivs(kv, rules[k].Nodes, a.maxDeriv)
	}

	if err := a.initFields(geo); err != nil {
		return nil, err
	}
	return a, nil
}

// initFields allocates storage for every global field, fills the
// geometry-sourced arrays, compiles the kernel, runs the precompute pass
// for expression-defined fields and releases arrays the kernel never reads.
func (a *Assembler) initFields(geo geometry.Map) error {
	var needJac, needDet, needInv bool
	for _, f := range a.form.Fields() {
		switch f.Kind {
		case vform.FieldWeight:
			needJac, needDet = true, true
		case vform.FieldJacobian:
			needJac = true
		case vform.FieldJacDet:
			needJac, needDet = true, true
		case vform.FieldJacInv:
			needJac, needInv = true, true
		}
	}

	var jac, det, inv []float64
	if needJac {
		grid := make([][]float64, a.dim)
		for k := 0; k < a.dim; k++ {
			grid[k] = a.rules[k].Nodes
		}
		jac = geometry.GridJacobian(geo, grid)
		if needDet {
			det = make([]float64, a.gridLen)
		}
		if needInv {
			inv = make([]float64, a.gridLen*a.dim*a.dim)
		}
		if err := geometry.DetInv(jac, a.dim, det, inv); err != nil {
			return err
		}
	}

	for _, f := range a.form.Fields() {
		if !f.Global {
			continue
		}
		arr := &fieldArray{f: f, ncomps: f.NumComps()}
		switch f.Kind {
		case vform.FieldJacobian:
			arr.data = jac
		case vform.FieldJacDet:
			arr.data = det
		case vform.FieldJacInv:
			arr.data = inv
		case vform.FieldWeight:
			arr.data = a.weightField(det)
		case vform.FieldCustom:
			arr.data = make([]float64, a.gridLen*arr.ncomps)
		}
		a.fields[f] = arr
	}

	comp := newCompiler(a)
	a.kern = comp.compileKernel()
	for _, f := range a.form.Fields() {
		if f.Global && f.Kind == vform.FieldCustom {
			comp.precompute(f)
		}
	}
	for f := range a.fields {
		if !comp.referenced[f] {
			delete(a.fields, f)
		}
	}
	return nil
}

// weightField builds the combined "Gauss weight × |det J|" array over the
// grid as the product of the per-axis rule weights and the determinant.
func (a *Assembler) weightField(det []float64) []float64 {
	w := make([]float64, a.gridLen)
	var idx [maxDim]int
	for t := 0; t < a.gridLen; t++ {
		a.decodeGrid(t, &idx)
		v := 1.0
		for k := 0; k < a.dim; k++ {
			v *= a.rules[k].Weights[idx[k]]
		}
		d := det[t]
		if d < 0 {
			d = -d
		}
		w[t] = v * d
	}
	return w
}

func (a *Assembler) decodeGrid(t int, idx *[maxDim]int) {
	for k := a.dim - 1; k >= 1; k-- {
		idx[k] = t % a.gridN[k]
		t /= a.gridN[k]
	}
	idx[0] = t
}

// basisIndex maps a basis function to its derivative-row slot: 0 for the
// trial function, 1 for the test function.
func (a *Assembler) basisIndex(b *vform.BasisFun) int {
	u, v := a.form.BasisFuns()
	switch b {
	case u:
		return 0
	case v:
		return 1
	}
	panic(fmt.Sprintf("assemble: foreign basis function %q", b.Name))
}

// Dim returns the spatial dimension.
func (a *Assembler) Dim() int { return a.dim }

// Arity returns 1 for load-vector forms and 2 for matrix forms.
func (a *Assembler) Arity() int { return a.arity }

// NumComponents returns the (trial, test) component counts of the form.
func (a *Assembler) NumComponents() (trial, test int) { return a.form.NumComponents() }

// NumDofsAxis returns the dof count along one axis.
func (a *Assembler) NumDofsAxis(k int) int { return a.ndofs[k] }

// NumDofs returns the total dof count across all axes.
func (a *Assembler) NumDofs() int {
	n := 1
	for k := 0; k < a.dim; k++ {
		n *= a.ndofs[k]
	}
	return n
}

// NeighborRange returns the contiguous range of 1D dof indices on the given
// axis whose mesh support overlaps that of dof i.
func (a *Assembler) NeighborRange(axis, i int) (lo, hi int) {
	return bspline.JointSupport(a.meshsupp[axis], i)
}

// toSeq linearizes a multi-index with the last axis varying fastest.
func (a *Assembler) toSeq(I []int) int {
	s := I[0]
	for k := 1; k < a.dim; k++ {
		s = s*a.ndofs[k] + I[k]
	}
	return s
}

// fromSeq splits a linear dof index into its multi-index. Out-of-range
// indices are a fatal programming error.
func (a *Assembler) fromSeq(i int, out []int) {
	if i < 0 || i >= a.NumDofs() {
		panic(&IndexOutOfRangeError{Index: i, Limit: a.NumDofs()})
	}
	for k := a.dim - 1; k >= 1; k-- {
		out[k] = i % a.ndofs[k]
		i /= a.ndofs[k]
	}
	out[0] = i
}

// entryImpl computes the contribution of the (test I, trial J) basis pair,
// restricted to the intersection of their supports, adding into out. J is
// nil for arity-1 forms. An empty support intersection on any axis leaves
// out untouched.
func (a *Assembler) entryImpl(I, J []int, out []float64) {
	var sta, end [maxDim]int
	var p point
	for k := 0; k < a.dim; k++ {
		si := a.meshsupp[k][I[k]]
		lo, hi := si[0], si[1]
		if J != nil {
			sj := a.meshsupp[k][J[k]]
			if sj[0] > lo {
				lo = sj[0]
			}
			if sj[1] < hi {
				hi = sj[1]
			}
			if lo >= hi {
				return // no intersection of support
			}
		}
		gs := a.nqp * lo
		sta[k] = gs
		end[k] = a.nqp * hi
		p.rows[1][k] = a.tables[k].Row(I[k], gs)
		if J != nil {
			p.rows[0][k] = a.tables[k].Row(J[k], gs)
		} else {
			p.rows[0][k] = p.rows[1][k]
		}
	}
	if n := a.kern.numLocals; n > 0 {
		var scratch [8]float64
		if n <= len(scratch) {
			p.locals = scratch[:n]
		} else {
			p.locals = make([]float64, n)
		}
	}
	a.kern.combine(a.kern, &sta, &end, &p, out)
}

// EntryMulti computes all output slots for the (test I, trial J) pair of
// multi-indices, adding into out (length NumSlots). J is ignored for
// arity-1 forms.
func (a *Assembler) EntryMulti(I, J []int, out []float64) {
	if a.arity == 1 {
		a.entryImpl(I, nil, out)
		return
	}
	a.entryImpl(I, J, out)
}

// slotBuf returns a zeroed output buffer covering every kernel slot,
// stack-backed for scalar forms.
func (a *Assembler) slotBuf(buf *[1]float64) []float64 {
	if ns := a.form.NumSlots(); ns > 1 {
		return make([]float64, ns)
	}
	return buf[:]
}

// Entry computes a single matrix entry of an arity-2 form from linear dof
// indices; multi-component forms yield slot 0, use EntryMulti for the full
// component block. Arity-1 forms return the neutral element.
func (a *Assembler) Entry(i, j int) float64 {
	if a.arity != 2 {
		return 0
	}
	var I, J [maxDim]int
	a.fromSeq(i, I[:a.dim])
	a.fromSeq(j, J[:a.dim])
	var buf [1]float64
	out := a.slotBuf(&buf)
	a.entryImpl(I[:a.dim], J[:a.dim], out)
	return out[0]
}

// Entry1 computes a single load-vector entry of an arity-1 form from a
// linear dof index; multi-component forms yield slot 0. Arity-2 forms
// return the neutral element.
func (a *Assembler) Entry1(i int) float64 {
	if a.arity != 1 {
		return 0
	}
	var I [maxDim]int
	a.fromSeq(i, I[:a.dim])
	var buf [1]float64
	out := a.slotBuf(&buf)
	a.entryImpl(I[:a.dim], nil, out)
	return out[0]
}

// multiEntriesThreshold is the pair count above which MultiEntries
// dispatches chunks to the worker pool instead of running serially.
const multiEntriesThreshold = 512

// MultiEntries computes the matrix entries for a batch of (test, trial)
// linear index pairs, in the order given. Small batches run serially;
// larger ones are split into one contiguous chunk per worker and the
// results reassembled in caller order.
func (a *Assembler) MultiEntries(p *pool.Pool, pairs [][2]int) ([]float64, error) {
	if a.arity != 2 {
		return nil, fmt.Errorf("assemble: MultiEntries requires an arity-2 form, %q has arity %d", a.form.Name, a.arity)
	}
	ns := a.form.NumSlots()
	out := make([]float64, len(pairs)*ns)
	chunk := func(src Source, c pool.Range) {
		var I, J [maxDim]int
		for n := c.Start; n < c.End; n++ {
			a.fromSeq(pairs[n][0], I[:a.dim])
			a.fromSeq(pairs[n][1], J[:a.dim])
			src.EntryMulti(I[:a.dim], J[:a.dim], out[n*ns:(n+1)*ns])
		}
	}
	if p == nil || p.Workers() <= 1 || len(pairs) < multiEntriesThreshold {
		chunk(a, pool.Range{Start: 0, End: len(pairs)})
		return out, nil
	}
	err := p.Map(len(pairs), func(c pool.Range) error {
		chunk(sourceForWorker(a), c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssembleVector produces the complete load vector of an arity-1 form by
// enumerating every multi-index in lexicographic order and writing entries
// contiguously (NumSlots values per dof for vector-valued forms). Returns
// nil for arity-2 forms.
func (a *Assembler) AssembleVector() []float64 {
	if a.arity != 1 {
		return nil
	}
	ns := a.form.NumSlots()
	out := make([]float64, a.NumDofs()*ns)
	var I, zero, end [maxDim]int
	for k := 0; k < a.dim; k++ {
		end[k] = a.ndofs[k]
	}
	pos := 0
	for {
		a.entryImpl(I[:a.dim], nil, out[pos:pos+ns])
		pos += ns
		if !nextLexicographic(I[:a.dim], zero[:a.dim], end[:a.dim]) {
			break
		}
	}
	return out
}

// nextLexicographic advances a multi-index in lexicographic order with
// carry: the last axis increments fastest, overflow carries into earlier
// axes. It reports false once idx has wrapped past the end.
func nextLexicographic(idx, start, end []int) bool {
	for k := len(idx) - 1; k >= 0; k-- {
		idx[k]++
		if idx[k] < end[k] {
			return true
		}
		idx[k] = start[k]
	}
	return false
}
