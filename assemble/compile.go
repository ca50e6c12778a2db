// Package assemble compiles variational form specifications into numerical
// kernels over precomputed basis-derivative tables and evaluates them:
// single entries restricted to overlapping supports, batched entry queries,
// dense load-vector traversals and parallel sparse matrix assembly.
package assemble

import (
	"fmt"

	"github.com/gdrealm/igakernel/vform"
)

// maxDim is the highest supported spatial dimension.
const maxDim = 3

// point is the per-quadrature-point evaluation state threaded through the
// lowered expression closures. One instance lives on the stack of each
// entry computation, so concurrent entry calls never share scratch state.
type point struct {
	// flat is the absolute row-major index into the quadrature grid.
	flat int
	// li are the local per-axis indices within the current sub-box.
	li [maxDim]int
	// rows are the per-axis derivative-table row slices for the trial (0)
	// and test (1) basis functions, offset to the sub-box start.
	rows [2][maxDim][]float64
	// locals holds the current values of per-point local fields.
	locals []float64
}

// evalFunc evaluates one lowered scalar expression at a quadrature point.
type evalFunc func(p *point) float64

type compiledTerm struct {
	slot int
	eval evalFunc
}

type compiledLocal struct {
	off  int
	eval evalFunc
}

// kernel is a compiled combine routine: a D-nested loop over a quadrature
// sub-box evaluating local fields and accumulation terms at every point.
type kernel struct {
	dim       int
	nslots    int
	numLocals int
	locals    []compiledLocal
	terms     []compiledTerm
	grid      [maxDim]int // quadrature grid points per axis
	combine   func(k *kernel, sta, end *[maxDim]int, p *point, out []float64)
}

// compiler lowers vform expressions against one assembler's field storage.
type compiler struct {
	a        *Assembler
	localOff map[*vform.Field]int
	// referenced collects the global fields the combine kernel reads, so
	// that geometry source arrays used only during precompute can be
	// released afterwards. markRefs is off while lowering precompute
	// expressions.
	referenced map[*vform.Field]bool
	markRefs   bool
}

func newCompiler(a *Assembler) *compiler {
	return &compiler{
		a:          a,
		localOff:   make(map[*vform.Field]int),
		referenced: make(map[*vform.Field]bool),
	}
}

// lower turns a scalar expression into an evaluation closure. Aggregate
// nodes never reach here: they are resolved componentwise through
// vform.Component before lowering.
func (c *compiler) lower(e vform.Expr) evalFunc {
	switch n := e.(type) {
	case vform.Literal:
		v := n.Value
		return func(*point) float64 { return v }
	case *vform.BinOp:
		x, y := c.lower(n.X), c.lower(n.Y)
		switch n.Op {
		case vform.OpAdd:
			return func(p *point) float64 { return x(p) + y(p) }
		case vform.OpSub:
			return func(p *point) float64 { return x(p) - y(p) }
		case vform.OpMul:
			return func(p *point) float64 { return x(p) * y(p) }
		case vform.OpDiv:
			return func(p *point) float64 { return x(p) / y(p) }
		}
		panic(fmt.Sprintf("assemble: unknown binary op %d", n.Op))
	case *vform.IndexExpr:
		return c.lower(vform.Component(n.V, n.K, -1))
	case *vform.FieldExpr:
		if !n.F.Shape.IsScalar() {
			panic(fmt.Sprintf("assemble: non-scalar field %q reached lowering", n.F.Name))
		}
		return c.fieldRead(n.F, 0)
	case *vform.FieldEntry:
		return c.fieldRead(n.F, n.F.CompIndex(n.I, n.J))
	case *vform.PartialDeriv:
		return c.basisRead(n)
	}
	panic(fmt.Sprintf("assemble: cannot lower %T", e))
}

// fieldRead loads one stored component of a field at the current point.
func (c *compiler) fieldRead(f *vform.Field, comp int) evalFunc {
	if !f.Global {
		off, ok := c.localOff[f]
		if !ok {
			panic(fmt.Sprintf("assemble: local field %q read before definition", f.Name))
		}
		idx := off + comp
		return func(p *point) float64 { return p.locals[idx] }
	}
	arr, ok := c.a.fields[f]
	if !ok {
		panic(fmt.Sprintf("assemble: field %q has no storage", f.Name))
	}
	if c.markRefs {
		c.referenced[f] = true
	}
	data := arr.data
	nc := arr.ncomps
	return func(p *point) float64 { return data[p.flat*nc+comp] }
}

// basisRead produces the tensor-product partial derivative of a basis
// function: the product across axes of the per-axis 1D derivative-table
// entries. The closures are specialized per dimension so the inner loop
// stays monomorphic.
func (c *compiler) basisRead(pd *vform.PartialDeriv) evalFunc {
	b := c.a.basisIndex(pd.B)
	s := c.a.maxDeriv + 1
	switch c.a.dim {
	case 2:
		d0, d1 := pd.D[0], pd.D[1]
		return func(p *point) float64 {
			return p.rows[b][0][p.li[0]*s+d0] * p.rows[b][1][p.li[1]*s+d1]
		}
	case 3:
		d0, d1, d2 := pd.D[0], pd.D[1], pd.D[2]
		return func(p *point) float64 {
			return p.rows[b][0][p.li[0]*s+d0] *
				p.rows[b][1][p.li[1]*s+d1] *
				p.rows[b][2][p.li[2]*s+d2]
		}
	}
	panic(fmt.Sprintf("assemble: unsupported dimension %d", c.a.dim))
}

// compileKernel lowers the form's local fields and accumulation terms into
// a combine kernel specialized for the assembler's dimension.
func (c *compiler) compileKernel() *kernel {
	c.markRefs = true
	defer func() { c.markRefs = false }()
	form := c.a.form
	k := &kernel{
		dim:    c.a.dim,
		nslots: form.NumSlots(),
	}
	for ax := 0; ax < c.a.dim; ax++ {
		k.grid[ax] = c.a.gridN[ax]
	}

	// Per-point local fields, in registration order. Offsets are assigned
	// up front so locals may reference locals defined before them.
	for _, f := range form.Fields() {
		if f.Global {
			continue
		}
		c.localOff[f] = k.numLocals
		k.numLocals += f.NumComps()
	}
	for _, f := range form.Fields() {
		if f.Global {
			continue
		}
		off := c.localOff[f]
		for comp := 0; comp < f.NumComps(); comp++ {
			i, j := f.CompAt(comp)
			k.locals = append(k.locals, compiledLocal{
				off:  off + comp,
				eval: c.lower(vform.Component(f.Expr, i, j)),
			})
		}
	}

	for _, t := range form.Terms() {
		k.terms = append(k.terms, compiledTerm{slot: t.Slot, eval: c.lower(t.Expr)})
	}

	switch c.a.dim {
	case 2:
		k.combine = combine2
	case 3:
		k.combine = combine3
	}
	return k
}

func combine2(k *kernel, sta, end *[maxDim]int, p *point, out []float64) {
	n0 := end[0] - sta[0]
	n1 := end[1] - sta[1]
	for i0 := 0; i0 < n0; i0++ {
		p.li[0] = i0
		base := (sta[0] + i0) * k.grid[1]
		for i1 := 0; i1 < n1; i1++ {
			p.li[1] = i1
			p.flat = base + sta[1] + i1
			for _, l := range k.locals {
				p.locals[l.off] = l.eval(p)
			}
			for _, t := range k.terms {
				out[t.slot] += t.eval(p)
			}
		}
	}
}

func combine3(k *kernel, sta, end *[maxDim]int, p *point, out []float64) {
	n0 := end[0] - sta[0]
	n1 := end[1] - sta[1]
	n2 := end[2] - sta[2]
	for i0 := 0; i0 < n0; i0++ {
		p.li[0] = i0
		base0 := (sta[0] + i0) * k.grid[1]
		for i1 := 0; i1 < n1; i1++ {
			p.li[1] = i1
			base1 := (base0 + sta[1] + i1) * k.grid[2]
			for i2 := 0; i2 < n2; i2++ {
				p.li[2] = i2
				p.flat = base1 + sta[2] + i2
				for _, l := range k.locals {
					p.locals[l.off] = l.eval(p)
				}
				for _, t := range k.terms {
					out[t.slot] += t.eval(p)
				}
			}
		}
	}
}

// precompute evaluates a global custom field over the whole quadrature
// grid. Basis-function derivatives and local fields are meaningless
// outside the combine kernel and are rejected here.
func (c *compiler) precompute(f *vform.Field) {
	vform.Walk(f.Expr, func(e vform.Expr) {
		switch n := e.(type) {
		case *vform.PartialDeriv:
			panic(fmt.Sprintf("assemble: precomputed field %q references a basis function", f.Name))
		case *vform.FieldExpr:
			if !n.F.Global {
				panic(fmt.Sprintf("assemble: precomputed field %q references local field %q", f.Name, n.F.Name))
			}
		case *vform.FieldEntry:
			if !n.F.Global {
				panic(fmt.Sprintf("assemble: precomputed field %q references local field %q", f.Name, n.F.Name))
			}
		}
	})

	arr := c.a.fields[f]
	nc := arr.ncomps
	evals := make([]evalFunc, nc)
	for comp := 0; comp < nc; comp++ {
		i, j := f.CompAt(comp)
		evals[comp] = c.lower(vform.Component(f.Expr, i, j))
	}
	var p point
	for t := 0; t < c.a.gridLen; t++ {
		p.flat = t
		for comp, ev := range evals {
			arr.data[t*nc+comp] = ev(&p)
		}
	}
}
