package vform

import "fmt"

// Term is one accumulation of the form: at every quadrature point the
// scalar expression is evaluated and added into the output slot. Scalar
// forms use slot 0 only; vector-valued forms use slots
// 0..numTrialComp*numTestComp-1.
type Term struct {
	Slot int
	Expr Expr
}

// Form is a bilinear (arity 2) or linear (arity 1) form specification over
// a D-dimensional tensor-product basis. It owns the field registry and the
// accumulation expressions and is immutable once finalized.
type Form struct {
	Name  string
	Dim   int
	Arity int

	fields []*Field
	terms  []Term
	u, v   *BasisFun

	numComp  [2]int // (trial, test) components; (1,1) for scalar forms
	maxDeriv int

	needsBasisValue bool
	needsParamGrad  bool
	needsPhysGrad   bool
	needsWeight     bool

	weight  *Field // lazily registered by QuadratureWeight
	jacInvT *Field // lazily registered by PhysicalGradient

	finalized bool
}

// New creates an empty form of the given spatial dimension and arity.
func New(name string, dim, arity int) *Form {
	if arity != 1 && arity != 2 {
		panic(fmt.Sprintf("vform: invalid arity %d for form %q", arity, name))
	}
	f := &Form{Name: name, Dim: dim, Arity: arity, numComp: [2]int{1, 1}}
	f.u = &BasisFun{Name: "u", form: f}
	if arity == 2 {
		f.v = &BasisFun{Name: "v", form: f}
	}
	return f
}

// BasisFuns returns the form's basis function arguments. The test function
// is nil for arity-1 forms.
func (f *Form) BasisFuns() (trial, test *BasisFun) { return f.u, f.v }

// SetComponents declares a vector-valued form with the given number of
// trial and test components.
func (f *Form) SetComponents(trial, test int) {
	if trial < 1 || test < 1 {
		panic(fmt.Sprintf("vform: invalid component counts (%d,%d)", trial, test))
	}
	f.numComp = [2]int{trial, test}
}

// NumComponents returns the (trial, test) component counts.
func (f *Form) NumComponents() (trial, test int) { return f.numComp[0], f.numComp[1] }

// NumSlots returns the number of output accumulator slots.
func (f *Form) NumSlots() int { return f.numComp[0] * f.numComp[1] }

func (f *Form) checkBasis(b *BasisFun) {
	if b == nil || b.form != f {
		panic(fmt.Sprintf("vform: basis function does not belong to form %q", f.Name))
	}
}

// BasisValue is the value of a basis function at the current quadrature
// point.
func (f *Form) BasisValue(b *BasisFun) Expr {
	f.checkBasis(b)
	f.needsBasisValue = true
	return &PartialDeriv{B: b, D: make([]int, f.Dim)}
}

// Deriv is the parametric partial derivative of a basis function with the
// given per-axis orders.
func (f *Form) Deriv(b *BasisFun, orders []int) Expr {
	f.checkBasis(b)
	if len(orders) != f.Dim {
		shapePanic("Deriv", "got %d derivative orders, form has dimension %d", len(orders), f.Dim)
	}
	d := make([]int, f.Dim)
	copy(d, orders)
	for _, o := range d {
		if o < 0 {
			panic(fmt.Sprintf("vform: negative derivative order in form %q", f.Name))
		}
		if o > f.maxDeriv {
			f.maxDeriv = o
		}
	}
	return &PartialDeriv{B: b, D: d}
}

// TimeDeriv is a pure derivative of the given order along the last axis,
// which space-time forms treat as time.
func (f *Form) TimeDeriv(b *BasisFun, order int) Expr {
	d := make([]int, f.Dim)
	d[f.Dim-1] = order
	return f.Deriv(b, d)
}

// Gradient is the parametric gradient of a basis function as a vector of
// per-axis first derivatives. A non-nil extra adds derivative orders on
// top of each component (used for mixed space-time derivatives). Requesting
// a gradient promotes the form's required derivative order to at least one.
func (f *Form) Gradient(b *BasisFun, extra []int) Expr {
	f.checkBasis(b)
	f.needsParamGrad = true
	if extra != nil && len(extra) != f.Dim {
		shapePanic("Gradient", "extra derivative tuple has length %d, form has dimension %d", len(extra), f.Dim)
	}
	comps := make([]Expr, f.Dim)
	for k := 0; k < f.Dim; k++ {
		d := make([]int, f.Dim)
		d[k] = 1
		for a := 0; extra != nil && a < f.Dim; a++ {
			d[a] += extra[a]
		}
		comps[k] = f.Deriv(b, d)
	}
	return Vec(comps...)
}

// PhysicalGradient is the gradient transformed to the physical domain:
// the parametric gradient multiplied by the Jacobian inverse transpose.
// The transform matrix is registered as a global field on first use.
func (f *Form) PhysicalGradient(b *BasisFun, extra []int) Expr {
	f.needsPhysGrad = true
	return MatVecMul(Ref(f.jacInvTField()), f.Gradient(b, extra))
}

// jacInvSource lazily registers the inverse-Jacobian geometry source array.
func (f *Form) jacInvSource() *Field {
	for _, fld := range f.fields {
		if fld.Kind == FieldJacInv {
			return fld
		}
	}
	return f.registerField(&Field{
		Name:   "jacinv",
		Shape:  Matrix(f.Dim, f.Dim),
		Global: true,
		Kind:   FieldJacInv,
	})
}

// jacInvTField lazily registers the Jacobian-inverse-transpose matrix field
// computed from the inverse-Jacobian source array.
func (f *Form) jacInvTField() *Field {
	if f.jacInvT != nil {
		return f.jacInvT
	}
	jacInv := f.jacInvSource()
	f.jacInvT = f.RegisterMatrixField("jacinvT", f.Dim, f.Dim, false, true)
	f.DefineField(f.jacInvT, MatFromEntries(f.Dim, f.Dim, func(i, j int) Expr {
		return Entry(jacInv, j, i)
	}))
	return f.jacInvT
}

// QuadratureWeight is the combined "Gauss weight × |det J|" scalar at the
// current quadrature point, registered as a global field on first use.
func (f *Form) QuadratureWeight() Expr {
	if f.weight == nil {
		f.needsWeight = true
		f.weight = f.registerField(&Field{
			Name:   "weight",
			Shape:  Scalar(),
			Global: true,
			Kind:   FieldWeight,
		})
	}
	return Ref(f.weight)
}

// JacInv exposes the inverse-Jacobian source field for forms that combine
// it into their own precomputed fields.
func (f *Form) JacInv() *Field { return f.jacInvSource() }

// Jacobian lazily registers and exposes the geometry Jacobian source
// array, for forms that read ∂x/∂ξ entries directly.
func (f *Form) Jacobian() *Field {
	for _, fld := range f.fields {
		if fld.Kind == FieldJacobian {
			return fld
		}
	}
	return f.registerField(&Field{
		Name:   "jac",
		Shape:  Matrix(f.Dim, f.Dim),
		Global: true,
		Kind:   FieldJacobian,
	})
}

// JacDet lazily registers and exposes the signed Jacobian determinant
// source field. Note QuadratureWeight already carries |det J|; JacDet is
// for forms that need the determinant on its own.
func (f *Form) JacDet() *Field {
	for _, fld := range f.fields {
		if fld.Kind == FieldJacDet {
			return fld
		}
	}
	return f.registerField(&Field{
		Name:   "jacdet",
		Shape:  Scalar(),
		Global: true,
		Kind:   FieldJacDet,
	})
}

// Accumulate adds a scalar accumulation into slot 0.
func (f *Form) Accumulate(e Expr) { f.AccumulateSlot(0, e) }

// AccumulateSlot adds a scalar accumulation into the given output slot.
func (f *Form) AccumulateSlot(slot int, e Expr) {
	if f.finalized {
		panic(fmt.Sprintf("vform: form %q is finalized, cannot add terms", f.Name))
	}
	if !e.Shape().IsScalar() {
		shapePanic("AccumulateSlot", "accumulated expression is %v, want scalar", e.Shape())
	}
	if slot < 0 || slot >= f.NumSlots() {
		panic(fmt.Sprintf("vform: slot %d out of range for form %q with %d slots", slot, f.Name, f.NumSlots()))
	}
	f.terms = append(f.terms, Term{Slot: slot, Expr: e})
}

// Finalize freezes the form and settles the derived requirements: the
// maximum derivative order is promoted by every derivative appearing in a
// term or field definition. Finalize is idempotent.
func (f *Form) Finalize() {
	if f.finalized {
		return
	}
	if len(f.terms) == 0 {
		panic(fmt.Sprintf("vform: form %q has no accumulation terms", f.Name))
	}
	for _, t := range f.terms {
		if d := maxDerivOf(t.Expr); d > f.maxDeriv {
			f.maxDeriv = d
		}
	}
	for _, fld := range f.fields {
		if fld.Expr != nil {
			if d := maxDerivOf(fld.Expr); d > f.maxDeriv {
				f.maxDeriv = d
			}
		}
		if fld.Kind == FieldCustom && fld.Expr == nil {
			panic(fmt.Sprintf("vform: field %q of form %q has no definition", fld.Name, f.Name))
		}
	}
	if (f.needsParamGrad || f.needsPhysGrad) && f.maxDeriv < 1 {
		f.maxDeriv = 1
	}
	f.finalized = true
}

// Finalized reports whether the form has been frozen.
func (f *Form) Finalized() bool { return f.finalized }

// MaxDeriv returns the highest per-axis derivative order any kernel of this
// form needs; valid after Finalize.
func (f *Form) MaxDeriv() int { return f.maxDeriv }

// Fields returns the registry in registration order.
func (f *Form) Fields() []*Field { return f.fields }

// Terms returns the accumulation terms.
func (f *Form) Terms() []Term { return f.terms }

// Requirement flags, read by the kernel emitter at initialization.
func (f *Form) NeedsBasisValue() bool  { return f.needsBasisValue }
func (f *Form) NeedsParamGrad() bool   { return f.needsParamGrad }
func (f *Form) NeedsPhysGrad() bool    { return f.needsPhysGrad }
func (f *Form) NeedsWeight() bool      { return f.needsWeight }
