package vform

import "fmt"

// FieldKind says how a field's values come into existence at assembler
// initialization time.
type FieldKind uint8

const (
	// FieldCustom fields are defined by an expression over other fields
	// (global: evaluated once over the quadrature grid; local: evaluated
	// per quadrature point inside the kernel).
	FieldCustom FieldKind = iota
	// FieldWeight is the combined "quadrature weight × |det J|" scalar.
	FieldWeight
	// FieldJacobian is the geometry Jacobian, row-major D×D per point.
	FieldJacobian
	// FieldJacInv is the inverse of the geometry Jacobian.
	FieldJacInv
	// FieldJacDet is the Jacobian determinant.
	FieldJacDet
)

// Field is a named array of values defined over the quadrature grid (global)
// or recomputed at every quadrature point (local). Symmetric matrix fields
// store only the upper triangle.
type Field struct {
	Name      string
	Shape     Shape
	Symmetric bool
	Global    bool
	Kind      FieldKind

	// Expr defines the field's values for FieldCustom fields; nil for
	// geometry-sourced kinds, which the assembler fills directly.
	Expr Expr
}

// NumComps returns the number of stored components per grid point.
func (f *Field) NumComps() int {
	s := f.Shape
	switch {
	case s.IsScalar():
		return 1
	case s.IsVector():
		return s.Rows
	case f.Symmetric:
		return s.Rows * (s.Rows + 1) / 2
	default:
		return s.Rows * s.Cols
	}
}

// CompIndex maps an (i,j) entry to its backing slot. For symmetric matrix
// fields (i,j) and (j,i) share the upper-triangle slot; for vectors j is -1.
func (f *Field) CompIndex(i, j int) int {
	s := f.Shape
	switch {
	case s.IsScalar():
		return 0
	case s.IsVector():
		return i
	case f.Symmetric:
		if i > j {
			i, j = j, i
		}
		// row-major upper triangle of an n×n matrix
		n := s.Rows
		return i*n - i*(i-1)/2 + (j - i)
	default:
		return i*s.Cols + j
	}
}

// CompAt is the inverse of CompIndex: it returns the (i,j) entry stored in
// backing slot c, with j == -1 for vector fields.
func (f *Field) CompAt(c int) (i, j int) {
	s := f.Shape
	switch {
	case s.IsScalar():
		return 0, -1
	case s.IsVector():
		return c, -1
	case f.Symmetric:
		n := s.Rows
		for i = 0; i < n; i++ {
			rowLen := n - i
			if c < rowLen {
				return i, i + c
			}
			c -= rowLen
		}
		panic(fmt.Sprintf("vform: component %d out of range for field %q", c, f.Name))
	default:
		return c / s.Cols, c % s.Cols
	}
}

// BasisFun identifies one of the form's basis function arguments
// (trial or test).
type BasisFun struct {
	Name string
	form *Form
}

// registerField adds a field to the form's registry, rejecting duplicates.
func (f *Form) registerField(fld *Field) *Field {
	if f.finalized {
		panic(fmt.Sprintf("vform: form %q is finalized, cannot register field %q", f.Name, fld.Name))
	}
	for _, g := range f.fields {
		if g.Name == fld.Name {
			panic(fmt.Sprintf("vform: duplicate field %q in form %q", fld.Name, f.Name))
		}
	}
	f.fields = append(f.fields, fld)
	return fld
}

// RegisterScalarField records a named scalar field. Global fields are
// precomputed over the quadrature grid; local fields are evaluated per
// quadrature point inside the kernel.
func (f *Form) RegisterScalarField(name string, global bool) *Field {
	return f.registerField(&Field{Name: name, Shape: Scalar(), Global: global})
}

// RegisterVectorField records a named vector field of length n.
func (f *Form) RegisterVectorField(name string, n int, global bool) *Field {
	return f.registerField(&Field{Name: name, Shape: Vector(n), Global: global})
}

// RegisterMatrixField records a named r×c matrix field. Symmetric fields
// store only their upper triangle.
func (f *Form) RegisterMatrixField(name string, r, c int, symmetric, global bool) *Field {
	if symmetric && r != c {
		shapePanic("RegisterMatrixField", "symmetric field %q must be square, got %d×%d", name, r, c)
	}
	return f.registerField(&Field{Name: name, Shape: Matrix(r, c), Symmetric: symmetric, Global: global})
}

// DefineField attaches the defining expression to a registered field.
// The expression's shape must match the field's.
func (f *Form) DefineField(fld *Field, e Expr) {
	if fld.Kind != FieldCustom {
		panic(fmt.Sprintf("vform: field %q is geometry-sourced, cannot redefine", fld.Name))
	}
	if e.Shape() != fld.Shape {
		shapePanic("DefineField", "field %q is %v but expression is %v", fld.Name, fld.Shape, e.Shape())
	}
	fld.Expr = e
}

// Ref returns the field's value at the current quadrature point.
func Ref(fld *Field) Expr { return &FieldExpr{F: fld} }

// Entry returns the (i,j) entry of a matrix field, or component i of a
// vector field when j == -1.
func Entry(fld *Field, i, j int) Expr {
	return Component(Ref(fld), i, j)
}
