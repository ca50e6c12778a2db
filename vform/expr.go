// Package vform describes variational forms as symbolic expression trees
// over basis functions and precomputed field data. A form built here is
// compiled by the assemble package into numerical kernels; all shape
// checking happens at construction time so that a malformed form fails
// when it is written, never inside an assembly loop.
package vform

import "fmt"

// Shape describes the rank of an expression or field.
// A scalar has Rows == Cols == 0, a vector of length n has Rows == n and
// Cols == 0, and an r×c matrix has both set.
type Shape struct {
	Rows, Cols int
}

func Scalar() Shape          { return Shape{} }
func Vector(n int) Shape     { return Shape{Rows: n} }
func Matrix(r, c int) Shape  { return Shape{Rows: r, Cols: c} }
func (s Shape) IsScalar() bool { return s.Rows == 0 && s.Cols == 0 }
func (s Shape) IsVector() bool { return s.Rows > 0 && s.Cols == 0 }
func (s Shape) IsMatrix() bool { return s.Rows > 0 && s.Cols > 0 }

func (s Shape) String() string {
	switch {
	case s.IsScalar():
		return "scalar"
	case s.IsVector():
		return fmt.Sprintf("vector[%d]", s.Rows)
	default:
		return fmt.Sprintf("matrix[%d,%d]", s.Rows, s.Cols)
	}
}

// ShapeMismatchError is the panic payload raised when expression operands
// have incompatible shapes. It is a programming error in the form
// definition and is never recovered.
type ShapeMismatchError struct {
	Op  string
	Msg string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("vform: shape mismatch in %s: %s", e.Op, e.Msg)
}

func shapePanic(op, format string, args ...interface{}) {
	panic(&ShapeMismatchError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// OpKind enumerates the elementwise binary operations.
type OpKind uint8

const (
	OpAdd OpKind = iota
	OpSub
	OpMul
	OpDiv
)

// Expr is a node of the expression tree. Concrete node types are exported
// so that the kernel compiler can walk the tree directly.
type Expr interface {
	Shape() Shape
}

// Literal is a constant scalar.
type Literal struct {
	Value float64
}

func (Literal) Shape() Shape { return Scalar() }

// BinOp applies an elementwise operation to two operands of identical shape.
type BinOp struct {
	Op   OpKind
	X, Y Expr
}

func (b *BinOp) Shape() Shape { return b.X.Shape() }

// IndexExpr selects one component of a vector expression. Negative indices
// wrap around from the end.
type IndexExpr struct {
	V Expr
	K int
}

func (IndexExpr) Shape() Shape { return Scalar() }

// SliceExpr selects a sub-vector of a vector expression.
type SliceExpr struct {
	V   Expr
	Idx []int
}

func (s *SliceExpr) Shape() Shape { return Vector(len(s.Idx)) }

// MatVec is a matrix-vector product. Components are expanded lazily as dot
// products when the enclosing scalar expression is lowered.
type MatVec struct {
	A, X Expr
}

func (m *MatVec) Shape() Shape { return Vector(m.A.Shape().Rows) }

// VecExpr aggregates scalar components into a vector value.
type VecExpr struct {
	Comps []Expr
}

func (v *VecExpr) Shape() Shape { return Vector(len(v.Comps)) }

// MatExpr aggregates scalar entries (row-major) into a matrix value.
type MatExpr struct {
	Rows, Cols int
	Entries    []Expr
}

func (m *MatExpr) Shape() Shape { return Matrix(m.Rows, m.Cols) }

// FieldExpr is the value of a registered field at the current quadrature
// point; its shape is the field's shape.
type FieldExpr struct {
	F *Field
}

func (f *FieldExpr) Shape() Shape { return f.F.Shape }

// FieldEntry is a single component of a field at the current quadrature
// point. For matrix fields J == the column index; for vector fields J is -1.
// Symmetric matrix fields collapse (I,J) and (J,I) to the same backing slot.
type FieldEntry struct {
	F    *Field
	I, J int
}

func (FieldEntry) Shape() Shape { return Scalar() }

// PartialDeriv is a parametric partial derivative of a basis function,
// with one derivative order per axis.
type PartialDeriv struct {
	B *BasisFun
	D []int
}

func (PartialDeriv) Shape() Shape { return Scalar() }

// Lit wraps a constant scalar.
func Lit(v float64) Expr { return Literal{Value: v} }

func binOp(name string, op OpKind, x, y Expr) Expr {
	if x.Shape() != y.Shape() {
		shapePanic(name, "operands have shapes %v and %v", x.Shape(), y.Shape())
	}
	return &BinOp{Op: op, X: x, Y: y}
}

// Add returns x + y elementwise. Both operands must have identical shape.
func Add(x, y Expr) Expr { return binOp("Add", OpAdd, x, y) }

// Sub returns x - y elementwise.
func Sub(x, y Expr) Expr { return binOp("Sub", OpSub, x, y) }

// Mul returns x * y elementwise.
func Mul(x, y Expr) Expr { return binOp("Mul", OpMul, x, y) }

// Div returns x / y elementwise.
func Div(x, y Expr) Expr { return binOp("Div", OpDiv, x, y) }

// Idx returns component k of the vector expression v. Negative k wraps,
// so Idx(v, -1) is the last component.
func Idx(v Expr, k int) Expr {
	s := v.Shape()
	if !s.IsVector() {
		shapePanic("Idx", "operand is %v, want vector", s)
	}
	if k < 0 {
		k += s.Rows
	}
	if k < 0 || k >= s.Rows {
		shapePanic("Idx", "index %d out of range for %v", k, s)
	}
	return &IndexExpr{V: v, K: k}
}

// Slice returns the sub-vector of v given by the index set idx.
func Slice(v Expr, idx []int) Expr {
	s := v.Shape()
	if !s.IsVector() {
		shapePanic("Slice", "operand is %v, want vector", s)
	}
	resolved := make([]int, len(idx))
	for n, k := range idx {
		if k < 0 {
			k += s.Rows
		}
		if k < 0 || k >= s.Rows {
			shapePanic("Slice", "index %d out of range for %v", idx[n], s)
		}
		resolved[n] = k
	}
	return &SliceExpr{V: v, Idx: resolved}
}

// MatVecMul returns the matrix-vector product A·x.
func MatVecMul(a, x Expr) Expr {
	sa, sx := a.Shape(), x.Shape()
	if !sa.IsMatrix() {
		shapePanic("MatVecMul", "left operand is %v, want matrix", sa)
	}
	if !sx.IsVector() {
		shapePanic("MatVecMul", "right operand is %v, want vector", sx)
	}
	if sa.Cols != sx.Rows {
		shapePanic("MatVecMul", "inner dimensions %d and %d differ", sa.Cols, sx.Rows)
	}
	return &MatVec{A: a, X: x}
}

// Inner returns the inner product of two equal-length vector expressions
// as a sum of componentwise products.
func Inner(x, y Expr) Expr {
	sx, sy := x.Shape(), y.Shape()
	if !sx.IsVector() || !sy.IsVector() {
		shapePanic("Inner", "operands have shapes %v and %v, want vectors", sx, sy)
	}
	if sx.Rows != sy.Rows {
		shapePanic("Inner", "vector lengths %d and %d differ", sx.Rows, sy.Rows)
	}
	sum := Mul(Idx(x, 0), Idx(y, 0))
	for k := 1; k < sx.Rows; k++ {
		sum = Add(sum, Mul(Idx(x, k), Idx(y, k)))
	}
	return sum
}

// Vec aggregates scalar expressions into a vector value.
func Vec(comps ...Expr) Expr {
	for _, c := range comps {
		if !c.Shape().IsScalar() {
			shapePanic("Vec", "component is %v, want scalar", c.Shape())
		}
	}
	return &VecExpr{Comps: comps}
}

// MatFromEntries builds an r×c matrix value from a per-entry constructor.
func MatFromEntries(r, c int, entry func(i, j int) Expr) Expr {
	entries := make([]Expr, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			e := entry(i, j)
			if !e.Shape().IsScalar() {
				shapePanic("MatFromEntries", "entry (%d,%d) is %v, want scalar", i, j, e.Shape())
			}
			entries[i*c+j] = e
		}
	}
	return &MatExpr{Rows: r, Cols: c, Entries: entries}
}

// Component resolves one scalar component of an expression, pushing the
// index through aggregates, elementwise operations and lazy products.
// For vector expressions j must be -1. Scalar expressions with i == 0,
// j == -1 resolve to themselves.
func Component(e Expr, i, j int) Expr {
	s := e.Shape()
	if s.IsScalar() {
		if i != 0 || j != -1 {
			shapePanic("Component", "component (%d,%d) of scalar", i, j)
		}
		return e
	}
	if s.IsVector() && (j != -1 || i < 0 || i >= s.Rows) {
		shapePanic("Component", "component (%d,%d) out of range for %v", i, j, s)
	}
	if s.IsMatrix() && (i < 0 || i >= s.Rows || j < 0 || j >= s.Cols) {
		shapePanic("Component", "component (%d,%d) out of range for %v", i, j, s)
	}

	switch n := e.(type) {
	case *VecExpr:
		return n.Comps[i]
	case *MatExpr:
		return n.Entries[i*n.Cols+j]
	case *FieldExpr:
		return &FieldEntry{F: n.F, I: i, J: j}
	case *SliceExpr:
		return Component(n.V, n.Idx[i], -1)
	case *BinOp:
		return &BinOp{Op: n.Op, X: Component(n.X, i, j), Y: Component(n.Y, i, j)}
	case *MatVec:
		inner := n.A.Shape().Cols
		sum := Mul(Component(n.A, i, 0), Component(n.X, 0, -1))
		for k := 1; k < inner; k++ {
			sum = Add(sum, Mul(Component(n.A, i, k), Component(n.X, k, -1)))
		}
		return sum
	}
	shapePanic("Component", "cannot take component of %T", e)
	return nil
}

// maxDerivOf reports the largest single-axis derivative order appearing in
// any PartialDeriv node of e.
func maxDerivOf(e Expr) int {
	max := 0
	Walk(e, func(n Expr) {
		if pd, ok := n.(*PartialDeriv); ok {
			for _, d := range pd.D {
				if d > max {
					max = d
				}
			}
		}
	})
	return max
}

// Walk visits every node of the tree rooted at e in depth-first order.
func Walk(e Expr, visit func(Expr)) {
	visit(e)
	switch n := e.(type) {
	case *BinOp:
		Walk(n.X, visit)
		Walk(n.Y, visit)
	case *IndexExpr:
		Walk(n.V, visit)
	case *SliceExpr:
		Walk(n.V, visit)
	case *MatVec:
		Walk(n.A, visit)
		Walk(n.X, visit)
	case *VecExpr:
		for _, c := range n.Comps {
			Walk(c, visit)
		}
	case *MatExpr:
		for _, c := range n.Entries {
			Walk(c, visit)
		}
	}
}
