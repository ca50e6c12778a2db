package vform

// spaceAxes returns the index set of the spatial axes of a space-time form,
// i.e. all axes except the trailing time axis.
func spaceAxes(dim int) []int {
	axes := make([]int, dim-1)
	for k := range axes {
		axes[k] = k
	}
	return axes
}

// Mass returns the finalized mass form: accumulate weight * u * v.
func Mass(dim int) *Form {
	f := New("mass", dim, 2)
	u, v := f.BasisFuns()
	w := f.QuadratureWeight()
	f.Accumulate(Mul(w, Mul(f.BasisValue(u), f.BasisValue(v))))
	f.Finalize()
	return f
}

// Stiffness returns the finalized stiffness form. The symmetric matrix
// field B = Jinv·Jinvᵀ * weight is precomputed over the grid; the kernel
// accumulates (B·∇u)·∇v with parametric gradients.
func Stiffness(dim int) *Form {
	f := New("stiffness", dim, 2)
	u, v := f.BasisFuns()
	w := f.QuadratureWeight()
	ji := f.JacInv()

	B := f.RegisterMatrixField("B", dim, dim, true, true)
	f.DefineField(B, MatFromEntries(dim, dim, func(i, j int) Expr {
		// B[i,j] = w * Σ_k Jinv[i,k] Jinv[j,k]
		dot := Mul(Entry(ji, i, 0), Entry(ji, j, 0))
		for k := 1; k < dim; k++ {
			dot = Add(dot, Mul(Entry(ji, i, k), Entry(ji, j, k)))
		}
		return Mul(w, dot)
	}))

	gu := f.Gradient(u, nil)
	gv := f.Gradient(v, nil)
	f.Accumulate(Inner(MatVecMul(Ref(B), gu), gv))
	f.Finalize()
	return f
}

// Heat returns the finalized space-time heat form with the last axis as
// time: accumulate weight * (∂u/∂t · v + ∇ₓu · ∇ₓv). The spatial gradients
// are physical; the time derivative stays parametric, as in Wave.
func Heat(dim int) *Form {
	f := New("heat_st", dim, 2)
	u, v := f.BasisFuns()
	w := f.QuadratureWeight()
	gu := f.PhysicalGradient(u, nil)
	gv := f.PhysicalGradient(v, nil)
	space := spaceAxes(dim)

	ut := f.TimeDeriv(u, 1)
	diffusion := Inner(Slice(gu, space), Slice(gv, space))
	f.Accumulate(Mul(w, Add(Mul(ut, f.BasisValue(v)), diffusion)))
	f.Finalize()
	return f
}

// Wave returns the finalized space-time wave form with the last axis as
// time: accumulate weight * (∂²u/∂t² · ∂v/∂t + ∇ₓu · ∂/∂t(∇ₓv)). The mixed
// time derivative of the test gradient is a local per-point vector: the
// physical-gradient transform applied to a gradient with an extra time
// derivative baked into every component.
func Wave(dim int) *Form {
	f := New("wave_st", dim, 2)
	u, v := f.BasisFuns()
	w := f.QuadratureWeight()

	utt := f.TimeDeriv(u, 2)
	vt := f.TimeDeriv(v, 1)
	gu := f.PhysicalGradient(u, nil)

	extraT := make([]int, dim)
	extraT[dim-1] = 1
	dtgv := f.RegisterVectorField("dtgv", dim, false)
	f.DefineField(dtgv, f.PhysicalGradient(v, extraT))

	space := spaceAxes(dim)
	mixed := Inner(Slice(gu, space), Slice(Ref(dtgv), space))
	f.Accumulate(Mul(w, Add(Mul(utt, vt), mixed)))
	f.Finalize()
	return f
}

// DivDiv returns the finalized vector-valued div-div form for a
// dim-component field: output slot dim*i+j accumulates
// weight * ∂u/∂x_j * ∂v/∂x_i with physical gradients.
func DivDiv(dim int) *Form {
	f := New("divdiv", dim, 2)
	f.SetComponents(dim, dim)
	u, v := f.BasisFuns()
	w := f.QuadratureWeight()
	gu := f.PhysicalGradient(u, nil)
	gv := f.PhysicalGradient(v, nil)

	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			f.AccumulateSlot(dim*i+j, Mul(w, Mul(Idx(gu, j), Idx(gv, i))))
		}
	}
	f.Finalize()
	return f
}

// Source returns the finalized arity-1 load form for a unit source term:
// entry i accumulates weight * v_i, i.e. the integral of basis function i.
func Source(dim int) *Form {
	f := New("source", dim, 1)
	u, _ := f.BasisFuns()
	w := f.QuadratureWeight()
	f.Accumulate(Mul(w, f.BasisValue(u)))
	f.Finalize()
	return f
}
