// Package quadrature builds the iterated Gauss rules used to integrate
// forms over tensor-product spline meshes: one Gauss–Legendre rule per mesh
// cell, concatenated along each axis.
package quadrature

import (
	"fmt"

	"gonum.org/v1/gonum/integrate/quad"
)

// Rule holds the concatenated Gauss nodes and matching weights for one
// axis: nodesPerCell points on every cell of the axis mesh, in ascending
// order.
type Rule struct {
	Nodes   []float64
	Weights []float64
}

// Iterated builds an n-point Gauss–Legendre rule on every cell of the mesh
// partition and concatenates the per-cell rules.
func Iterated(mesh []float64, n int) (Rule, error) {
	if n < 1 {
		return Rule{}, fmt.Errorf("quadrature: need at least one node per cell, got %d", n)
	}
	if len(mesh) < 2 {
		return Rule{}, fmt.Errorf("quadrature: mesh needs at least two breakpoints, got %d", len(mesh))
	}
	ncells := len(mesh) - 1
	r := Rule{
		Nodes:   make([]float64, 0, ncells*n),
		Weights: make([]float64, 0, ncells*n),
	}
	var leg quad.Legendre
	x := make([]float64, n)
	w := make([]float64, n)
	for c := 0; c < ncells; c++ {
		if mesh[c+1] <= mesh[c] {
			return Rule{}, fmt.Errorf("quadrature: empty mesh cell %d", c)
		}
		leg.FixedLocations(x, w, mesh[c], mesh[c+1])
		r.Nodes = append(r.Nodes, x...)
		r.Weights = append(r.Weights, w...)
	}
	return r, nil
}

// Grid builds one iterated rule per axis for a set of axis meshes.
func Grid(meshes [][]float64, n int) ([]Rule, error) {
	rules := make([]Rule, len(meshes))
	for k, m := range meshes {
		r, err := Iterated(m, n)
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", k, err)
		}
		rules[k] = r
	}
	return rules, nil
}
