package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is a named trainable tensor with its accumulated gradient.
// Value and Grad always have identical shape.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zero-valued parameter with a matching gradient buffer.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// XavierInit fills the parameter with Xavier-uniform values drawn from rng.
func (p *Param) XavierInit(rng *rand.Rand) {
	rows, cols := p.Value.Dims()
	limit := math.Sqrt(6.0 / float64(rows+cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.Value.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
}

// ZeroGrad clears the accumulated gradient in place.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// AddGrad accumulates g into the gradient buffer.
func (p *Param) AddGrad(g mat.Matrix) {
	p.Grad.Add(p.Grad, g)
}
