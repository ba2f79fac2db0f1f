package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer computing Y = X*W + b over row vectors.
type Linear struct {
	W *Param // dIn x dOut
	B *Param // 1 x dOut

	xCache []*mat.Dense
}

// NewLinear creates a Linear layer with Xavier-initialized weights and zero bias.
func NewLinear(name string, dIn, dOut int, rng *rand.Rand) *Linear {
	l := &Linear{
		W: NewParam(name+".weight", dIn, dOut),
		B: NewParam(name+".bias", 1, dOut),
	}
	l.W.XavierInit(rng)
	return l
}

// Forward computes X*W + b. When train is set the input is cached for the
// matching Backward call; Backward consumes caches in LIFO order.
func (l *Linear) Forward(x *mat.Dense, train bool) *mat.Dense {
	rows, _ := x.Dims()
	_, dOut := l.W.Value.Dims()
	y := mat.NewDense(rows, dOut, nil)
	y.Mul(x, l.W.Value)
	bias := l.B.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	if train {
		l.xCache = append(l.xCache, x)
	}
	return y
}

// Backward accumulates dW and db from the most recent cached forward and
// returns dX.
func (l *Linear) Backward(dY *mat.Dense) *mat.Dense {
	x := l.xCache[len(l.xCache)-1]
	l.xCache = l.xCache[:len(l.xCache)-1]

	dIn, dOut := l.W.Value.Dims()
	dW := mat.NewDense(dIn, dOut, nil)
	dW.Mul(x.T(), dY)
	l.W.AddGrad(dW)
	l.B.AddGrad(colSum(dY))

	rows, _ := dY.Dims()
	dX := mat.NewDense(rows, dIn, nil)
	dX.Mul(dY, l.W.Value.T())
	return dX
}

// Params returns the layer's trainable parameters.
func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}
