package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// FeedForward is the position-wise two-layer network with a ReLU between.
type FeedForward struct {
	W1   *Linear
	W2   *Linear
	Drop *Dropout

	reluCache []*mat.Dense
}

// NewFeedForward creates the expansion/contraction pair d -> ff -> d.
func NewFeedForward(name string, dModel, ffDim int, dropout float64, rng *rand.Rand) *FeedForward {
	return &FeedForward{
		W1:   NewLinear(name+".w1", dModel, ffDim, rng),
		W2:   NewLinear(name+".w2", ffDim, dModel, rng),
		Drop: NewDropout(dropout, rng),
	}
}

// Forward applies W2(dropout(relu(W1 x))) row-wise.
func (f *FeedForward) Forward(x *mat.Dense, train bool) *mat.Dense {
	hidden := f.W1.Forward(x, train)
	rows, cols := hidden.Dims()
	activated := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		src := hidden.RawRowView(i)
		dst := activated.RawRowView(i)
		for j, v := range src {
			if v > 0 {
				dst[j] = v
			}
		}
	}
	if train {
		f.reluCache = append(f.reluCache, activated)
	}
	dropped := f.Drop.Forward(activated, train)
	return f.W2.Forward(dropped, train)
}

// Backward propagates dY through the most recent cached forward.
func (f *FeedForward) Backward(dY *mat.Dense) *mat.Dense {
	dDropped := f.W2.Backward(dY)
	dActivated := f.Drop.Backward(dDropped)

	activated := f.reluCache[len(f.reluCache)-1]
	f.reluCache = f.reluCache[:len(f.reluCache)-1]

	rows, cols := dActivated.Dims()
	dHidden := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		act := activated.RawRowView(i)
		src := dActivated.RawRowView(i)
		dst := dHidden.RawRowView(i)
		for j := range src {
			if act[j] > 0 {
				dst[j] = src[j]
			}
		}
	}
	return f.W1.Backward(dHidden)
}

// Params returns the trainable parameters of both projections.
func (f *FeedForward) Params() []*Param {
	return append(f.W1.Params(), f.W2.Params()...)
}
