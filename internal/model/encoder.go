package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// EncoderLayer is one encoder block: self-attention then feed-forward, each
// wrapped in dropout, a residual connection, and layer normalization.
type EncoderLayer struct {
	SelfAttn *MultiHeadAttention
	FF       *FeedForward
	Norm1    *LayerNorm
	Norm2    *LayerNorm
	Drop1    *Dropout
	Drop2    *Dropout
}

// NewEncoderLayer builds a single encoder block.
func NewEncoderLayer(name string, dModel, heads, ffDim int, dropout, eps float64, rng *rand.Rand) *EncoderLayer {
	return &EncoderLayer{
		SelfAttn: NewMultiHeadAttention(name+".self_attn", dModel, heads, dropout, rng),
		FF:       NewFeedForward(name+".ff", dModel, ffDim, dropout, rng),
		Norm1:    NewLayerNorm(name+".norm1", dModel, eps),
		Norm2:    NewLayerNorm(name+".norm2", dModel, eps),
		Drop1:    NewDropout(dropout, rng),
		Drop2:    NewDropout(dropout, rng),
	}
}

// Forward runs the block over a t x d sequence with an additive t x t mask.
func (l *EncoderLayer) Forward(x, mask *mat.Dense, train bool) *mat.Dense {
	attn := l.SelfAttn.Forward(x, x, x, mask, train)
	attn = l.Drop1.Forward(attn, train)
	var res1 mat.Dense
	res1.Add(x, attn)
	y1 := l.Norm1.Forward(&res1, train)

	ff := l.FF.Forward(y1, train)
	ff = l.Drop2.Forward(ff, train)
	var res2 mat.Dense
	res2.Add(y1, ff)
	return l.Norm2.Forward(&res2, train)
}

// Backward propagates dY through the most recent cached forward.
func (l *EncoderLayer) Backward(dY *mat.Dense) *mat.Dense {
	dRes2 := l.Norm2.Backward(dY)
	dFF := l.Drop2.Backward(dRes2)
	dY1 := l.FF.Backward(dFF)
	dY1.Add(dY1, dRes2)

	dRes1 := l.Norm1.Backward(dY1)
	dAttn := l.Drop1.Backward(dRes1)
	dQ, dK, dV := l.SelfAttn.Backward(dAttn)

	var dX mat.Dense
	dX.Add(dQ, dK)
	dX.Add(&dX, dV)
	dX.Add(&dX, dRes1)
	return &dX
}

// Params returns the block's trainable parameters.
func (l *EncoderLayer) Params() []*Param {
	var ps []*Param
	ps = append(ps, l.SelfAttn.Params()...)
	ps = append(ps, l.FF.Params()...)
	ps = append(ps, l.Norm1.Params()...)
	ps = append(ps, l.Norm2.Params()...)
	return ps
}

// Encoder is a stack of identical encoder layers.
type Encoder struct {
	Layers []*EncoderLayer
}

// NewEncoder builds a stack of n encoder layers.
func NewEncoder(dModel, heads, ffDim, n int, dropout, eps float64, rng *rand.Rand) *Encoder {
	e := &Encoder{Layers: make([]*EncoderLayer, n)}
	for i := range e.Layers {
		e.Layers[i] = NewEncoderLayer(layerName("encoder", i), dModel, heads, ffDim, dropout, eps, rng)
	}
	return e
}

// Forward runs the stack over embedded input x.
func (e *Encoder) Forward(x, mask *mat.Dense, train bool) *mat.Dense {
	for _, l := range e.Layers {
		x = l.Forward(x, mask, train)
	}
	return x
}

// Backward unwinds the stack in reverse layer order.
func (e *Encoder) Backward(dY *mat.Dense) *mat.Dense {
	for i := len(e.Layers) - 1; i >= 0; i-- {
		dY = e.Layers[i].Backward(dY)
	}
	return dY
}

// Params returns the stack's trainable parameters in layer order.
func (e *Encoder) Params() []*Param {
	var ps []*Param
	for _, l := range e.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}
