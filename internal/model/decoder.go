package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// DecoderLayer is one decoder block: masked self-attention, cross-attention
// over the encoder memory, then feed-forward. Each sublayer is wrapped in
// dropout, a residual connection, and layer normalization.
type DecoderLayer struct {
	SelfAttn  *MultiHeadAttention
	CrossAttn *MultiHeadAttention
	FF        *FeedForward
	Norm1     *LayerNorm
	Norm2     *LayerNorm
	Norm3     *LayerNorm
	Drop1     *Dropout
	Drop2     *Dropout
	Drop3     *Dropout
}

// NewDecoderLayer builds a single decoder block.
func NewDecoderLayer(name string, dModel, heads, ffDim int, dropout, eps float64, rng *rand.Rand) *DecoderLayer {
	return &DecoderLayer{
		SelfAttn:  NewMultiHeadAttention(name+".self_attn", dModel, heads, dropout, rng),
		CrossAttn: NewMultiHeadAttention(name+".cross_attn", dModel, heads, dropout, rng),
		FF:        NewFeedForward(name+".ff", dModel, ffDim, dropout, rng),
		Norm1:     NewLayerNorm(name+".norm1", dModel, eps),
		Norm2:     NewLayerNorm(name+".norm2", dModel, eps),
		Norm3:     NewLayerNorm(name+".norm3", dModel, eps),
		Drop1:     NewDropout(dropout, rng),
		Drop2:     NewDropout(dropout, rng),
		Drop3:     NewDropout(dropout, rng),
	}
}

// Forward runs the block. selfMask applies to target self-attention, memMask
// to cross-attention over memory.
func (l *DecoderLayer) Forward(x, memory, selfMask, memMask *mat.Dense, train bool) *mat.Dense {
	attn := l.SelfAttn.Forward(x, x, x, selfMask, train)
	attn = l.Drop1.Forward(attn, train)
	var res1 mat.Dense
	res1.Add(x, attn)
	y1 := l.Norm1.Forward(&res1, train)

	cross := l.CrossAttn.Forward(y1, memory, memory, memMask, train)
	cross = l.Drop2.Forward(cross, train)
	var res2 mat.Dense
	res2.Add(y1, cross)
	y2 := l.Norm2.Forward(&res2, train)

	ff := l.FF.Forward(y2, train)
	ff = l.Drop3.Forward(ff, train)
	var res3 mat.Dense
	res3.Add(y2, ff)
	return l.Norm3.Forward(&res3, train)
}

// Backward propagates dY through the most recent cached forward, returning
// gradients for the block input and for the encoder memory.
func (l *DecoderLayer) Backward(dY *mat.Dense) (dX, dMemory *mat.Dense) {
	dRes3 := l.Norm3.Backward(dY)
	dFF := l.Drop3.Backward(dRes3)
	dY2 := l.FF.Backward(dFF)
	dY2.Add(dY2, dRes3)

	dRes2 := l.Norm2.Backward(dY2)
	dCross := l.Drop2.Backward(dRes2)
	dQ2, dK2, dV2 := l.CrossAttn.Backward(dCross)
	var dMem mat.Dense
	dMem.Add(dK2, dV2)
	dY1 := dQ2
	dY1.Add(dY1, dRes2)

	dRes1 := l.Norm1.Backward(dY1)
	dAttn := l.Drop1.Backward(dRes1)
	dQ1, dK1, dV1 := l.SelfAttn.Backward(dAttn)

	var dIn mat.Dense
	dIn.Add(dQ1, dK1)
	dIn.Add(&dIn, dV1)
	dIn.Add(&dIn, dRes1)
	return &dIn, &dMem
}

// Params returns the block's trainable parameters.
func (l *DecoderLayer) Params() []*Param {
	var ps []*Param
	ps = append(ps, l.SelfAttn.Params()...)
	ps = append(ps, l.CrossAttn.Params()...)
	ps = append(ps, l.FF.Params()...)
	ps = append(ps, l.Norm1.Params()...)
	ps = append(ps, l.Norm2.Params()...)
	ps = append(ps, l.Norm3.Params()...)
	return ps
}

// Decoder is a stack of identical decoder layers.
type Decoder struct {
	Layers []*DecoderLayer
}

// NewDecoder builds a stack of n decoder layers.
func NewDecoder(dModel, heads, ffDim, n int, dropout, eps float64, rng *rand.Rand) *Decoder {
	d := &Decoder{Layers: make([]*DecoderLayer, n)}
	for i := range d.Layers {
		d.Layers[i] = NewDecoderLayer(layerName("decoder", i), dModel, heads, ffDim, dropout, eps, rng)
	}
	return d
}

// Forward runs the stack over embedded target x against encoder memory.
func (d *Decoder) Forward(x, memory, selfMask, memMask *mat.Dense, train bool) *mat.Dense {
	for _, l := range d.Layers {
		x = l.Forward(x, memory, selfMask, memMask, train)
	}
	return x
}

// Backward unwinds the stack in reverse layer order, accumulating the
// memory gradient contributed by every layer's cross-attention.
func (d *Decoder) Backward(dY *mat.Dense) (dX, dMemory *mat.Dense) {
	var dMemTotal *mat.Dense
	for i := len(d.Layers) - 1; i >= 0; i-- {
		var dMem *mat.Dense
		dY, dMem = d.Layers[i].Backward(dY)
		if dMemTotal == nil {
			dMemTotal = dMem
		} else {
			dMemTotal.Add(dMemTotal, dMem)
		}
	}
	return dY, dMemTotal
}

// Params returns the stack's trainable parameters in layer order.
func (d *Decoder) Params() []*Param {
	var ps []*Param
	for _, l := range d.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}
