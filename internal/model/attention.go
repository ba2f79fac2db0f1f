package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MultiHeadAttention implements scaled dot-product attention split across
// heads. Query, key, and value projections are full d x d matrices sliced
// per head along the feature dimension.
type MultiHeadAttention struct {
	heads int
	dHead int

	Wq *Linear
	Wk *Linear
	Wv *Linear
	Wo *Linear

	Drop *Dropout

	caches []*attnCache
}

type attnCache struct {
	q, k, v *mat.Dense   // projected, full width
	probs   []*mat.Dense // per-head softmax output
	dropped []*mat.Dense // per-head probs after dropout
}

// NewMultiHeadAttention creates an attention block with heads heads over
// dModel features. dModel must be divisible by heads.
func NewMultiHeadAttention(name string, dModel, heads int, dropout float64, rng *rand.Rand) *MultiHeadAttention {
	return &MultiHeadAttention{
		heads: heads,
		dHead: dModel / heads,
		Wq:    NewLinear(name+".wq", dModel, dModel, rng),
		Wk:    NewLinear(name+".wk", dModel, dModel, rng),
		Wv:    NewLinear(name+".wv", dModel, dModel, rng),
		Wo:    NewLinear(name+".wo", dModel, dModel, rng),
		Drop:  NewDropout(dropout, rng),
	}
}

func headView(m *mat.Dense, h, dHead int) *mat.Dense {
	rows, _ := m.Dims()
	return m.Slice(0, rows, h*dHead, (h+1)*dHead).(*mat.Dense)
}

// Forward attends query rows over key/value rows. mask, when non-nil, is an
// additive qLen x kLen matrix applied to the scores of every head.
func (a *MultiHeadAttention) Forward(query, key, value, mask *mat.Dense, train bool) *mat.Dense {
	q := a.Wq.Forward(query, train)
	k := a.Wk.Forward(key, train)
	v := a.Wv.Forward(value, train)

	qLen, dModel := q.Dims()
	kLen, _ := k.Dims()
	scale := 1 / math.Sqrt(float64(a.dHead))

	out := mat.NewDense(qLen, dModel, nil)
	cache := &attnCache{q: q, k: k, v: v}

	for h := 0; h < a.heads; h++ {
		qh := headView(q, h, a.dHead)
		kh := headView(k, h, a.dHead)
		vh := headView(v, h, a.dHead)

		scores := mat.NewDense(qLen, kLen, nil)
		scores.Mul(qh, kh.T())
		scores.Scale(scale, scores)
		if mask != nil {
			scores.Add(scores, mask)
		}

		probs := rowSoftmax(scores)
		dropped := a.Drop.Forward(probs, train)

		oh := headView(out, h, a.dHead)
		oh.Mul(dropped, vh)

		if train {
			cache.probs = append(cache.probs, probs)
			cache.dropped = append(cache.dropped, dropped)
		}
	}
	if train {
		a.caches = append(a.caches, cache)
	}
	return a.Wo.Forward(out, train)
}

// Backward propagates dOut through the most recent cached forward and
// returns gradients for the query, key, and value inputs.
func (a *MultiHeadAttention) Backward(dOut *mat.Dense) (dQuery, dKey, dValue *mat.Dense) {
	cache := a.caches[len(a.caches)-1]
	a.caches = a.caches[:len(a.caches)-1]

	dConcat := a.Wo.Backward(dOut)
	qLen, dModel := cache.q.Dims()
	kLen, _ := cache.k.Dims()
	scale := 1 / math.Sqrt(float64(a.dHead))

	dQ := mat.NewDense(qLen, dModel, nil)
	dK := mat.NewDense(kLen, dModel, nil)
	dV := mat.NewDense(kLen, dModel, nil)

	// Dropout caches pop LIFO, so heads unwind in reverse order.
	for h := a.heads - 1; h >= 0; h-- {
		dOh := headView(dConcat, h, a.dHead)
		qh := headView(cache.q, h, a.dHead)
		kh := headView(cache.k, h, a.dHead)
		vh := headView(cache.v, h, a.dHead)
		probs := cache.probs[h]
		dropped := cache.dropped[h]

		dDropped := mat.NewDense(qLen, kLen, nil)
		dDropped.Mul(dOh, vh.T())

		dVh := headView(dV, h, a.dHead)
		dVh.Mul(dropped.T(), dOh)

		dProbs := a.Drop.Backward(dDropped)
		dScores := rowSoftmaxBackward(probs, dProbs)
		dScores.Scale(scale, dScores)

		dQh := headView(dQ, h, a.dHead)
		dQh.Mul(dScores, kh)
		dKh := headView(dK, h, a.dHead)
		dKh.Mul(dScores.T(), qh)
	}

	dValue = a.Wv.Backward(dV)
	dKey = a.Wk.Backward(dK)
	dQuery = a.Wq.Backward(dQ)
	return dQuery, dKey, dValue
}

// Params returns the trainable parameters of all four projections.
func (a *MultiHeadAttention) Params() []*Param {
	var ps []*Param
	ps = append(ps, a.Wq.Params()...)
	ps = append(ps, a.Wk.Params()...)
	ps = append(ps, a.Wv.Params()...)
	ps = append(ps, a.Wo.Params()...)
	return ps
}
