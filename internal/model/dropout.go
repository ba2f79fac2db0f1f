package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout zeroes activations with probability Rate during training and
// rescales survivors by 1/(1-Rate). Evaluation forwards are the identity.
type Dropout struct {
	Rate float64
	rng  *rand.Rand

	maskCache []*mat.Dense
}

// NewDropout creates a dropout layer driven by rng.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// Forward applies inverted dropout when train is set, otherwise returns x
// unchanged.
func (d *Dropout) Forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || d.Rate == 0 {
		return x
	}
	rows, cols := x.Dims()
	scale := 1 / (1 - d.Rate)
	mask := mat.NewDense(rows, cols, nil)
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		src := x.RawRowView(i)
		m := mask.RawRowView(i)
		dst := out.RawRowView(i)
		for j := range src {
			if d.rng.Float64() >= d.Rate {
				m[j] = scale
				dst[j] = src[j] * scale
			}
		}
	}
	d.maskCache = append(d.maskCache, mask)
	return out
}

// Backward applies the most recent cached mask to dY.
func (d *Dropout) Backward(dY *mat.Dense) *mat.Dense {
	if d.Rate == 0 {
		return dY
	}
	mask := d.maskCache[len(d.maskCache)-1]
	d.maskCache = d.maskCache[:len(d.maskCache)-1]
	rows, cols := dY.Dims()
	dX := mat.NewDense(rows, cols, nil)
	dX.MulElem(dY, mask)
	return dX
}
