package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalizes each row to zero mean and unit variance, then applies
// a learned per-feature scale and shift.
type LayerNorm struct {
	Gamma *Param // 1 x d
	Beta  *Param // 1 x d
	Eps   float64

	xhatCache   []*mat.Dense
	invStdCache [][]float64
}

// NewLayerNorm creates a LayerNorm over feature dimension d with gamma=1, beta=0.
func NewLayerNorm(name string, d int, eps float64) *LayerNorm {
	ln := &LayerNorm{
		Gamma: NewParam(name+".gamma", 1, d),
		Beta:  NewParam(name+".beta", 1, d),
		Eps:   eps,
	}
	for j := 0; j < d; j++ {
		ln.Gamma.Value.Set(0, j, 1)
	}
	return ln
}

// Forward normalizes every row of x.
func (ln *LayerNorm) Forward(x *mat.Dense, train bool) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	xhat := mat.NewDense(rows, cols, nil)
	invStd := make([]float64, rows)
	gamma := ln.Gamma.Value.RawRowView(0)
	beta := ln.Beta.Value.RawRowView(0)

	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(cols)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(cols)
		is := 1 / math.Sqrt(variance+ln.Eps)
		invStd[i] = is

		xh := xhat.RawRowView(i)
		dst := out.RawRowView(i)
		for j, v := range row {
			xh[j] = (v - mean) * is
			dst[j] = gamma[j]*xh[j] + beta[j]
		}
	}
	if train {
		ln.xhatCache = append(ln.xhatCache, xhat)
		ln.invStdCache = append(ln.invStdCache, invStd)
	}
	return out
}

// Backward accumulates dGamma and dBeta and returns dX for the most recent
// cached forward.
func (ln *LayerNorm) Backward(dY *mat.Dense) *mat.Dense {
	xhat := ln.xhatCache[len(ln.xhatCache)-1]
	ln.xhatCache = ln.xhatCache[:len(ln.xhatCache)-1]
	invStd := ln.invStdCache[len(ln.invStdCache)-1]
	ln.invStdCache = ln.invStdCache[:len(ln.invStdCache)-1]

	rows, cols := dY.Dims()
	gamma := ln.Gamma.Value.RawRowView(0)
	dGamma := make([]float64, cols)
	dBeta := make([]float64, cols)
	dX := mat.NewDense(rows, cols, nil)
	n := float64(cols)

	for i := 0; i < rows; i++ {
		dRow := dY.RawRowView(i)
		xh := xhat.RawRowView(i)

		// dxhat = dY * gamma; dX follows the standard layer norm gradient.
		sumDxhat := 0.0
		sumDxhatXhat := 0.0
		for j := 0; j < cols; j++ {
			dGamma[j] += dRow[j] * xh[j]
			dBeta[j] += dRow[j]
			dxh := dRow[j] * gamma[j]
			sumDxhat += dxh
			sumDxhatXhat += dxh * xh[j]
		}
		dst := dX.RawRowView(i)
		for j := 0; j < cols; j++ {
			dxh := dRow[j] * gamma[j]
			dst[j] = invStd[i] / n * (n*dxh - sumDxhat - xh[j]*sumDxhatXhat)
		}
	}
	ln.Gamma.AddGrad(mat.NewDense(1, cols, dGamma))
	ln.Beta.AddGrad(mat.NewDense(1, cols, dBeta))
	return dX
}

// Params returns the layer's trainable parameters.
func (ln *LayerNorm) Params() []*Param {
	return []*Param{ln.Gamma, ln.Beta}
}
