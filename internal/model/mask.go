package model

import "gonum.org/v1/gonum/mat"

// maskNegInf is the additive value used to exclude a position from attention.
// Large but finite so masked rows still softmax to valid probabilities.
const maskNegInf = -1e9

// PaddingMask builds a qLen x kLen additive mask hiding key positions whose
// token is pad. Zero entries pass through, masked entries add maskNegInf.
func PaddingMask(keyIDs []int, pad, qLen int) *mat.Dense {
	kLen := len(keyIDs)
	m := mat.NewDense(qLen, kLen, nil)
	for j, id := range keyIDs {
		if id != pad {
			continue
		}
		for i := 0; i < qLen; i++ {
			m.Set(i, j, maskNegInf)
		}
	}
	return m
}

// CausalMask builds a t x t additive mask hiding strictly future positions:
// row i may attend to columns 0..i only.
func CausalMask(t int) *mat.Dense {
	m := mat.NewDense(t, t, nil)
	for i := 0; i < t; i++ {
		row := m.RawRowView(i)
		for j := i + 1; j < t; j++ {
			row[j] = maskNegInf
		}
	}
	return m
}

// CombineMasks sums additive masks of identical shape. A position is hidden
// if any input mask hides it.
func CombineMasks(a, b *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Add(a, b)
	return out
}
