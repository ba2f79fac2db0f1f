package model

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func layerName(prefix string, i int) string {
	return prefix + "." + strconv.Itoa(i)
}

// rowSoftmax applies a numerically stable softmax to every row of s.
func rowSoftmax(s *mat.Dense) *mat.Dense {
	rows, cols := s.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := s.RawRowView(i)
		max := floats.Max(row)
		sum := 0.0
		dst := out.RawRowView(i)
		for j, v := range row {
			e := math.Exp(v - max)
			dst[j] = e
			sum += e
		}
		floats.Scale(1/sum, dst)
	}
	return out
}

// rowSoftmaxBackward computes dS for a row-wise softmax A=softmax(S),
// given upstream dA. dS[i,j] = A[i,j] * (dA[i,j] - sum_k dA[i,k]*A[i,k]).
func rowSoftmaxBackward(a, dA *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()
	dS := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		aRow := a.RawRowView(i)
		dRow := dA.RawRowView(i)
		dot := floats.Dot(dRow, aRow)
		dst := dS.RawRowView(i)
		for j := 0; j < cols; j++ {
			dst[j] = aRow[j] * (dRow[j] - dot)
		}
	}
	return dS
}

// colSum returns the column sums of m as a 1 x cols matrix.
func colSum(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	dst := out.RawRowView(0)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j] += m.At(i, j)
		}
	}
	return out
}

// CountNonFinite reports the number of NaN and Inf entries in m.
func CountNonFinite(m *mat.Dense) (nans, infs int) {
	for _, v := range m.RawMatrix().Data {
		switch {
		case math.IsNaN(v):
			nans++
		case math.IsInf(v, 0):
			infs++
		}
	}
	return nans, infs
}
