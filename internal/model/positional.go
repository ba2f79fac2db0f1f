package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PositionalEncoding holds the precomputed sinusoidal position table.
// Even feature indices carry sin terms, odd indices the matching cos terms.
type PositionalEncoding struct {
	table *mat.Dense // maxLen x d
}

// NewPositionalEncoding precomputes encodings for positions [0, maxLen).
func NewPositionalEncoding(d, maxLen int) *PositionalEncoding {
	table := mat.NewDense(maxLen, d, nil)
	for pos := 0; pos < maxLen; pos++ {
		row := table.RawRowView(pos)
		for i := 0; i < d; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(d))
			row[i] = math.Sin(angle)
			if i+1 < d {
				row[i+1] = math.Cos(angle)
			}
		}
	}
	return &PositionalEncoding{table: table}
}

// Add returns x plus the position encodings for its rows. The sequence length
// must not exceed the precomputed maximum.
func (pe *PositionalEncoding) Add(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Add(x, pe.table.Slice(0, rows, 0, cols))
	return out
}

// MaxLen returns the longest position the table covers.
func (pe *PositionalEncoding) MaxLen() int {
	rows, _ := pe.table.Dims()
	return rows
}
