package decode

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

// Greedy autoregressively decodes a translation of srcIDs, at each step
// emitting the highest-logit token. The result includes the SOS and EOS
// markers; decoding stops at EOS or after maxLen generated tokens.
func Greedy(ctx context.Context, m *model.Transformer, srcIDs []int, maxLen int) ([]int, error) {
	start := time.Now()
	memory, _, err := encodeSource(m, srcIDs)
	if err != nil {
		return nil, err
	}

	seq := []int{vocab.SosID}
	truncated := true
	for len(seq) <= maxLen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := nextLogits(m, seq, memory, srcIDs)
		if err != nil {
			return nil, err
		}
		next := floats.MaxIdx(row)
		seq = append(seq, next)
		if next == vocab.EosID {
			truncated = false
			break
		}
	}
	metrics.RecordDecode(len(seq), 1, truncated, time.Since(start))
	return seq, nil
}

func encodeSource(m *model.Transformer, srcIDs []int) (memory, srcMask *mat.Dense, err error) {
	if len(srcIDs) == 0 {
		return nil, nil, fmt.Errorf("empty source sequence")
	}
	srcMask = model.PaddingMask(srcIDs, vocab.PadID, len(srcIDs))
	memory, err = m.Encode(srcIDs, srcMask, false)
	if err != nil {
		return nil, nil, err
	}
	return memory, srcMask, nil
}

// nextLogits runs one decoder step and returns the logits row for the last
// position of seq.
func nextLogits(m *model.Transformer, seq []int, memory *mat.Dense, srcIDs []int) ([]float64, error) {
	selfMask := model.CausalMask(len(seq))
	memMask := model.PaddingMask(srcIDs, vocab.PadID, len(seq))
	out, err := m.Decode(seq, memory, selfMask, memMask, false)
	if err != nil {
		return nil, err
	}
	logits := m.Project(out, false)
	return logits.RawRowView(len(seq) - 1), nil
}

// logSoftmax converts a logits row into log probabilities.
func logSoftmax(row []float64) []float64 {
	max := floats.Max(row)
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v - max)
	}
	logZ := math.Log(sum) + max
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v - logZ
	}
	return out
}
