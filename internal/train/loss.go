package train

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNonFiniteLoss is returned when the loss evaluates to NaN or Inf.
// Training cannot recover from it; the step must abort.
var ErrNonFiniteLoss = errors.New("loss is not finite")

// CrossEntropy computes the summed cross-entropy of logits rows against
// target token ids, skipping rows whose target is pad. smoothing in [0,1)
// redistributes that much probability mass uniformly over the vocabulary.
//
// The returned gradient holds softmax(row)-q per counted row and zeros for
// pad rows; callers divide by tokens to get the mean-loss gradient.
func CrossEntropy(logits *mat.Dense, targets []int, pad int, smoothing float64) (loss float64, dLogits *mat.Dense, tokens int, err error) {
	rows, vocab := logits.Dims()
	if rows != len(targets) {
		return 0, nil, 0, fmt.Errorf("logits rows %d do not match %d targets", rows, len(targets))
	}
	dLogits = mat.NewDense(rows, vocab, nil)
	uniform := smoothing / float64(vocab)

	for i, target := range targets {
		if target == pad {
			continue
		}
		if target < 0 || target >= vocab {
			return 0, nil, 0, fmt.Errorf("target id %d out of range [0,%d)", target, vocab)
		}
		row := logits.RawRowView(i)
		max := floats.Max(row)
		sum := 0.0
		grad := dLogits.RawRowView(i)
		for j, v := range row {
			e := math.Exp(v - max)
			grad[j] = e
			sum += e
		}
		logSum := math.Log(sum) + max

		// loss_i = -sum_j q_j * log p_j with q the smoothed target.
		rowLoss := 0.0
		for j := range grad {
			p := grad[j] / sum
			q := uniform
			if j == target {
				q += 1 - smoothing
			}
			if q > 0 {
				rowLoss += q * (logSum - row[j])
			}
			grad[j] = p - q
		}
		loss += rowLoss
		tokens++
	}

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, nil, tokens, ErrNonFiniteLoss
	}
	return loss, dLogits, tokens, nil
}
