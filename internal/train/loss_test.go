package train

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	// Equal logits over V classes give loss ln(V) per token.
	logits := mat.NewDense(2, 4, nil)
	loss, _, tokens, err := CrossEntropy(logits, []int{1, 3}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 2 {
		t.Errorf("tokens = %d, want 2", tokens)
	}
	want := 2 * math.Log(4)
	if math.Abs(loss-want) > 1e-12 {
		t.Errorf("loss = %v, want %v", loss, want)
	}
}

func TestCrossEntropyIgnoresPad(t *testing.T) {
	logits := mat.NewDense(3, 4, []float64{
		1, 2, 3, 4,
		5, 5, 5, 5,
		0, 9, 0, 0,
	})
	loss, dLogits, tokens, err := CrossEntropy(logits, []int{1, 0, 0}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 1 {
		t.Errorf("tokens = %d, want 1", tokens)
	}
	if loss <= 0 {
		t.Errorf("loss = %v, want > 0", loss)
	}
	for i := 1; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if dLogits.At(i, j) != 0 {
				t.Errorf("pad row %d has grad %v at %d", i, dLogits.At(i, j), j)
			}
		}
	}
}

func TestCrossEntropyGradCheck(t *testing.T) {
	logits := mat.NewDense(3, 5, []float64{
		0.3, -1.2, 0.8, 0.1, -0.4,
		2.0, 0.0, -0.5, 1.1, 0.7,
		-0.9, 0.4, 0.2, -0.1, 1.5,
	})
	targets := []int{2, 4, 0}

	for _, smoothing := range []float64{0, 0.1} {
		_, dLogits, _, err := CrossEntropy(logits, targets, 0, smoothing)
		if err != nil {
			t.Fatal(err)
		}
		const h = 1e-6
		for i := 0; i < 3; i++ {
			for j := 0; j < 5; j++ {
				orig := logits.At(i, j)
				logits.Set(i, j, orig+h)
				lp, _, _, _ := CrossEntropy(logits, targets, 0, smoothing)
				logits.Set(i, j, orig-h)
				lm, _, _, _ := CrossEntropy(logits, targets, 0, smoothing)
				logits.Set(i, j, orig)
				numeric := (lp - lm) / (2 * h)
				analytic := dLogits.At(i, j)
				if math.Abs(numeric-analytic) > 1e-6 {
					t.Errorf("smoothing %v grad[%d][%d]: analytic %v, numeric %v",
						smoothing, i, j, analytic, numeric)
				}
			}
		}
	}
}

func TestCrossEntropyGradSumsToZero(t *testing.T) {
	// Rows of p-q sum to zero since both distributions normalize.
	logits := mat.NewDense(1, 6, []float64{3, 1, -2, 0.5, 4, -1})
	_, dLogits, _, err := CrossEntropy(logits, []int{4}, 0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for j := 0; j < 6; j++ {
		sum += dLogits.At(0, j)
	}
	if math.Abs(sum) > 1e-12 {
		t.Errorf("grad row sums to %v, want 0", sum)
	}
}

func TestCrossEntropyNonFinite(t *testing.T) {
	logits := mat.NewDense(1, 3, []float64{math.NaN(), 0, 0})
	_, _, _, err := CrossEntropy(logits, []int{1}, 0, 0)
	if !errors.Is(err, ErrNonFiniteLoss) {
		t.Errorf("err = %v, want ErrNonFiniteLoss", err)
	}
}

func TestCrossEntropyRejectsBadTarget(t *testing.T) {
	logits := mat.NewDense(1, 3, nil)
	if _, _, _, err := CrossEntropy(logits, []int{7}, 0, 0); err == nil {
		t.Error("expected error for out-of-range target")
	}
	if _, _, _, err := CrossEntropy(logits, []int{1, 2}, 0, 0); err == nil {
		t.Error("expected error for length mismatch")
	}
}
