package decode

import (
	"context"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

func testModel(t *testing.T, seed int64) *model.Transformer {
	t.Helper()
	cfg := config.Model{
		DModel:       16,
		Heads:        2,
		Layers:       1,
		FFDim:        32,
		MaxSeqLen:    32,
		Dropout:      0.3, // must not affect decoding
		Eps:          1e-6,
		SrcVocabSize: 10,
		TgtVocabSize: 10,
	}
	m, err := model.New(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGreedyDeterministic(t *testing.T) {
	m := testModel(t, 1)
	src := []int{4, 7, 5, 2}
	a, err := Greedy(context.Background(), m, src, 12)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Greedy(context.Background(), m, src, 12)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("greedy runs differ: %v vs %v", a, b)
	}
}

func TestGreedyBounded(t *testing.T) {
	m := testModel(t, 2)
	seq, err := Greedy(context.Background(), m, []int{4, 5}, 6)
	if err != nil {
		t.Fatal(err)
	}
	if seq[0] != vocab.SosID {
		t.Errorf("seq starts with %d, want SOS", seq[0])
	}
	if len(seq) > 7 {
		t.Errorf("seq length %d exceeds bound", len(seq))
	}
	for i, id := range seq[1 : len(seq)-1] {
		if id == vocab.EosID {
			t.Errorf("EOS at interior position %d", i+1)
		}
	}
}

func TestGreedyEmptySource(t *testing.T) {
	m := testModel(t, 3)
	if _, err := Greedy(context.Background(), m, nil, 8); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestGreedyCancelled(t *testing.T) {
	m := testModel(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Greedy(ctx, m, []int{4}, 8); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBeamWidthOneMatchesGreedy(t *testing.T) {
	for seed := int64(10); seed < 15; seed++ {
		m := testModel(t, seed)
		src := []int{5, 8, 4}
		g, err := Greedy(context.Background(), m, src, 10)
		if err != nil {
			t.Fatal(err)
		}
		b, err := Beam(context.Background(), m, src, 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(g, b) {
			t.Errorf("seed %d: greedy %v, beam-1 %v", seed, g, b)
		}
	}
}

func TestBeamDeterministic(t *testing.T) {
	m := testModel(t, 20)
	src := []int{6, 4, 9}
	a, err := Beam(context.Background(), m, src, 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Beam(context.Background(), m, src, 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("beam runs differ: %v vs %v", a, b)
	}
}

func TestBeamRejectsBadWidth(t *testing.T) {
	m := testModel(t, 30)
	for _, width := range []int{0, -2} {
		if _, err := Beam(context.Background(), m, []int{4}, width, 8); err == nil {
			t.Errorf("expected error for width %d", width)
		}
	}
}

func TestLogSoftmax(t *testing.T) {
	row := []float64{1, 2, 3}
	lp := logSoftmax(row)
	sum := 0.0
	for _, v := range lp {
		if v > 0 {
			t.Errorf("log prob %v > 0", v)
		}
		sum += math.Exp(v)
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probs sum to %v, want 1", sum)
	}
}
