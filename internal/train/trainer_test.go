package train

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/dataset"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

func testModel(t *testing.T, seed int64) *model.Transformer {
	t.Helper()
	cfg := config.Model{
		DModel:       16,
		Heads:        2,
		Layers:       1,
		FFDim:        32,
		MaxSeqLen:    16,
		Dropout:      0,
		Eps:          1e-6,
		SrcVocabSize: 12,
		TgtVocabSize: 12,
	}
	m, err := model.New(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testTrainConfig() config.Train {
	cfg := config.DefaultTrain()
	cfg.Epochs = 1
	cfg.BatchSize = 2
	cfg.LearningRate = 1e-2
	cfg.ValFraction = 0
	cfg.LogEvery = 0
	return cfg
}

func toyPairs() []dataset.Pair {
	// Two fixed sentences: sos=1, eos=2, pad=0.
	return []dataset.Pair{
		{Src: []int{4, 5, 6}, Tgt: []int{1, 7, 8, 2}},
		{Src: []int{6, 5}, Tgt: []int{1, 9, 2}},
	}
}

func TestAdamMovesTowardMinimum(t *testing.T) {
	// Minimize f(x) = x^2 from x=5; Adam must steadily reduce |x|.
	p := model.NewParam("x", 1, 1)
	p.Value.Set(0, 0, 5)
	cfg := testTrainConfig()
	cfg.LearningRate = 0.1
	opt := NewAdam(cfg)
	for i := 0; i < 200; i++ {
		p.ZeroGrad()
		p.Grad.Set(0, 0, 2*p.Value.At(0, 0))
		opt.Step([]*model.Param{p})
	}
	if got := math.Abs(p.Value.At(0, 0)); got > 0.5 {
		t.Errorf("|x| after 200 steps = %v, want < 0.5", got)
	}
	if opt.StepCount() != 200 {
		t.Errorf("step count = %d, want 200", opt.StepCount())
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := model.NewParam("w", 2, 2)
	p.Value.Set(0, 0, 1)
	cfg := testTrainConfig()
	a := NewAdam(cfg)
	p.Grad.Set(0, 0, 0.5)
	a.Step([]*model.Param{p})

	b := NewAdam(cfg)
	b.LoadState(a.State())
	if b.StepCount() != a.StepCount() {
		t.Errorf("restored step = %d, want %d", b.StepCount(), a.StepCount())
	}

	// Continuing from restored state matches continuing the original.
	pa := model.NewParam("w", 2, 2)
	pa.Value.CloneFrom(p.Value)
	pb := model.NewParam("w", 2, 2)
	pb.Value.CloneFrom(p.Value)
	pa.Grad.Set(0, 0, 0.25)
	pb.Grad.Set(0, 0, 0.25)
	a.Step([]*model.Param{pa})
	b.Step([]*model.Param{pb})
	if !mat.EqualApprox(pa.Value, pb.Value, 1e-15) {
		t.Error("restored optimizer diverges from original")
	}
}

func TestClipGradNorm(t *testing.T) {
	p := model.NewParam("w", 1, 3)
	p.Grad.SetRow(0, []float64{3, 4, 0})
	norm, clipped := ClipGradNorm([]*model.Param{p}, 1.0)
	if math.Abs(norm-5) > 1e-12 {
		t.Errorf("norm = %v, want 5", norm)
	}
	if !clipped {
		t.Error("expected clipping")
	}
	if got := GradNorm([]*model.Param{p}); math.Abs(got-1) > 1e-12 {
		t.Errorf("post-clip norm = %v, want 1", got)
	}

	p.Grad.SetRow(0, []float64{0.1, 0, 0})
	if _, clipped := ClipGradNorm([]*model.Param{p}, 1.0); clipped {
		t.Error("unexpected clipping below threshold")
	}
}

func TestStepReducesLossOnToyCorpus(t *testing.T) {
	m := testModel(t, 21)
	tr, err := New(m, testTrainConfig(), 0, rand.New(rand.NewSource(22)))
	if err != nil {
		t.Fatal(err)
	}
	pairs := toyPairs()
	batch := dataset.MakeBatches(pairs, 2, 16, 0, rand.New(rand.NewSource(23)))[0]

	first, err := tr.Step(batch)
	if err != nil {
		t.Fatal(err)
	}
	var last float64
	for i := 0; i < 30; i++ {
		last, err = tr.Step(batch)
		if err != nil {
			t.Fatal(err)
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
}

func TestStepRejectsEmptyBatch(t *testing.T) {
	m := testModel(t, 31)
	tr, err := New(m, testTrainConfig(), 0, rand.New(rand.NewSource(32)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Step(dataset.Batch{}); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	m := testModel(t, 41)
	tr, err := New(m, testTrainConfig(), 0, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	pairs := toyPairs()
	a, err := tr.Evaluate(pairs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Evaluate(pairs)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("evaluate not deterministic: %v vs %v", a, b)
	}
}

type fakeObserver struct {
	steps  int
	tokens int
}

func (f *fakeObserver) RecordStep(loss float64, tokens int, d time.Duration) {
	f.steps++
	f.tokens += tokens
}

func (f *fakeObserver) SetEpoch(epoch int) {}

func TestStepNotifiesObserver(t *testing.T) {
	m := testModel(t, 71)
	tr, err := New(m, testTrainConfig(), 0, rand.New(rand.NewSource(72)))
	if err != nil {
		t.Fatal(err)
	}
	obs := &fakeObserver{}
	tr.Observer = obs
	batch := dataset.MakeBatches(toyPairs(), 2, 16, 0, rand.New(rand.NewSource(73)))[0]
	if _, err := tr.Step(batch); err != nil {
		t.Fatal(err)
	}
	if obs.steps != 1 {
		t.Errorf("observer saw %d steps, want 1", obs.steps)
	}
	if obs.tokens == 0 {
		t.Error("observer saw no tokens")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	m := testModel(t, 51)
	tr, err := New(m, testTrainConfig(), 0, rand.New(rand.NewSource(52)))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Run(ctx, toyPairs(), nil, 16); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunCompletesAnEpoch(t *testing.T) {
	m := testModel(t, 61)
	tr, err := New(m, testTrainConfig(), 0, rand.New(rand.NewSource(62)))
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Run(context.Background(), toyPairs(), toyPairs(), 16); err != nil {
		t.Fatal(err)
	}
}
