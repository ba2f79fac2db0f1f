package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/dataset"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

// StepObserver receives training progress events, typically the health
// monitor.
type StepObserver interface {
	RecordStep(loss float64, tokens int, duration time.Duration)
	SetEpoch(epoch int)
}

// Trainer drives teacher-forced training of a Transformer over batches of
// encoded pairs. One Step is atomic: cancellation takes effect between steps.
type Trainer struct {
	Model    *model.Transformer
	Opt      *Adam
	Cfg      config.Train
	Pad      int
	Observer StepObserver

	rng *rand.Rand
	log *logger.Logger
}

// New creates a Trainer. rng drives batch shuffling only; the model holds
// its own dropout randomness.
func New(m *model.Transformer, cfg config.Train, pad int, rng *rand.Rand) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid train config: %w", err)
	}
	return &Trainer{
		Model: m,
		Opt:   NewAdam(cfg),
		Cfg:   cfg,
		Pad:   pad,
		rng:   rng,
		log:   logger.Log.With("component", "trainer"),
	}, nil
}

// Step runs one forward/backward/update over a batch and returns the mean
// cross-entropy per non-pad target token. A non-finite loss aborts the step
// before any parameter update and is not recoverable.
func (t *Trainer) Step(batch dataset.Batch) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, fmt.Errorf("bad batch: %w", err)
	}
	start := time.Now()
	t.Model.ZeroGrad()

	type itemGrad struct {
		dLogits *mat.Dense
	}
	grads := make([]itemGrad, 0, len(batch.Src))
	totalLoss := 0.0
	totalTokens := 0

	for i := range batch.Src {
		tgt := batch.Tgt[i]
		decIn := tgt[:len(tgt)-1]
		labels := tgt[1:]

		logits, err := t.Model.Forward(batch.Src[i], decIn, t.Pad, true)
		if err != nil {
			return 0, fmt.Errorf("forward pair %d: %w", i, err)
		}
		if nans, infs := model.CountNonFinite(logits); nans > 0 || infs > 0 {
			metrics.RecordNumericalInstability("logits", nans, infs)
			return 0, fmt.Errorf("forward pair %d: %w", i, ErrNonFiniteLoss)
		}
		loss, dLogits, tokens, err := CrossEntropy(logits, labels, t.Pad, t.Cfg.LabelSmoothing)
		if err != nil {
			if err == ErrNonFiniteLoss {
				metrics.RecordNumericalInstability("loss", 1, 0)
			}
			return 0, fmt.Errorf("loss pair %d: %w", i, err)
		}
		totalLoss += loss
		totalTokens += tokens
		grads = append(grads, itemGrad{dLogits: dLogits})
	}
	if totalTokens == 0 {
		return 0, fmt.Errorf("batch contains no non-pad target tokens")
	}

	// Caches unwind LIFO, so items backprop in reverse forward order.
	scale := 1 / float64(totalTokens)
	for i := len(grads) - 1; i >= 0; i-- {
		g := grads[i].dLogits
		g.Scale(scale, g)
		t.Model.Backward(g)
	}

	params := t.Model.Params()
	norm, clipped := ClipGradNorm(params, t.Cfg.GradClip)
	metrics.RecordGradNorm(norm, clipped)
	t.Opt.Step(params)

	meanLoss := totalLoss / float64(totalTokens)
	elapsed := time.Since(start)
	metrics.RecordTrainStep(meanLoss, totalTokens, elapsed)
	if t.Observer != nil {
		t.Observer.RecordStep(meanLoss, totalTokens, elapsed)
	}
	return meanLoss, nil
}

// Evaluate computes the mean loss over pairs without touching gradients or
// dropout.
func (t *Trainer) Evaluate(pairs []dataset.Pair) (float64, error) {
	totalLoss := 0.0
	totalTokens := 0
	for i, p := range pairs {
		decIn := p.Tgt[:len(p.Tgt)-1]
		labels := p.Tgt[1:]
		logits, err := t.Model.Forward(p.Src, decIn, t.Pad, false)
		if err != nil {
			return 0, fmt.Errorf("eval pair %d: %w", i, err)
		}
		loss, _, tokens, err := CrossEntropy(logits, labels, t.Pad, 0)
		if err != nil {
			return 0, fmt.Errorf("eval loss pair %d: %w", i, err)
		}
		totalLoss += loss
		totalTokens += tokens
	}
	if totalTokens == 0 {
		return 0, fmt.Errorf("no non-pad tokens to evaluate")
	}
	return totalLoss / float64(totalTokens), nil
}

// Run trains for the configured number of epochs, rebatching and reshuffling
// each epoch and evaluating on val after every epoch. ctx cancellation stops
// training at the next step boundary.
func (t *Trainer) Run(ctx context.Context, trainPairs, valPairs []dataset.Pair, maxLen int) error {
	for epoch := 1; epoch <= t.Cfg.Epochs; epoch++ {
		epochLog := t.log.With("epoch", epoch)
		batches := dataset.MakeBatches(trainPairs, t.Cfg.BatchSize, maxLen, t.Pad, t.rng)
		if len(batches) == 0 {
			return fmt.Errorf("epoch %d: no training batches", epoch)
		}
		epochStart := time.Now()
		epochLoss := 0.0

		for step, batch := range batches {
			if err := ctx.Err(); err != nil {
				epochLog.Warn("Training stopped", "step", step, "reason", err)
				return err
			}
			loss, err := t.Step(batch)
			if err != nil {
				return fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
			}
			epochLoss += loss
			if t.Cfg.LogEvery > 0 && (step+1)%t.Cfg.LogEvery == 0 {
				epochLog.Info("Training progress",
					"step", step+1,
					"steps", len(batches),
					"loss", loss)
			}
		}

		metrics.RecordEpoch()
		fields := []interface{}{
			"mean_loss", epochLoss / float64(len(batches)),
			"duration", time.Since(epochStart).Round(time.Millisecond).String(),
		}
		if len(valPairs) > 0 {
			valLoss, err := t.Evaluate(valPairs)
			if err != nil {
				return fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			metrics.RecordValidation(valLoss)
			fields = append(fields, "val_loss", valLoss)
		}
		epochLog.Info("Epoch complete", fields...)
	}
	return nil
}
