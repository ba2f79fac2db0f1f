package config

import (
	"fmt"
)

// Model describes the transformer architecture. Vocabulary sizes are filled
// in after the vocabularies are built, before NewTransformer is called.
type Model struct {
	DModel    int
	Heads     int
	Layers    int
	FFDim     int
	MaxSeqLen int
	Dropout   float64
	Eps       float64

	SrcVocabSize int
	TgtVocabSize int
}

func (c *Model) Validate() error {
	if c.DModel <= 0 {
		return fmt.Errorf("invalid d_model: %d (must be positive)", c.DModel)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.DModel%c.Heads != 0 {
		return fmt.Errorf("d_model (%d) not divisible by heads (%d)", c.DModel, c.Heads)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", c.Layers)
	}
	if c.FFDim <= 0 {
		return fmt.Errorf("invalid ff_dim: %d (must be positive)", c.FFDim)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid max_seq_len: %d (must be positive)", c.MaxSeqLen)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("invalid dropout: %f (must be in [0, 1))", c.Dropout)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", c.Eps)
	}
	if c.SrcVocabSize <= 0 {
		return fmt.Errorf("invalid src_vocab_size: %d (must be positive)", c.SrcVocabSize)
	}
	if c.TgtVocabSize <= 0 {
		return fmt.Errorf("invalid tgt_vocab_size: %d (must be positive)", c.TgtVocabSize)
	}
	return nil
}

// HeadDim returns the per-head dimension d_model / heads.
func (c *Model) HeadDim() int {
	return c.DModel / c.Heads
}

// DefaultModel mirrors the base translation configuration
// (d_model 512, 8 heads, 6 layers, ff 2048).
func DefaultModel() Model {
	return Model{
		DModel:    512,
		Heads:     8,
		Layers:    6,
		FFDim:     2048,
		MaxSeqLen: 350,
		Dropout:   0.1,
		Eps:       1e-6,
	}
}

// Train holds the hyperparameters of a training run.
type Train struct {
	Epochs         int
	BatchSize      int
	LearningRate   float64
	Beta1          float64
	Beta2          float64
	AdamEps        float64
	GradClip       float64 // 0 disables clipping
	LabelSmoothing float64 // 0 disables smoothing
	ValFraction    float64
	Seed           int64
	LogEvery       int // 0 disables per-step progress logs
}

func (c *Train) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("invalid epochs: %d (must be positive)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("invalid learning_rate: %f (must be positive)", c.LearningRate)
	}
	if c.Beta1 <= 0 || c.Beta1 >= 1 {
		return fmt.Errorf("invalid beta1: %f (must be in (0, 1))", c.Beta1)
	}
	if c.Beta2 <= 0 || c.Beta2 >= 1 {
		return fmt.Errorf("invalid beta2: %f (must be in (0, 1))", c.Beta2)
	}
	if c.AdamEps <= 0 {
		return fmt.Errorf("invalid adam_eps: %f (must be positive)", c.AdamEps)
	}
	if c.GradClip < 0 {
		return fmt.Errorf("invalid grad_clip: %f (must be non-negative)", c.GradClip)
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 1 {
		return fmt.Errorf("invalid label_smoothing: %f (must be in [0, 1))", c.LabelSmoothing)
	}
	if c.ValFraction < 0 || c.ValFraction >= 1 {
		return fmt.Errorf("invalid val_fraction: %f (must be in [0, 1))", c.ValFraction)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("invalid log_every: %d (must be non-negative)", c.LogEvery)
	}
	return nil
}

func DefaultTrain() Train {
	return Train{
		Epochs:         20,
		BatchSize:      8,
		LearningRate:   1e-4,
		Beta1:          0.9,
		Beta2:          0.999,
		AdamEps:        1e-9,
		GradClip:       1.0,
		LabelSmoothing: 0.0,
		ValFraction:    0.1,
		Seed:           1,
		LogEvery:       50,
	}
}
