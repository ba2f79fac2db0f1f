package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/train"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

// Checkpoint is the on-disk training snapshot: model weights keyed by
// parameter name, optimizer moments, both vocabularies, and the configs
// needed to rebuild an identical model.
type Checkpoint struct {
	ModelConfig config.Model
	TrainConfig config.Train

	Params map[string][]float64
	Shapes map[string][2]int

	Optimizer train.AdamState

	SrcVocab []string
	TgtVocab []string

	Epoch int
}

// Capture snapshots the current training state.
func Capture(m *model.Transformer, opt *train.Adam, trainCfg config.Train, src, tgt *vocab.Vocab, epoch int) *Checkpoint {
	cp := &Checkpoint{
		ModelConfig: m.Cfg,
		TrainConfig: trainCfg,
		Params:      make(map[string][]float64),
		Shapes:      make(map[string][2]int),
		SrcVocab:    src.Tokens(),
		TgtVocab:    tgt.Tokens(),
		Epoch:       epoch,
	}
	if opt != nil {
		cp.Optimizer = opt.State()
	}
	for _, p := range m.Params() {
		rows, cols := p.Value.Dims()
		data := make([]float64, rows*cols)
		copy(data, p.Value.RawMatrix().Data)
		cp.Params[p.Name] = data
		cp.Shapes[p.Name] = [2]int{rows, cols}
	}
	return cp
}

// Restore copies checkpoint weights into m and, when opt is non-nil,
// restores the optimizer moments. The model must have been built from the
// checkpoint's ModelConfig.
func (cp *Checkpoint) Restore(m *model.Transformer, opt *train.Adam) error {
	for _, p := range m.Params() {
		data, ok := cp.Params[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint missing parameter %q", p.Name)
		}
		rows, cols := p.Value.Dims()
		if shape := cp.Shapes[p.Name]; shape != [2]int{rows, cols} {
			return fmt.Errorf("parameter %q has shape %dx%d, checkpoint has %dx%d",
				p.Name, rows, cols, shape[0], shape[1])
		}
		copy(p.Value.RawMatrix().Data, data)
	}
	if opt != nil {
		opt.LoadState(cp.Optimizer)
	}
	return nil
}

// Vocabs rebuilds the source and target vocabularies from the snapshot.
func (cp *Checkpoint) Vocabs() (src, tgt *vocab.Vocab, err error) {
	src, err = vocab.FromTokens(cp.SrcVocab)
	if err != nil {
		return nil, nil, fmt.Errorf("source vocab: %w", err)
	}
	tgt, err = vocab.FromTokens(cp.TgtVocab)
	if err != nil {
		return nil, nil, fmt.Errorf("target vocab: %w", err)
	}
	return src, tgt, nil
}

// Save writes the checkpoint atomically: gob to a temp file in the target
// directory, then rename over path.
func Save(path string, cp *Checkpoint) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(cp); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		metrics.RecordCheckpoint(info.Size())
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var cp Checkpoint
	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := cp.ModelConfig.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint model config: %w", err)
	}
	return &cp, nil
}
