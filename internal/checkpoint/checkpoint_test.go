package checkpoint

import (
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/train"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

func testSetup(t *testing.T, seed int64) (*model.Transformer, *train.Adam, config.Train, *vocab.Vocab, *vocab.Vocab) {
	t.Helper()
	cfg := config.Model{
		DModel:       8,
		Heads:        2,
		Layers:       1,
		FFDim:        16,
		MaxSeqLen:    16,
		Dropout:      0,
		Eps:          1e-6,
		SrcVocabSize: 7,
		TgtVocabSize: 7,
	}
	m, err := model.New(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatal(err)
	}
	trainCfg := config.DefaultTrain()
	opt := train.NewAdam(trainCfg)
	src := vocab.Build([]string{"un chat noir"}, 1)
	tgt := vocab.Build([]string{"a black cat"}, 1)
	return m, opt, trainCfg, src, tgt
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, opt, trainCfg, src, tgt := testSetup(t, 1)

	// One optimizer step so moments are non-trivial.
	params := m.Params()
	params[0].Grad.Set(0, 0, 0.5)
	opt.Step(params)

	cp := Capture(m, opt, trainCfg, src, tgt, 3)
	path := filepath.Join(t.TempDir(), "model.ckpt")
	if err := Save(path, cp); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Epoch != 3 {
		t.Errorf("epoch = %d, want 3", loaded.Epoch)
	}
	if loaded.ModelConfig != m.Cfg {
		t.Errorf("model config = %+v, want %+v", loaded.ModelConfig, m.Cfg)
	}

	// Restore into a differently-initialized model of the same shape.
	m2, err := model.New(loaded.ModelConfig, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatal(err)
	}
	opt2 := train.NewAdam(loaded.TrainConfig)
	if err := loaded.Restore(m2, opt2); err != nil {
		t.Fatal(err)
	}
	a, b := m.Params(), m2.Params()
	for i := range a {
		if !mat.EqualApprox(a[i].Value, b[i].Value, 0) {
			t.Errorf("parameter %q differs after restore", a[i].Name)
		}
	}
	if opt2.StepCount() != opt.StepCount() {
		t.Errorf("optimizer step = %d, want %d", opt2.StepCount(), opt.StepCount())
	}

	srcV, tgtV, err := loaded.Vocabs()
	if err != nil {
		t.Fatal(err)
	}
	if srcV.Size() != src.Size() || tgtV.Size() != tgt.Size() {
		t.Error("vocab sizes differ after restore")
	}
	if srcV.ID("chat") != src.ID("chat") {
		t.Error("source vocab ids differ after restore")
	}
}

func TestRestoreRejectsShapeMismatch(t *testing.T) {
	m, opt, trainCfg, src, tgt := testSetup(t, 2)
	cp := Capture(m, opt, trainCfg, src, tgt, 1)

	otherCfg := m.Cfg
	otherCfg.DModel = 16
	otherCfg.FFDim = 32
	m2, err := model.New(otherCfg, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}
	if err := cp.Restore(m2, nil); err == nil {
		t.Error("expected error restoring into mismatched model")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.ckpt")); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	m, opt, trainCfg, src, tgt := testSetup(t, 4)
	path := filepath.Join(t.TempDir(), "model.ckpt")
	if err := Save(path, Capture(m, opt, trainCfg, src, tgt, 1)); err != nil {
		t.Fatal(err)
	}
	// Overwrite with a later snapshot; the file must stay loadable.
	if err := Save(path, Capture(m, opt, trainCfg, src, tgt, 2)); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Epoch != 2 {
		t.Errorf("epoch = %d, want 2", loaded.Epoch)
	}
}
