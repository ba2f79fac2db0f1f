package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/23skdu/longbow-bodkin/internal/checkpoint"
	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/dataset"
	"github.com/23skdu/longbow-bodkin/internal/decode"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/monitoring"
	"github.com/23skdu/longbow-bodkin/internal/train"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

var (
	dataPath  = flag.String("data", "", "Path to tab-separated parallel corpus")
	arrowPath = flag.String("arrow", "", "Path to Arrow corpus packed by corpus-pack")
	srcVocabP = flag.String("src-vocab", "", "Source vocabulary file (required with -arrow)")
	tgtVocabP = flag.String("tgt-vocab", "", "Target vocabulary file (required with -arrow)")
	ckptPath  = flag.String("checkpoint", "bodkin.ckpt", "Checkpoint output path")
	resume    = flag.String("resume", "", "Checkpoint to resume training from")
	minFreq   = flag.Int("min-freq", 1, "Minimum token frequency for the vocabulary")

	dModel  = flag.Int("d-model", 512, "Model dimension")
	heads   = flag.Int("heads", 8, "Attention heads")
	layers  = flag.Int("layers", 6, "Encoder and decoder layers")
	ffDim   = flag.Int("ff-dim", 2048, "Feed-forward hidden dimension")
	maxLen  = flag.Int("max-len", 350, "Maximum sequence length")
	dropout = flag.Float64("dropout", 0.1, "Dropout rate")

	epochs    = flag.Int("epochs", 20, "Training epochs")
	batchSize = flag.Int("batch", 8, "Batch size")
	lr        = flag.Float64("lr", 1e-4, "Adam learning rate")
	gradClip  = flag.Float64("grad-clip", 1.0, "Gradient norm clip (0 disables)")
	smoothing = flag.Float64("label-smoothing", 0.0, "Label smoothing mass")
	valFrac   = flag.Float64("val", 0.1, "Validation fraction of the corpus")
	seed      = flag.Int64("seed", 1, "Random seed")
	logEvery  = flag.Int("log-every", 50, "Log progress every N steps (0 disables)")
	samples   = flag.Int("samples", 3, "Sample translations logged after each epoch")

	metricsAddr = flag.String("metrics", ":9090", "Address to serve Prometheus metrics")
	logLevel    = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFormat   = flag.String("log-format", "console", "Log format (console or json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if err := run(); err != nil {
		logger.Log.Error("Training failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if (*dataPath == "") == (*arrowPath == "") {
		return fmt.Errorf("exactly one of -data or -arrow is required")
	}

	monitor := monitoring.New()
	go func() {
		if err := monitor.Start(*metricsAddr); err != nil && err != http.ErrServerClosed {
			logger.Log.Warn("Monitor stopped", "error", err)
		}
	}()
	defer monitor.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Log.Warn("Signal received, stopping after current step", "signal", sig.String())
		cancel()
	}()

	trainCfg := config.Train{
		Epochs:         *epochs,
		BatchSize:      *batchSize,
		LearningRate:   *lr,
		Beta1:          0.9,
		Beta2:          0.999,
		AdamEps:        1e-9,
		GradClip:       *gradClip,
		LabelSmoothing: *smoothing,
		ValFraction:    *valFrac,
		Seed:           *seed,
		LogEvery:       *logEvery,
	}
	if err := trainCfg.Validate(); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(trainCfg.Seed))

	// A resumed run must encode text with the checkpoint's vocabularies.
	var cp *checkpoint.Checkpoint
	var srcV, tgtV *vocab.Vocab
	if *resume != "" {
		var err error
		cp, err = checkpoint.Load(*resume)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		srcV, tgtV, err = cp.Vocabs()
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
	}

	pairs, srcV, tgtV, err := loadCorpus(srcV, tgtV)
	if err != nil {
		return err
	}
	logger.Log.Info("Corpus loaded",
		"pairs", len(pairs),
		"src_vocab", srcV.Size(),
		"tgt_vocab", tgtV.Size())

	var m *model.Transformer
	var opt *train.Adam
	startEpoch := 0
	if cp != nil {
		m, err = model.New(cp.ModelConfig, rng)
		if err != nil {
			return err
		}
		opt = train.NewAdam(trainCfg)
		if err := cp.Restore(m, opt); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		startEpoch = cp.Epoch
		logger.Log.Info("Resumed from checkpoint", "path", *resume, "epoch", startEpoch)
	} else {
		modelCfg := config.Model{
			DModel:       *dModel,
			Heads:        *heads,
			Layers:       *layers,
			FFDim:        *ffDim,
			MaxSeqLen:    *maxLen,
			Dropout:      *dropout,
			Eps:          1e-6,
			SrcVocabSize: srcV.Size(),
			TgtVocabSize: tgtV.Size(),
		}
		m, err = model.New(modelCfg, rng)
		if err != nil {
			return err
		}
	}

	trainer, err := train.New(m, trainCfg, vocab.PadID, rng)
	if err != nil {
		return err
	}
	if opt != nil {
		trainer.Opt = opt
	}
	trainer.Observer = monitor

	trainPairs, valPairs := dataset.Split(pairs, trainCfg.ValFraction, rng)
	logger.Log.Info("Starting training",
		"train_pairs", len(trainPairs),
		"val_pairs", len(valPairs),
		"epochs", trainCfg.Epochs,
		"from_epoch", startEpoch)

	// One configured epoch at a time so a checkpoint lands after each.
	epochCfg := trainCfg
	epochCfg.Epochs = 1
	trainer.Cfg = epochCfg
	for epoch := startEpoch + 1; epoch <= trainCfg.Epochs; epoch++ {
		monitor.SetEpoch(epoch)
		if err := trainer.Run(ctx, trainPairs, valPairs, m.Cfg.MaxSeqLen); err != nil {
			if ctx.Err() != nil {
				logger.Log.Warn("Training interrupted", "epoch", epoch)
				break
			}
			return err
		}
		cp := checkpoint.Capture(m, trainer.Opt, trainCfg, srcV, tgtV, epoch)
		if err := checkpoint.Save(*ckptPath, cp); err != nil {
			return err
		}
		logger.Log.Info("Checkpoint saved", "path", *ckptPath, "epoch", epoch)
		logSamples(ctx, m, srcV, tgtV, valPairs)
	}
	return nil
}

func loadCorpus(srcV, tgtV *vocab.Vocab) ([]dataset.Pair, *vocab.Vocab, *vocab.Vocab, error) {
	if *arrowPath != "" {
		if srcV == nil || tgtV == nil {
			if *srcVocabP == "" || *tgtVocabP == "" {
				return nil, nil, nil, fmt.Errorf("-arrow requires -src-vocab and -tgt-vocab")
			}
			var err error
			srcV, err = vocab.Load(*srcVocabP)
			if err != nil {
				return nil, nil, nil, err
			}
			tgtV, err = vocab.Load(*tgtVocabP)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		pairs, err := dataset.ReadArrow(*arrowPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return pairs, srcV, tgtV, nil
	}

	texts, err := dataset.LoadTSV(*dataPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if srcV == nil || tgtV == nil {
		srcLines := make([]string, len(texts))
		tgtLines := make([]string, len(texts))
		for i, p := range texts {
			srcLines[i] = p.Src
			tgtLines[i] = p.Tgt
		}
		srcV = vocab.Build(srcLines, *minFreq)
		tgtV = vocab.Build(tgtLines, *minFreq)
	}
	pairs := make([]dataset.Pair, len(texts))
	for i, p := range texts {
		pairs[i] = dataset.Pair{
			Src: srcV.Encode(p.Src, true),
			Tgt: tgtV.Encode(p.Tgt, true),
		}
	}
	return pairs, srcV, tgtV, nil
}

func logSamples(ctx context.Context, m *model.Transformer, srcV, tgtV *vocab.Vocab, valPairs []dataset.Pair) {
	n := *samples
	if n > len(valPairs) {
		n = len(valPairs)
	}
	for i := 0; i < n; i++ {
		out, err := decode.Greedy(ctx, m, valPairs[i].Src, m.Cfg.MaxSeqLen)
		if err != nil {
			logger.Log.Warn("Sample translation failed", "error", err)
			return
		}
		logger.Log.Info("Sample translation",
			"src", srcV.Decode(valPairs[i].Src),
			"ref", tgtV.Decode(valPairs[i].Tgt),
			"hyp", tgtV.Decode(out))
	}
}
