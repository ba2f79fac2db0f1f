package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/dataset"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

var (
	dataPath  = flag.String("data", "", "Path to tab-separated parallel corpus")
	outPath   = flag.String("out", "corpus.arrow", "Arrow corpus output path")
	srcVocabP = flag.String("src-vocab", "src-vocab.txt", "Source vocabulary output path")
	tgtVocabP = flag.String("tgt-vocab", "tgt-vocab.txt", "Target vocabulary output path")
	minFreq   = flag.Int("min-freq", 1, "Minimum token frequency for the vocabulary")
	logLevel  = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFormat = flag.String("log-format", "console", "Log format (console or json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -data is required")
		flag.Usage()
		os.Exit(1)
	}
	if err := run(); err != nil {
		logger.Log.Error("Packing failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	texts, err := dataset.LoadTSV(*dataPath)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("corpus %s is empty", *dataPath)
	}

	srcLines := make([]string, len(texts))
	tgtLines := make([]string, len(texts))
	for i, p := range texts {
		srcLines[i] = p.Src
		tgtLines[i] = p.Tgt
	}
	srcV := vocab.Build(srcLines, *minFreq)
	tgtV := vocab.Build(tgtLines, *minFreq)

	pairs := make([]dataset.Pair, len(texts))
	for i, p := range texts {
		pairs[i] = dataset.Pair{
			Src: srcV.Encode(p.Src, true),
			Tgt: tgtV.Encode(p.Tgt, true),
		}
	}

	if err := srcV.Save(*srcVocabP); err != nil {
		return err
	}
	if err := tgtV.Save(*tgtVocabP); err != nil {
		return err
	}
	if err := dataset.WriteArrow(*outPath, pairs); err != nil {
		return err
	}

	logger.Log.Info("Corpus packed",
		"pairs", len(pairs),
		"src_vocab", srcV.Size(),
		"tgt_vocab", tgtV.Size(),
		"out", *outPath)
	return nil
}
