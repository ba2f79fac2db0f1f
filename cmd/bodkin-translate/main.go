package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/23skdu/longbow-bodkin/internal/checkpoint"
	"github.com/23skdu/longbow-bodkin/internal/decode"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

var (
	ckptPath  = flag.String("checkpoint", "", "Path to a trained checkpoint")
	text      = flag.String("text", "", "Sentence to translate (reads stdin lines when empty)")
	beamWidth = flag.Int("beam", 1, "Beam width (1 is greedy)")
	maxLen    = flag.Int("max-len", 0, "Generation length cap (default: model maximum)")
	logLevel  = flag.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFormat = flag.String("log-format", "console", "Log format (console or json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *ckptPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -checkpoint is required")
		flag.Usage()
		os.Exit(1)
	}
	if err := run(); err != nil {
		logger.Log.Error("Translation failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cp, err := checkpoint.Load(*ckptPath)
	if err != nil {
		return err
	}
	// Weights come from the checkpoint, so the init seed is irrelevant.
	m, err := model.New(cp.ModelConfig, rand.New(rand.NewSource(0)))
	if err != nil {
		return err
	}
	if err := cp.Restore(m, nil); err != nil {
		return err
	}
	srcV, tgtV, err := cp.Vocabs()
	if err != nil {
		return err
	}
	logger.Log.Info("Model loaded",
		"path", *ckptPath,
		"epoch", cp.Epoch,
		"src_vocab", srcV.Size(),
		"tgt_vocab", tgtV.Size())

	limit := *maxLen
	if limit <= 0 || limit > m.Cfg.MaxSeqLen {
		limit = m.Cfg.MaxSeqLen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	translate := func(line string) error {
		ids := srcV.Encode(line, true)
		if len(ids) > m.Cfg.MaxSeqLen {
			ids = ids[:m.Cfg.MaxSeqLen]
		}
		var out []int
		if *beamWidth > 1 {
			out, err = decode.Beam(ctx, m, ids, *beamWidth, limit)
		} else {
			out, err = decode.Greedy(ctx, m, ids, limit)
		}
		if err != nil {
			return err
		}
		fmt.Println(tgtV.Decode(out))
		return nil
	}

	if *text != "" {
		return translate(*text)
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := translate(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
