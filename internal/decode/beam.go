package decode

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/model"
	"github.com/23skdu/longbow-bodkin/internal/vocab"
)

type hypothesis struct {
	seq  []int
	logp float64
	done bool
}

func extend(h hypothesis, token int, logp float64) hypothesis {
	seq := make([]int, len(h.seq)+1)
	copy(seq, h.seq)
	seq[len(h.seq)] = token
	return hypothesis{
		seq:  seq,
		logp: h.logp + logp,
		done: token == vocab.EosID,
	}
}

// Beam decodes a translation keeping the width highest-scoring partial
// hypotheses by cumulative log probability. Finished hypotheses compete
// unchanged against still-growing ones; ties resolve to the candidate
// generated first so decoding is deterministic. Width 1 reduces to greedy.
func Beam(ctx context.Context, m *model.Transformer, srcIDs []int, width, maxLen int) ([]int, error) {
	if width <= 0 {
		return nil, fmt.Errorf("beam width must be positive, got %d", width)
	}
	start := time.Now()
	memory, _, err := encodeSource(m, srcIDs)
	if err != nil {
		return nil, err
	}

	beams := []hypothesis{{seq: []int{vocab.SosID}}}
	for step := 0; step < maxLen; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		allDone := true
		var candidates []hypothesis
		for _, h := range beams {
			if h.done {
				candidates = append(candidates, h)
				continue
			}
			allDone = false
			row, err := nextLogits(m, h.seq, memory, srcIDs)
			if err != nil {
				return nil, err
			}
			logps := logSoftmax(row)
			for token, lp := range logps {
				candidates = append(candidates, extend(h, token, lp))
			}
		}
		if allDone {
			break
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].logp > candidates[j].logp
		})
		if len(candidates) > width {
			candidates = candidates[:width]
		}
		beams = candidates
	}

	best := beams[0]
	for _, h := range beams[1:] {
		if h.logp > best.logp {
			best = h
		}
	}
	truncated := !best.done
	metrics.RecordDecode(len(best.seq), width, truncated, time.Since(start))
	return best.seq, nil
}
