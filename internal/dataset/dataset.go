package dataset

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Pair is one encoded parallel example. Tgt carries the SOS and EOS markers
// added at encoding time; neither side is padded.
type Pair struct {
	Src []int
	Tgt []int
}

// TextPair is one raw line of a parallel corpus before tokenization.
type TextPair struct {
	Src string
	Tgt string
}

// Batch groups encoded pairs padded to a uniform length per side.
type Batch struct {
	Src [][]int
	Tgt [][]int
}

// LoadTSV reads a tab-separated parallel corpus, one pair per line.
// Blank lines are skipped; a line without a tab is an error.
func LoadTSV(path string) ([]TextPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	var pairs []TextPair
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		src, tgt, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: missing tab separator", lineNo)
		}
		pairs = append(pairs, TextPair{Src: src, Tgt: tgt})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return pairs, nil
}

// Split partitions pairs into train and validation sets. The split is done
// on a shuffled copy so both sets draw from the whole corpus.
func Split(pairs []Pair, valFraction float64, rng *rand.Rand) (train, val []Pair) {
	shuffled := make([]Pair, len(pairs))
	copy(shuffled, pairs)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	nVal := int(float64(len(shuffled)) * valFraction)
	if nVal >= len(shuffled) {
		nVal = len(shuffled) - 1
	}
	if nVal < 0 {
		nVal = 0
	}
	return shuffled[nVal:], shuffled[:nVal]
}

func padTo(seqs [][]int, pad int) [][]int {
	maxLen := 0
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	out := make([][]int, len(seqs))
	for i, s := range seqs {
		padded := make([]int, maxLen)
		copy(padded, s)
		for j := len(s); j < maxLen; j++ {
			padded[j] = pad
		}
		out[i] = padded
	}
	return out
}

func truncate(s []int, maxLen int) []int {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// MakeBatches shuffles pairs and groups them into batches of at most
// batchSize, truncating to maxLen and padding each batch to its own longest
// sequence per side.
func MakeBatches(pairs []Pair, batchSize, maxLen, pad int, rng *rand.Rand) []Batch {
	shuffled := make([]Pair, len(pairs))
	copy(shuffled, pairs)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var batches []Batch
	for start := 0; start < len(shuffled); start += batchSize {
		end := start + batchSize
		if end > len(shuffled) {
			end = len(shuffled)
		}
		src := make([][]int, 0, end-start)
		tgt := make([][]int, 0, end-start)
		for _, p := range shuffled[start:end] {
			src = append(src, truncate(p.Src, maxLen))
			tgt = append(tgt, truncate(p.Tgt, maxLen))
		}
		b := Batch{Src: padTo(src, pad), Tgt: padTo(tgt, pad)}
		if len(b.Src) > 0 {
			metrics.RecordBatch(len(b.Src[0]))
		}
		batches = append(batches, b)
	}
	return batches
}

// Validate checks that every sequence in the batch is non-empty and padded
// to a uniform length per side.
func (b Batch) Validate() error {
	if len(b.Src) == 0 || len(b.Src) != len(b.Tgt) {
		return fmt.Errorf("batch sides have %d and %d rows", len(b.Src), len(b.Tgt))
	}
	srcLen, tgtLen := len(b.Src[0]), len(b.Tgt[0])
	if srcLen == 0 || tgtLen < 2 {
		return fmt.Errorf("batch sequence lengths %d and %d too short", srcLen, tgtLen)
	}
	for i := range b.Src {
		if len(b.Src[i]) != srcLen || len(b.Tgt[i]) != tgtLen {
			return fmt.Errorf("row %d is not padded to the batch length", i)
		}
	}
	return nil
}
