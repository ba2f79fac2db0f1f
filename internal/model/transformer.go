package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/config"
)

// Transformer is the full encoder-decoder sequence-to-sequence model:
// token embeddings with sinusoidal positions, an encoder stack, a decoder
// stack, and a linear projection to target vocabulary logits.
type Transformer struct {
	Cfg config.Model

	SrcEmbed *Param // srcVocab x d
	TgtEmbed *Param // tgtVocab x d
	Pos      *PositionalEncoding
	SrcDrop  *Dropout
	TgtDrop  *Dropout
	Enc      *Encoder
	Dec      *Decoder
	Proj     *Linear // d x tgtVocab

	srcIDCache [][]int
	tgtIDCache [][]int
}

// New builds a Transformer from cfg with all weights initialized from rng.
func New(cfg config.Model, rng *rand.Rand) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	t := &Transformer{
		Cfg:      cfg,
		SrcEmbed: NewParam("src_embed.weight", cfg.SrcVocabSize, cfg.DModel),
		TgtEmbed: NewParam("tgt_embed.weight", cfg.TgtVocabSize, cfg.DModel),
		Pos:      NewPositionalEncoding(cfg.DModel, cfg.MaxSeqLen),
		SrcDrop:  NewDropout(cfg.Dropout, rng),
		TgtDrop:  NewDropout(cfg.Dropout, rng),
		Enc:      NewEncoder(cfg.DModel, cfg.Heads, cfg.FFDim, cfg.Layers, cfg.Dropout, cfg.Eps, rng),
		Dec:      NewDecoder(cfg.DModel, cfg.Heads, cfg.FFDim, cfg.Layers, cfg.Dropout, cfg.Eps, rng),
		Proj:     NewLinear("proj", cfg.DModel, cfg.TgtVocabSize, rng),
	}
	t.SrcEmbed.XavierInit(rng)
	t.TgtEmbed.XavierInit(rng)
	return t, nil
}

func (t *Transformer) embed(table *Param, ids []int) (*mat.Dense, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty token sequence")
	}
	if len(ids) > t.Pos.MaxLen() {
		return nil, fmt.Errorf("sequence length %d exceeds maximum %d", len(ids), t.Pos.MaxLen())
	}
	vocab, d := table.Value.Dims()
	x := mat.NewDense(len(ids), d, nil)
	scale := math.Sqrt(float64(d))
	for i, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("token id %d out of range [0,%d)", id, vocab)
		}
		row := x.RawRowView(i)
		src := table.Value.RawRowView(id)
		for j := range row {
			row[j] = src[j] * scale
		}
	}
	return t.Pos.Add(x), nil
}

func embedBackward(table *Param, ids []int, dX *mat.Dense) {
	_, d := table.Value.Dims()
	scale := math.Sqrt(float64(d))
	for i, id := range ids {
		grad := table.Grad.RawRowView(id)
		src := dX.RawRowView(i)
		for j := range grad {
			grad[j] += src[j] * scale
		}
	}
}

// Encode embeds the source sequence and runs it through the encoder stack,
// returning the memory attended to by the decoder.
func (t *Transformer) Encode(srcIDs []int, srcMask *mat.Dense, train bool) (*mat.Dense, error) {
	x, err := t.embed(t.SrcEmbed, srcIDs)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	x = t.SrcDrop.Forward(x, train)
	if train {
		t.srcIDCache = append(t.srcIDCache, srcIDs)
	}
	return t.Enc.Forward(x, srcMask, train), nil
}

// Decode embeds the shifted target sequence and runs it through the decoder
// stack against memory.
func (t *Transformer) Decode(tgtIDs []int, memory, selfMask, memMask *mat.Dense, train bool) (*mat.Dense, error) {
	x, err := t.embed(t.TgtEmbed, tgtIDs)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	x = t.TgtDrop.Forward(x, train)
	if train {
		t.tgtIDCache = append(t.tgtIDCache, tgtIDs)
	}
	return t.Dec.Forward(x, memory, selfMask, memMask, train), nil
}

// Project maps decoder output rows to raw target-vocabulary logits.
// No softmax is applied; the loss and the decoders normalize as needed.
func (t *Transformer) Project(x *mat.Dense, train bool) *mat.Dense {
	return t.Proj.Forward(x, train)
}

// Forward runs the full model over one source/target pair, building padding
// and causal masks from pad.
func (t *Transformer) Forward(srcIDs, tgtIDs []int, pad int, train bool) (*mat.Dense, error) {
	srcMask := PaddingMask(srcIDs, pad, len(srcIDs))
	memory, err := t.Encode(srcIDs, srcMask, train)
	if err != nil {
		return nil, err
	}
	selfMask := CombineMasks(CausalMask(len(tgtIDs)), PaddingMask(tgtIDs, pad, len(tgtIDs)))
	memMask := PaddingMask(srcIDs, pad, len(tgtIDs))
	out, err := t.Decode(tgtIDs, memory, selfMask, memMask, train)
	if err != nil {
		return nil, err
	}
	return t.Project(out, train), nil
}

// Backward propagates dLogits through the most recent cached Forward,
// accumulating gradients into every parameter.
func (t *Transformer) Backward(dLogits *mat.Dense) {
	dDecOut := t.Proj.Backward(dLogits)
	dTgtEmb, dMemory := t.Dec.Backward(dDecOut)
	dTgtEmb = t.TgtDrop.Backward(dTgtEmb)

	tgtIDs := t.tgtIDCache[len(t.tgtIDCache)-1]
	t.tgtIDCache = t.tgtIDCache[:len(t.tgtIDCache)-1]
	embedBackward(t.TgtEmbed, tgtIDs, dTgtEmb)

	dSrcEmb := t.Enc.Backward(dMemory)
	dSrcEmb = t.SrcDrop.Backward(dSrcEmb)

	srcIDs := t.srcIDCache[len(t.srcIDCache)-1]
	t.srcIDCache = t.srcIDCache[:len(t.srcIDCache)-1]
	embedBackward(t.SrcEmbed, srcIDs, dSrcEmb)
}

// Params returns every trainable parameter in a stable order.
func (t *Transformer) Params() []*Param {
	ps := []*Param{t.SrcEmbed, t.TgtEmbed}
	ps = append(ps, t.Enc.Params()...)
	ps = append(ps, t.Dec.Params()...)
	ps = append(ps, t.Proj.Params()...)
	return ps
}

// ZeroGrad clears every parameter gradient.
func (t *Transformer) ZeroGrad() {
	for _, p := range t.Params() {
		p.ZeroGrad()
	}
}
