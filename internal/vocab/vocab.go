package vocab

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Special token ids. Every vocabulary reserves these four slots so encoded
// corpora stay valid across vocabulary rebuilds.
const (
	PadID = 0
	SosID = 1
	EosID = 2
	UnkID = 3
)

const (
	PadToken = "<pad>"
	SosToken = "<sos>"
	EosToken = "<eos>"
	UnkToken = "<unk>"
)

// Vocab maps word-level tokens to dense ids. Ids 0..3 are the specials.
type Vocab struct {
	tokens  []string
	tokenID map[string]int
}

// Tokenize lowercases s and splits it into words and individual punctuation
// marks.
func Tokenize(s string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func newWithSpecials() *Vocab {
	v := &Vocab{tokenID: make(map[string]int)}
	for _, tok := range []string{PadToken, SosToken, EosToken, UnkToken} {
		v.tokenID[tok] = len(v.tokens)
		v.tokens = append(v.tokens, tok)
	}
	return v
}

// Build constructs a vocabulary from raw corpus lines, keeping tokens seen
// at least minFreq times. Kept tokens are assigned ids by descending
// frequency, ties broken alphabetically, so builds are reproducible.
func Build(lines []string, minFreq int) *Vocab {
	if minFreq < 1 {
		minFreq = 1
	}
	counts := make(map[string]int)
	for _, line := range lines {
		for _, tok := range Tokenize(line) {
			counts[tok]++
		}
	}

	kept := make([]string, 0, len(counts))
	for tok, n := range counts {
		if n >= minFreq {
			kept = append(kept, tok)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if counts[kept[i]] != counts[kept[j]] {
			return counts[kept[i]] > counts[kept[j]]
		}
		return kept[i] < kept[j]
	})

	v := newWithSpecials()
	for _, tok := range kept {
		v.tokenID[tok] = len(v.tokens)
		v.tokens = append(v.tokens, tok)
	}
	return v
}

// FromTokens rebuilds a vocabulary from a token list in id order, as
// produced by Tokens.
func FromTokens(tokens []string) (*Vocab, error) {
	v := &Vocab{tokenID: make(map[string]int, len(tokens))}
	for _, tok := range tokens {
		if _, dup := v.tokenID[tok]; dup {
			return nil, fmt.Errorf("duplicate token %q at id %d", tok, len(v.tokens))
		}
		v.tokenID[tok] = len(v.tokens)
		v.tokens = append(v.tokens, tok)
	}
	for id, want := range []string{PadToken, SosToken, EosToken, UnkToken} {
		if id >= len(v.tokens) || v.tokens[id] != want {
			return nil, fmt.Errorf("vocab missing special %q at id %d", want, id)
		}
	}
	return v, nil
}

// Tokens returns the token list in id order.
func (v *Vocab) Tokens() []string {
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}

// Size returns the number of entries including the specials.
func (v *Vocab) Size() int {
	return len(v.tokens)
}

// ID returns the id for tok, or UnkID when the token is unknown.
func (v *Vocab) ID(tok string) int {
	if id, ok := v.tokenID[tok]; ok {
		return id
	}
	return UnkID
}

// Token returns the token for id, or UnkToken when out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return UnkToken
	}
	return v.tokens[id]
}

// Encode tokenizes s and maps it to ids. When markers is set the sequence
// is wrapped in SOS and EOS.
func (v *Vocab) Encode(s string, markers bool) []int {
	toks := Tokenize(s)
	ids := make([]int, 0, len(toks)+2)
	if markers {
		ids = append(ids, SosID)
	}
	for _, tok := range toks {
		ids = append(ids, v.ID(tok))
	}
	if markers {
		ids = append(ids, EosID)
	}
	return ids
}

// Decode maps ids back to a space-joined string, dropping the specials.
func (v *Vocab) Decode(ids []int) string {
	var toks []string
	for _, id := range ids {
		if id == PadID || id == SosID || id == EosID {
			continue
		}
		toks = append(toks, v.Token(id))
	}
	return strings.Join(toks, " ")
}

// Save writes the vocabulary to path, one token per line in id order.
func (v *Vocab) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vocab: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, tok := range v.tokens {
		if _, err := fmt.Fprintln(w, tok); err != nil {
			f.Close()
			return fmt.Errorf("write vocab: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush vocab: %w", err)
	}
	return f.Close()
}

// Load reads a vocabulary written by Save. The first four lines must be the
// special tokens in id order.
func Load(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return FromTokens(tokens)
}
