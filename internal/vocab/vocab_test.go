package vocab

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello, world!", []string{"hello", ",", "world", "!"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"don't stop", []string{"don", "'", "t", "stop"}},
		{"", nil},
		{"...", []string{".", ".", "."}},
	}
	for _, tt := range tests {
		if got := Tokenize(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildSpecials(t *testing.T) {
	v := Build([]string{"a b c"}, 1)
	for id, tok := range []string{PadToken, SosToken, EosToken, UnkToken} {
		if v.Token(id) != tok {
			t.Errorf("id %d = %q, want %q", id, v.Token(id), tok)
		}
		if v.ID(tok) != id {
			t.Errorf("token %q = id %d, want %d", tok, v.ID(tok), id)
		}
	}
	if v.Size() != 7 {
		t.Errorf("size = %d, want 7", v.Size())
	}
}

func TestBuildMinFreq(t *testing.T) {
	v := Build([]string{"rare common common common"}, 2)
	if v.ID("common") == UnkID {
		t.Error("frequent token dropped")
	}
	if v.ID("rare") != UnkID {
		t.Error("infrequent token kept")
	}
}

func TestBuildDeterministicOrder(t *testing.T) {
	lines := []string{"b a a c c c"}
	a := Build(lines, 1)
	b := Build(lines, 1)
	for id := 0; id < a.Size(); id++ {
		if a.Token(id) != b.Token(id) {
			t.Fatalf("id %d differs: %q vs %q", id, a.Token(id), b.Token(id))
		}
	}
	// c (3 uses) before a (2) before b (1).
	if a.ID("c") != 4 || a.ID("a") != 5 || a.ID("b") != 6 {
		t.Errorf("frequency order wrong: c=%d a=%d b=%d", a.ID("c"), a.ID("a"), a.ID("b"))
	}
}

func TestEncodeDecode(t *testing.T) {
	v := Build([]string{"the cat sat on the mat ."}, 1)
	ids := v.Encode("The cat sat.", true)
	if ids[0] != SosID || ids[len(ids)-1] != EosID {
		t.Errorf("markers missing: %v", ids)
	}
	if got := v.Decode(ids); got != "the cat sat ." {
		t.Errorf("decode = %q, want %q", got, "the cat sat .")
	}

	ids = v.Encode("the dog sat", false)
	if ids[1] != UnkID {
		t.Errorf("unknown word id = %d, want %d", ids[1], UnkID)
	}
	if got := v.Decode(ids); got != "the <unk> sat" {
		t.Errorf("decode = %q, want %q", got, "the <unk> sat")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	v := Build([]string{"alpha beta gamma , !"}, 1)
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := v.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != v.Size() {
		t.Fatalf("size = %d, want %d", loaded.Size(), v.Size())
	}
	for id := 0; id < v.Size(); id++ {
		if loaded.Token(id) != v.Token(id) {
			t.Errorf("id %d = %q, want %q", id, loaded.Token(id), v.Token(id))
		}
	}
}

func TestLoadRejectsMissingSpecials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	v := &Vocab{tokenID: map[string]int{"word": 0}, tokens: []string{"word"}}
	if err := v.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for vocab without specials")
	}
}
