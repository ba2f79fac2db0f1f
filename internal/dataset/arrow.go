package dataset

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// corpusSchema is the Arrow IPC layout of a packed corpus: one row per pair,
// each side a list of int32 token ids.
var corpusSchema = arrow.NewSchema([]arrow.Field{
	{Name: "src", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "tgt", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
}, nil)

const arrowChunkSize = 4096

func appendSeq(lb *array.ListBuilder, seq []int) {
	lb.Append(true)
	vb := lb.ValueBuilder().(*array.Int32Builder)
	for _, id := range seq {
		vb.Append(int32(id))
	}
}

// WriteArrow packs encoded pairs into an Arrow IPC file at path.
func WriteArrow(path string, pairs []Pair) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create arrow corpus: %w", err)
	}
	defer f.Close()

	mem := memory.DefaultAllocator
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(corpusSchema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("arrow writer: %w", err)
	}

	b := array.NewRecordBuilder(mem, corpusSchema)
	defer b.Release()
	srcB := b.Field(0).(*array.ListBuilder)
	tgtB := b.Field(1).(*array.ListBuilder)

	flush := func() error {
		rec := b.NewRecord()
		defer rec.Release()
		return w.Write(rec)
	}

	for i, p := range pairs {
		appendSeq(srcB, p.Src)
		appendSeq(tgtB, p.Tgt)
		if (i+1)%arrowChunkSize == 0 {
			if err := flush(); err != nil {
				return fmt.Errorf("write arrow batch: %w", err)
			}
		}
	}
	if srcB.Len() > 0 {
		if err := flush(); err != nil {
			return fmt.Errorf("write arrow batch: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close arrow writer: %w", err)
	}
	return f.Close()
}

func listRows(col *array.List, row int) []int {
	start, end := col.ValueOffsets(row)
	values := col.ListValues().(*array.Int32)
	out := make([]int, 0, end-start)
	for k := start; k < end; k++ {
		out = append(out, int(values.Value(int(k))))
	}
	return out
}

// ReadArrow loads a corpus packed by WriteArrow.
func ReadArrow(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open arrow corpus: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("arrow reader: %w", err)
	}
	defer r.Close()

	if !r.Schema().Equal(corpusSchema) {
		return nil, fmt.Errorf("unexpected corpus schema: %s", r.Schema())
	}

	var pairs []Pair
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read arrow batch: %w", err)
		}
		srcCol := rec.Column(0).(*array.List)
		tgtCol := rec.Column(1).(*array.List)
		for row := 0; row < int(rec.NumRows()); row++ {
			pairs = append(pairs, Pair{
				Src: listRows(srcCol, row),
				Tgt: listRows(tgtCol, row),
			})
		}
	}
	return pairs, nil
}
