package metrics

import (
	"testing"
	"time"
)

func TestRecordTrainStep(t *testing.T) {
	before := TotalTokens()
	RecordTrainStep(3.21, 128, 40*time.Millisecond)
	if got := TotalTokens() - before; got != 128 {
		t.Errorf("TotalTokens delta = %d, want 128", got)
	}
}

func TestRecordGradNorm(t *testing.T) {
	RecordGradNorm(0.7, false)
	RecordGradNorm(12.5, true)
}

func TestRecordNumericalInstability(t *testing.T) {
	RecordNumericalInstability("logits", 2, 0)
	RecordNumericalInstability("loss", 0, 1)
	RecordNumericalInstability("clean", 0, 0)
}

func TestRecordValidation(t *testing.T) {
	RecordValidation(2.95)
}

func TestRecordDecode(t *testing.T) {
	RecordDecode(17, 4, false, 120*time.Millisecond)
	RecordDecode(350, 1, true, 800*time.Millisecond)
}

func TestRecordCheckpoint(t *testing.T) {
	RecordCheckpoint(1 << 20)
}

func TestRecordBatch(t *testing.T) {
	RecordBatch(64)
	RecordEpoch()
}
