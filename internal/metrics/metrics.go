package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	TrainStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "train_steps_total",
		Help: "The total number of optimizer steps applied",
	})

	TrainTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "train_tokens_total",
		Help: "The total number of non-pad target tokens trained on",
	})

	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "train_loss",
		Help: "Cross-entropy loss of the most recent training step",
	})

	ValidationLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "validation_loss",
		Help: "Cross-entropy loss on the held-out split",
	})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "train_step_duration_seconds",
		Help:    "Duration of a full forward/backward/update step",
		Buckets: prometheus.DefBuckets,
	})

	GradNorm = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "train_grad_norm",
		Help:    "Global gradient L2 norm before clipping",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 50, 100, 1000},
	})

	GradClipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "train_grad_clipped_total",
		Help: "Number of steps whose gradients were rescaled by clipping",
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	EpochsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "train_epochs_completed_total",
		Help: "Number of completed training epochs",
	})

	TranslationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_translations_total",
		Help: "The total number of sentences decoded",
	})

	DecodeDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "decode_duration_seconds",
		Help: "Duration of a full autoregressive decode",
	})

	DecodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decode_length_tokens",
		Help:    "Distribution of decoded sequence lengths",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 350},
	})

	DecodeTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_truncated_total",
		Help: "Decodes that hit the length ceiling before emitting EOS",
	})

	BeamWidth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "decode_beam_width",
		Help:    "Beam widths requested for decoding",
		Buckets: []float64{1, 2, 4, 8, 16},
	})

	CheckpointSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpoint_saves_total",
		Help: "Number of checkpoints written",
	})

	CheckpointBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpoint_size_bytes",
		Help: "Size of the most recent checkpoint on disk",
	})

	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataset_batches_total",
		Help: "Batches produced by the dataset collaborator",
	})

	BatchSeqLen = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataset_batch_seq_len",
		Help:    "Padded sequence lengths of produced batches",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 350},
	})
)

// RecordTrainStep records one completed optimizer step.
func RecordTrainStep(loss float64, tokens int, duration time.Duration) {
	TrainStepsTotal.Inc()
	TrainTokensTotal.Add(float64(tokens))
	totalTokens.Add(int64(tokens))
	TrainLoss.Set(loss)
	StepDuration.Observe(duration.Seconds())
}

// RecordGradNorm records the pre-clip gradient norm; clipped reports whether
// the step was rescaled.
func RecordGradNorm(norm float64, clipped bool) {
	GradNorm.Observe(norm)
	if clipped {
		GradClipped.Inc()
	}
}

// RecordNumericalInstability counts NaN/Inf detections per tensor.
func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

// RecordValidation records the held-out loss after an epoch.
func RecordValidation(loss float64) {
	ValidationLoss.Set(loss)
}

// RecordEpoch marks an epoch as completed.
func RecordEpoch() {
	EpochsCompleted.Inc()
}

// RecordDecode records one completed autoregressive decode.
func RecordDecode(length, beamWidth int, truncated bool, duration time.Duration) {
	TranslationsTotal.Inc()
	DecodeLength.Observe(float64(length))
	BeamWidth.Observe(float64(beamWidth))
	DecodeDuration.Observe(duration.Seconds())
	if truncated {
		DecodeTruncated.Inc()
	}
}

// RecordCheckpoint records a checkpoint write.
func RecordCheckpoint(sizeBytes int64) {
	CheckpointSaves.Inc()
	CheckpointBytes.Set(float64(sizeBytes))
}

// RecordBatch records a batch produced by the dataset collaborator.
func RecordBatch(seqLen int) {
	BatchesTotal.Inc()
	BatchSeqLen.Observe(float64(seqLen))
}

// TotalTokens returns the number of target tokens trained on so far.
func TotalTokens() int64 {
	return totalTokens.Load()
}
