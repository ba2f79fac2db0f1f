package train

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/model"
)

// Adam applies the Adam update rule with bias correction. Moment estimates
// are keyed by parameter name so optimizer state survives checkpointing.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// AdamState is the serializable snapshot of the optimizer.
type AdamState struct {
	Step int
	M    map[string][]float64
	V    map[string][]float64
}

// NewAdam creates an optimizer from the training config.
func NewAdam(cfg config.Train) *Adam {
	return &Adam{
		LR:    cfg.LearningRate,
		Beta1: cfg.Beta1,
		Beta2: cfg.Beta2,
		Eps:   cfg.AdamEps,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

// Step applies one update to every parameter from its accumulated gradient.
func (a *Adam) Step(params []*model.Param) {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		grad := p.Grad.RawMatrix().Data
		value := p.Value.RawMatrix().Data

		m, ok := a.m[p.Name]
		if !ok {
			m = make([]float64, len(grad))
			a.m[p.Name] = m
		}
		v, ok := a.v[p.Name]
		if !ok {
			v = make([]float64, len(grad))
			a.v[p.Name] = v
		}

		for i, g := range grad {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			value[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
		}
	}
}

// StepCount returns the number of updates applied so far.
func (a *Adam) StepCount() int {
	return a.step
}

// State snapshots the optimizer for checkpointing.
func (a *Adam) State() AdamState {
	return AdamState{Step: a.step, M: a.m, V: a.v}
}

// LoadState restores a snapshot taken by State.
func (a *Adam) LoadState(s AdamState) {
	a.step = s.Step
	if s.M != nil {
		a.m = s.M
	}
	if s.V != nil {
		a.v = s.V
	}
}

// GradNorm returns the global L2 norm over all parameter gradients.
func GradNorm(params []*model.Param) float64 {
	sum := 0.0
	for _, p := range params {
		sum += math.Pow(mat.Norm(p.Grad, 2), 2)
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales all gradients so the global norm does not exceed
// maxNorm. It returns the pre-clip norm and whether rescaling happened.
func ClipGradNorm(params []*model.Param, maxNorm float64) (float64, bool) {
	norm := GradNorm(params)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm, false
	}
	scale := maxNorm / norm
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
	return norm, true
}
