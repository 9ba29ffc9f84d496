// Package scoring turns network feature vectors into normalized anomaly
// scores. A loaded model is preferred; a per-dimension z-score baseline is
// the always-available fallback.
package scoring

import (
	"fmt"
	"math"
	"sync"
)

// EngineKind names which scoring path produced a result.
type EngineKind string

const (
	EngineModel       EngineKind = "model"
	EngineStatistical EngineKind = "statistical"
	EngineNone        EngineKind = "none"
)

// Logistic transform parameters: z≈2 maps to score≈0.5.
const (
	logisticSteepness = 1.5
	logisticMidpoint  = 2.0
	// minStdDev is the variance floor below which a dimension carries no
	// signal and is skipped.
	minStdDev = 1e-9
)

// DefaultThreshold is the score at or above which a sample is anomalous.
const DefaultThreshold = 0.7

// ModelScorer is the opaque model dependency. Implementations score a
// feature vector into any numeric range; the engine clamps to [0,1].
// Loading and registering the artifact is the host's concern.
type ModelScorer interface {
	Score(features []float64) (float64, error)
}

// Result is the outcome of a single Score call.
type Result struct {
	Value       float64
	IsAnomalous bool
	Engine      EngineKind
}

// Engine scores feature vectors against a learned baseline.
type Engine struct {
	mu        sync.RWMutex
	model     ModelScorer
	mean      []float64
	std       []float64
	trained   bool
	threshold float64
}

// NewEngine builds an engine with the given anomaly threshold; zero or
// negative falls back to DefaultThreshold. model may be nil.
func NewEngine(threshold float64, model ModelScorer) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Engine{model: model, threshold: threshold}
}

// SetModel installs or replaces the model path at runtime.
func (e *Engine) SetModel(m ModelScorer) {
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
}

// UpdateBaseline recomputes the per-dimension mean and standard deviation
// from the given observations, replacing any previous statistical baseline.
func (e *Engine) UpdateBaseline(observations [][]float64) error {
	if len(observations) == 0 {
		return fmt.Errorf("scoring: no observations")
	}
	dims := len(observations[0])
	if dims == 0 {
		return fmt.Errorf("scoring: empty feature vector")
	}
	mean := make([]float64, dims)
	std := make([]float64, dims)
	for _, obs := range observations {
		if len(obs) != dims {
			return fmt.Errorf("scoring: ragged observations: want %d dims, got %d", dims, len(obs))
		}
		for i, v := range obs {
			mean[i] += v
		}
	}
	n := float64(len(observations))
	for i := range mean {
		mean[i] /= n
	}
	for _, obs := range observations {
		for i, v := range obs {
			d := v - mean[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / n)
	}

	e.mu.Lock()
	e.mean, e.std = mean, std
	e.trained = true
	e.mu.Unlock()
	return nil
}

// Trained reports whether a statistical baseline exists.
func (e *Engine) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained
}

// Score rates a feature vector in [0,1]. The model path is tried first;
// any inference failure or malformed output falls through to statistics.
// Score never returns an error: with no baseline at all it reports a
// neutral 0.5, not anomalous.
func (e *Engine) Score(features []float64) Result {
	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()

	if model != nil {
		if v, err := model.Score(features); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			v = clamp01(v)
			return Result{Value: v, IsAnomalous: v >= e.threshold, Engine: EngineModel}
		}
	}
	return e.scoreStatistical(features)
}

func (e *Engine) scoreStatistical(features []float64) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.trained || len(e.mean) == 0 {
		return Result{Value: 0.5, IsAnomalous: false, Engine: EngineNone}
	}
	maxZ := 0.0
	for i, v := range features {
		if i >= len(e.mean) {
			break
		}
		if e.std[i] < minStdDev {
			continue
		}
		z := math.Abs(v-e.mean[i]) / e.std[i]
		if z > maxZ {
			maxZ = z
		}
	}
	score := 1.0 / (1.0 + math.Exp(-logisticSteepness*(maxZ-logisticMidpoint)))
	return Result{Value: score, IsAnomalous: score >= e.threshold, Engine: EngineStatistical}
}

// Reset clears the statistical baseline and detaches the model.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.mean, e.std = nil, nil
	e.trained = false
	e.model = nil
	e.mu.Unlock()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
