package scoring

import (
	"errors"
	"math"
	"testing"
)

func jittered(base []float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		v := make([]float64, len(base))
		for j, b := range base {
			// Small deterministic jitter so every dimension carries
			// variance.
			v[j] = b + float64(i%5)-2
		}
		out[i] = v
	}
	return out
}

func TestScoreNoBaseline(t *testing.T) {
	e := NewEngine(0.7, nil)
	res := e.Score([]float64{443, 0, 1024, 200, 35})
	if res.Value != 0.5 {
		t.Errorf("expected neutral 0.5, got %f", res.Value)
	}
	if res.IsAnomalous {
		t.Error("neutral score must not be anomalous")
	}
	if res.Engine != EngineNone {
		t.Errorf("expected engine none, got %s", res.Engine)
	}
}

func TestScoreStatistical(t *testing.T) {
	e := NewEngine(0.7, nil)
	base := []float64{443, 0, 1024, 200, 35}
	if err := e.UpdateBaseline(jittered(base, 100)); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}

	near := e.Score(base)
	if near.Engine != EngineStatistical {
		t.Errorf("expected statistical engine, got %s", near.Engine)
	}
	if near.Value > 0.2 {
		t.Errorf("baseline-like vector scored %f, want near zero", near.Value)
	}
	if near.IsAnomalous {
		t.Error("baseline-like vector flagged anomalous")
	}

	far := e.Score([]float64{443, 0, 1024, 200, 100000})
	if far.Value < 0.95 {
		t.Errorf("distant vector scored %f, want approaching 1.0", far.Value)
	}
	if !far.IsAnomalous {
		t.Error("distant vector not flagged anomalous")
	}
}

func TestScoreSkipsZeroVarianceDims(t *testing.T) {
	e := NewEngine(0.7, nil)
	// First dimension constant, second with variance.
	obs := [][]float64{{443, 10}, {443, 12}, {443, 8}, {443, 11}, {443, 9}}
	if err := e.UpdateBaseline(obs); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	// Wild value in the constant dimension alone must not dominate.
	res := e.Score([]float64{99999, 10})
	if res.Value > 0.2 {
		t.Errorf("zero-variance dimension drove score to %f", res.Value)
	}
}

func TestUpdateBaselineErrors(t *testing.T) {
	e := NewEngine(0.7, nil)
	tests := []struct {
		name string
		obs  [][]float64
	}{
		{"empty", nil},
		{"empty vector", [][]float64{{}}},
		{"ragged", [][]float64{{1, 2}, {1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.UpdateBaseline(tt.obs); err == nil {
				t.Error("expected error")
			}
		})
	}
}

type stubModel struct {
	value float64
	err   error
}

func (m stubModel) Score([]float64) (float64, error) { return m.value, m.err }

func TestModelPath(t *testing.T) {
	tests := []struct {
		name       string
		model      ModelScorer
		wantEngine EngineKind
		wantValue  float64
	}{
		{"model preferred", stubModel{value: 0.9}, EngineModel, 0.9},
		{"output clamped high", stubModel{value: 3.2}, EngineModel, 1.0},
		{"output clamped low", stubModel{value: -0.4}, EngineModel, 0.0},
		{"inference error falls back", stubModel{err: errors.New("boom")}, EngineNone, 0.5},
		{"nan falls back", stubModel{value: math.NaN()}, EngineNone, 0.5},
		{"inf falls back", stubModel{value: math.Inf(1)}, EngineNone, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(0.7, tt.model)
			res := e.Score([]float64{1, 2, 3, 4, 5})
			if res.Engine != tt.wantEngine {
				t.Errorf("engine = %s, want %s", res.Engine, tt.wantEngine)
			}
			if math.Abs(res.Value-tt.wantValue) > 1e-9 {
				t.Errorf("value = %f, want %f", res.Value, tt.wantValue)
			}
		})
	}
}

func TestReset(t *testing.T) {
	e := NewEngine(0.7, stubModel{value: 0.9})
	if err := e.UpdateBaseline(jittered([]float64{1, 2}, 20)); err != nil {
		t.Fatalf("UpdateBaseline: %v", err)
	}
	e.Reset()
	if e.Trained() {
		t.Error("engine still trained after reset")
	}
	res := e.Score([]float64{1, 2})
	if res.Value != 0.5 || res.Engine != EngineNone {
		t.Errorf("post-reset score = %+v, want neutral", res)
	}
}

func TestThresholdDefaulting(t *testing.T) {
	for _, bad := range []float64{0, -1, 1.5} {
		e := NewEngine(bad, nil)
		if e.threshold != DefaultThreshold {
			t.Errorf("threshold %f not defaulted, got %f", bad, e.threshold)
		}
	}
}
