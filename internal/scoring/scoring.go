// Package scoring derives the purchase score and demand metrics from raw
// per-set fields. Every function here is pure: no I/O, no hidden state, and
// unparseable inputs coerce to zero instead of failing a batch.
package scoring

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Score blend weights and normalization scales. Policy constants, not derived.
const (
	weightPieces = 0.4
	weightRating = 0.4
	weightValue  = 0.2
	piecesScale  = 1000.0
	valueScale   = 100.0
)

// Constants tunes the demand model.
type Constants struct {
	// TotalUsers is the community size the owned/wanted counts are shares of.
	TotalUsers float64
	// SmoothingK damps the wanted/owned pressure at low counts.
	SmoothingK float64
	// WantedShareFor10 is the wanted share that maps to a demand base of 1.
	WantedShareFor10 float64
	// PressureMin/PressureMax bound the pressure factor of the demand score.
	PressureMin float64
	PressureMax float64
}

// DefaultConstants returns the production tuning.
func DefaultConstants() Constants {
	return Constants{
		TotalUsers:       374621,
		SmoothingK:       50.0,
		WantedShareFor10: 0.02,
		PressureMin:      0.5,
		PressureMax:      1.5,
	}
}

// Inputs are the raw upstream fields feeding the engine. Values may be
// missing, nil, or non-numeric; coercion handles all of it.
type Inputs struct {
	Pieces any
	Rating any
	Value  any // current market value
	Owned  any // users-owned count
	Wanted any // users-wanted count
}

// Metrics is one complete derived row.
type Metrics struct {
	Pieces float64
	Rating float64
	Value  float64
	Owned  float64
	Wanted float64

	OwnedRatio       float64
	WantedRatio      float64
	WantedOwnedRatio float64
	DemandPressure   float64
	DemandIndex      float64
	DemandScore      float64 // bounded to [0, 10]
	Score            float64
}

// Compute derives all metrics from the coerced inputs. Total: zero and
// missing denominators fall back to zero, never a fault.
func (c Constants) Compute(in Inputs) Metrics {
	m := Metrics{
		Pieces: Coerce(in.Pieces),
		Rating: Coerce(in.Rating),
		Value:  Coerce(in.Value),
		Owned:  Coerce(in.Owned),
		Wanted: Coerce(in.Wanted),
	}

	if c.TotalUsers != 0 {
		m.OwnedRatio = m.Owned / c.TotalUsers
		m.WantedRatio = m.Wanted / c.TotalUsers
	}
	if m.Owned != 0 {
		m.WantedOwnedRatio = m.Wanted / m.Owned
	}

	// SmoothingK guards the denominator, so pressure is defined at owned=0.
	m.DemandPressure = (m.Wanted + c.SmoothingK) / (m.Owned + c.SmoothingK)
	m.DemandIndex = m.WantedRatio * m.DemandPressure

	base := 0.0
	if c.WantedShareFor10 != 0 {
		base = clip(m.WantedRatio/c.WantedShareFor10, 0, 1)
	}
	pressureFactor := clip(m.DemandPressure, c.PressureMin, c.PressureMax)
	m.DemandScore = clip(10*base*pressureFactor, 0, 10)

	m.Score = weightPieces*(m.Pieces/piecesScale) + weightRating*m.Rating + weightValue*(m.Value/valueScale)

	return m
}

// Coerce converts an arbitrary upstream value to float64, yielding 0.0 for
// anything missing or non-numeric.
func Coerce(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0.0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0.0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

// Round2 rounds to two decimals, the precision persisted score rows use.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
