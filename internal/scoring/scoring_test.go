package scoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_ReferenceSet(t *testing.T) {
	// 75192-1 with the documented inputs.
	m := DefaultConstants().Compute(Inputs{
		Pieces: 7541,
		Rating: 4.8,
		Value:  850.0,
		Owned:  12000,
		Wanted: 3000,
	})

	assert.InDelta(t, 6.6364, m.Score, 1e-9)
	assert.InDelta(t, 12000.0/374621.0, m.OwnedRatio, 1e-12)
	assert.InDelta(t, 3000.0/374621.0, m.WantedRatio, 1e-12)
	assert.InDelta(t, 3050.0/12050.0, m.DemandPressure, 1e-12)
	assert.InDelta(t, (3000.0/374621.0)*(3050.0/12050.0), m.DemandIndex, 1e-12)
	// 10 * (wanted share / 0.02) * floored pressure, evaluated exactly.
	assert.InDelta(t, 10*(3000.0/374621.0)/0.02*0.5, m.DemandScore, 1e-9)
}

func TestCompute_ZeroOwned(t *testing.T) {
	m := DefaultConstants().Compute(Inputs{Owned: 0, Wanted: 5})

	assert.Equal(t, 0.0, m.WantedOwnedRatio, "owned=0 must not divide")
	assert.InDelta(t, 1.1, m.DemandPressure, 1e-12)
}

func TestCompute_AllMissing(t *testing.T) {
	m := DefaultConstants().Compute(Inputs{})

	assert.Equal(t, 0.0, m.Score)
	assert.Equal(t, 0.0, m.OwnedRatio)
	assert.Equal(t, 0.0, m.WantedRatio)
	assert.Equal(t, 0.0, m.DemandIndex)
	assert.Equal(t, 0.0, m.DemandScore)
	// Pressure degenerates to K/K.
	assert.Equal(t, 1.0, m.DemandPressure)
}

func TestCompute_GarbageInputsTotal(t *testing.T) {
	// None of these may panic or produce out-of-bounds scores.
	inputs := []Inputs{
		{Pieces: nil, Rating: nil, Value: nil, Owned: nil, Wanted: nil},
		{Pieces: "", Rating: "N/A", Value: "abc", Owned: "", Wanted: "x"},
		{Pieces: true, Rating: []any{1}, Value: map[string]any{}, Owned: false, Wanted: struct{}{}},
		{Pieces: "7541", Rating: "4.8", Value: "850", Owned: "0", Wanted: "0"},
	}
	for i, in := range inputs {
		m := DefaultConstants().Compute(in)
		assert.GreaterOrEqual(t, m.DemandScore, 0.0, "case %d", i)
		assert.LessOrEqual(t, m.DemandScore, 10.0, "case %d", i)
		assert.False(t, m.Score != m.Score, "case %d score is NaN", i)
	}
}

func TestCompute_DemandScoreBounds(t *testing.T) {
	c := DefaultConstants()

	// Saturated demand: huge wanted share and pressure above the cap.
	m := c.Compute(Inputs{Owned: 100, Wanted: 200000})
	assert.Equal(t, 10.0, m.DemandScore)

	// Pressure below the floor still scores with the floor factor.
	m = c.Compute(Inputs{Owned: 12000, Wanted: 3000})
	assert.InDelta(t, 10*(3000.0/374621.0)/0.02*0.5, m.DemandScore, 1e-9)
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{42, 42},
		{int64(7), 7},
		{uint(3), 3},
		{4.8, 4.8},
		{float32(2), 2},
		{"850.5", 850.5},
		{" 12 ", 12},
		{"", 0},
		{"N/A", 0},
		{"NaN", 0},
		{"Inf", 0},
		{true, 0},
		{[]int{1}, 0},
		{json.Number("4.8"), 4.8},
		{json.Number("bad"), 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Coerce(c.in), "input %#v", c.in)
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 6.64, Round2(6.6364))
	assert.Equal(t, 2.0, Round2(2.0025))
	assert.Equal(t, -1.24, Round2(-1.235))
}
