package experiment

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Targets: []Region{square}}, false},
		{"with pairs and rounds", Config{
			Targets: []Region{square},
			Pairs:   []RegionPair{{Primary: square, Secondary: farSquare}},
			Rounds:  [][]int{{1}, {2, 3}},
		}, false},
		{"no targets", Config{}, true},
		{"inverted region", Config{Targets: []Region{{XMin: 10, XMax: 0, YMin: 0, YMax: 10}}}, true},
		{"nan bound", Config{Targets: []Region{{XMin: math.NaN(), XMax: 10, YMax: 10}}}, true},
		{"overlapping pair", Config{
			Targets: []Region{square},
			Pairs:   []RegionPair{{Primary: square, Secondary: Region{XMin: 100, XMax: 150, YMin: 0, YMax: 10}}},
		}, true},
		{"one round", Config{Targets: []Region{square}, Rounds: [][]int{{1}}}, true},
		{"empty round", Config{Targets: []Region{square}, Rounds: [][]int{{1}, {}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegionContainsIsClosed(t *testing.T) {
	assert.True(t, square.Contains(0, 0))
	assert.True(t, square.Contains(100, 100))
	assert.False(t, square.Contains(100.01, 50))
	assert.False(t, square.Contains(-1, 50))
}

func TestConfigDecodesWireFormat(t *testing.T) {
	raw := `{
		"targets": [{"x_min": 0, "x_max": 100, "y_min": 0, "y_max": 100}],
		"pairs": [{"primary": {"x_min": 0, "x_max": 100, "y_min": 0, "y_max": 100},
		           "secondary": {"x_min": 200, "x_max": 300, "y_min": 0, "y_max": 100}}]
	}`
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, square, cfg.Targets[0])
	assert.Equal(t, farSquare, cfg.Pairs[0].Secondary)
	assert.Nil(t, cfg.Rounds)
}

func TestConfigDecodesBareTargetArray(t *testing.T) {
	raw := ` [{"x_min": 0, "x_max": 100, "y_min": 0, "y_max": 100},
	          {"x_min": 200, "x_max": 300, "y_min": 0, "y_max": 100}]`
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []Region{square, farSquare}, cfg.Targets)
	assert.Empty(t, cfg.Pairs)
	assert.Nil(t, cfg.Rounds)

	assert.Error(t, json.Unmarshal([]byte(`[{"x_min": "left"}]`), &cfg))
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &cfg))
}

func TestPhaseText(t *testing.T) {
	b, err := json.Marshal(PhaseDivided)
	require.NoError(t, err)
	assert.Equal(t, `"divided"`, string(b))

	var p Phase
	require.NoError(t, json.Unmarshal([]byte(`"selective"`), &p))
	assert.Equal(t, PhaseSelective, p)
	assert.Error(t, p.UnmarshalText([]byte("warmup")))
}
