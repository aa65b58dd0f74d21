package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	m, err := NewManager(0.20, 0.30)
	require.NoError(t, err)

	equity := 10000.0
	tests := []struct {
		name     string
		notional float64
		want     BandState
	}{
		{"平仓位", 0, BandNormal},
		{"软限内多头", 1500, BandNormal},
		{"恰到软限", 2000, BandSoft},
		{"软硬之间", 2500, BandSoft},
		{"恰到硬限", 3000, BandHard},
		{"超出硬限", 4000, BandHard},
		{"空头对称", -2500, BandSoft},
		{"空头硬限", -3000, BandHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Classify(tt.notional, equity))
		})
	}

	assert.Equal(t, BandHard, m.Classify(100, 0), "权益非正视为硬限")
}

func TestSkewMultiplierLinear(t *testing.T) {
	m, err := NewManager(0.20, 0.30)
	require.NoError(t, err)

	equity := 10000.0
	assert.Zero(t, m.SkewMultiplier(1000, equity))
	assert.Zero(t, m.SkewMultiplier(2000, equity))
	assert.InDelta(t, 0.5, m.SkewMultiplier(2500, equity), 1e-9)
	assert.InDelta(t, 1.0, m.SkewMultiplier(3000, equity), 1e-9)
	assert.InDelta(t, 1.0, m.SkewMultiplier(5000, equity), 1e-9)
	// 空头对称
	assert.InDelta(t, 0.5, m.SkewMultiplier(-2500, equity), 1e-9)
}

func TestAllowSides(t *testing.T) {
	m, err := NewManager(0.20, 0.30)
	require.NoError(t, err)

	equity := 10000.0
	// 多头硬限：禁买、允卖
	assert.False(t, m.AllowBid(3000, equity))
	assert.True(t, m.AllowAsk(3000, equity))
	// 空头硬限：允买、禁卖
	assert.True(t, m.AllowBid(-3000, equity))
	assert.False(t, m.AllowAsk(-3000, equity))
	// 软限内双边放行
	assert.True(t, m.AllowBid(1000, equity))
	assert.True(t, m.AllowAsk(1000, equity))
}

func TestRatioClamped(t *testing.T) {
	m, err := NewManager(0.20, 0.30)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.Ratio(1500, 10000), 1e-9)
	assert.InDelta(t, 1.0, m.Ratio(9000, 10000), 1e-9)
	assert.InDelta(t, -1.0, m.Ratio(-9000, 10000), 1e-9)
	assert.Zero(t, m.Ratio(100, 0))
}

func TestNewManagerRejectsBadBands(t *testing.T) {
	_, err := NewManager(0, 0.3)
	assert.Error(t, err)
	_, err = NewManager(0.4, 0.3)
	assert.Error(t, err)
}
