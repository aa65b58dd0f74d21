package inventory

import (
	"fmt"
	"math"
)

// BandState 库存所处区间。
type BandState int

const (
	// BandNormal 软限以内，正常双边报价。
	BandNormal BandState = iota
	// BandSoft 软限与硬限之间，报价偏移随库存线性加强。
	BandSoft
	// BandHard 触及或超出硬限，只允许减仓方向。
	BandHard
)

// String 实现 fmt.Stringer。
func (s BandState) String() string {
	switch s {
	case BandNormal:
		return "NORMAL"
	case BandSoft:
		return "SOFT"
	case BandHard:
		return "HARD"
	default:
		return "UNKNOWN"
	}
}

// Manager 库存区间分级器。阈值以权益占比表示（0.2 = 20%）。
type Manager struct {
	softPct float64
	hardPct float64
}

// NewManager 构造分级器，要求 0 < soft <= hard。
func NewManager(softPct, hardPct float64) (*Manager, error) {
	if softPct <= 0 || hardPct <= 0 || softPct > hardPct {
		return nil, fmt.Errorf("inventory bands must satisfy 0 < soft <= hard, got soft=%.4f hard=%.4f", softPct, hardPct)
	}
	return &Manager{softPct: softPct, hardPct: hardPct}, nil
}

// Classify 按签名库存名义与权益判定区间。权益非正时视为硬限。
func (m *Manager) Classify(notional, equity float64) BandState {
	if equity <= 0 {
		return BandHard
	}
	pct := math.Abs(notional) / equity
	switch {
	case pct >= m.hardPct:
		return BandHard
	case pct >= m.softPct:
		return BandSoft
	default:
		return BandNormal
	}
}

// Ratio 库存名义相对硬限的签名占比，钳制到 [-1, 1]。
func (m *Manager) Ratio(notional, equity float64) float64 {
	limit := equity * m.hardPct
	if limit <= 0 {
		return 0
	}
	return math.Min(math.Max(notional/limit, -1), 1)
}

// SkewMultiplier 软限到硬限之间 0→1 的线性系数，用于逐步加强报价偏移。
func (m *Manager) SkewMultiplier(notional, equity float64) float64 {
	if equity <= 0 {
		return 1
	}
	pct := math.Abs(notional) / equity
	switch {
	case pct <= m.softPct:
		return 0
	case pct >= m.hardPct:
		return 1
	default:
		return (pct - m.softPct) / (m.hardPct - m.softPct)
	}
}

// AllowBid 是否允许继续挂买单（多头触硬限后禁买）。
func (m *Manager) AllowBid(notional, equity float64) bool {
	return !(notional > 0 && m.Classify(notional, equity) == BandHard)
}

// AllowAsk 是否允许继续挂卖单（空头触硬限后禁卖）。
func (m *Manager) AllowAsk(notional, equity float64) bool {
	return !(notional < 0 && m.Classify(notional, equity) == BandHard)
}
