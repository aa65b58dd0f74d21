// Package market 定义行情输入的最小数据面：盘口快照与已实现波动率。
// 快照由上游行情源（或模拟撮合器）推入决策循环，本包不关心传输层。
package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSnapshot 快照字段非法（非有限值、非正数或买卖倒挂）。
var ErrInvalidSnapshot = errors.New("invalid orderbook snapshot")

// Snapshot 某一时刻的盘口快照，只保留最优买卖档。
type Snapshot struct {
	Symbol    string
	BestBid   float64
	BestAsk   float64
	BidQty    float64
	AskQty    float64
	Timestamp time.Time
}

// Mid 中间价。
func (s Snapshot) Mid() float64 {
	return (s.BestBid + s.BestAsk) / 2
}

// Spread 绝对价差。
func (s Snapshot) Spread() float64 {
	return s.BestAsk - s.BestBid
}

// SpreadBps 相对中间价的价差（基点）。
func (s Snapshot) SpreadBps() float64 {
	mid := s.Mid()
	if mid <= 0 {
		return 0
	}
	return s.Spread() / mid * 10000
}

// Validate 校验快照可用于定价：所有价量为有限正数，且未倒挂。
func (s Snapshot) Validate() error {
	for _, v := range []float64{s.BestBid, s.BestAsk, s.BidQty, s.AskQty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite field in %s", ErrInvalidSnapshot, s.Symbol)
		}
	}
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return fmt.Errorf("%w: non-positive price bid=%.8f ask=%.8f", ErrInvalidSnapshot, s.BestBid, s.BestAsk)
	}
	if s.BestBid >= s.BestAsk {
		return fmt.Errorf("%w: crossed book bid=%.8f ask=%.8f", ErrInvalidSnapshot, s.BestBid, s.BestAsk)
	}
	if s.BidQty < 0 || s.AskQty < 0 {
		return fmt.Errorf("%w: negative quantity", ErrInvalidSnapshot)
	}
	return nil
}
