// Package pricing 由盘口快照、库存与波动率计算双边目标报价。
// 本包是纯计算：不持有仓位、不触网、不产生副作用，方便在表驱动测试里穷举边界。
package pricing

import "time"

// Quote 一次刷新周期的双边目标报价。Size 为 0 表示该侧本周期不报价。
type Quote struct {
	Symbol      string
	BidPrice    float64
	AskPrice    float64
	BidSize     float64
	AskSize     float64
	GeneratedAt time.Time
}

// Mid 报价中点。
func (q Quote) Mid() float64 {
	return (q.BidPrice + q.AskPrice) / 2
}

// SpreadBps 报价价差（基点）。
func (q Quote) SpreadBps() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return (q.AskPrice - q.BidPrice) / mid * 10000
}

// TwoSided 是否双边有效。
func (q Quote) TwoSided() bool {
	return q.BidSize > 0 && q.AskSize > 0
}
