// Package order 定义订单模型、状态机、在途订单集合与报价生命周期协调器。
package order

import "time"

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status 订单状态。
type Status string

const (
	StatusNew             Status = "NEW"
	StatusAcknowledged    Status = "ACKNOWLEDGED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Order 一笔限价单。ID 由交易所（或模拟撮合器）分配，ClientID 由本地生成。
type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      Side
	Price     float64
	Qty       float64
	FilledQty float64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notional 名义价值。
func (o Order) Notional() float64 {
	return o.Price * o.Qty
}

// Remaining 未成交数量。
func (o Order) Remaining() float64 {
	r := o.Qty - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// IsOpen 是否仍在交易所挂着（可被成交或撤销）。
func (o Order) IsOpen() bool {
	switch o.Status {
	case StatusNew, StatusAcknowledged, StatusPartiallyFilled:
		return true
	}
	return false
}

// Intent 提交请求：尚未经过风控审批、尚未发往交易所的下单意图。
type Intent struct {
	Symbol     string
	Side       Side
	Price      float64
	Qty        float64
	ReduceOnly bool
}

// Notional 意图的名义价值。
func (i Intent) Notional() float64 {
	return i.Price * i.Qty
}
