// Package exchange 定义决策核心对交易所的能力抽象与类型化错误。
// 具体适配器（真实交易所或 sim 模拟撮合器）在别处实现。
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-maker-core/inventory"
	"market-maker-core/market"
	"market-maker-core/order"
)

var (
	// ErrRateLimited 交易所侧限流。
	ErrRateLimited = errors.New("exchange: rate limited")
	// ErrNetworkTimeout 请求超时。
	ErrNetworkTimeout = errors.New("exchange: network timeout")
	// ErrOrderNotFound 撤销/查询的订单不存在。
	ErrOrderNotFound = errors.New("exchange: order not found")
)

// RejectedError 交易所明确拒单，附拒绝原因。
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("exchange: order rejected: %s", e.Reason)
}

// Trade 一笔逐笔成交记录。
type Trade struct {
	ID      string
	OrderID string
	Symbol  string
	Side    order.Side
	Price   float64
	Qty     float64
	Fee     float64
	IsMaker bool
	Ts      time.Time
}

// Fill 成交回报事件，推给决策循环。
type Fill struct {
	OrderID   string
	Symbol    string
	Side      order.Side
	Price     float64
	Qty       float64
	Remaining float64
	Fee       float64
	Ts        time.Time
}

// Gateway 决策核心需要的全部交易所能力。
// 实现必须尊重 ctx 取消；返回值里的订单/仓位均为值拷贝。
type Gateway interface {
	SubmitOrder(ctx context.Context, o order.Order) (order.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	CancelAllOrders(ctx context.Context, symbol string) (int, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]order.Order, error)
	GetPositions(ctx context.Context, symbol string) ([]inventory.Position, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	GetOrderBook(ctx context.Context, symbol string) (market.Snapshot, error)
}
