package order

import (
	"sort"
	"sync"
	"time"
)

// OpenOrderSet 单一 symbol 的在途订单集合。
// 只在交易所确认之后写入：提交确认加单、撤销确认删单、成交回报减量。
// 乐观写入会让协调器把"已发送未确认"的订单当成不存在，从而重复下单。
type OpenOrderSet struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewOpenOrderSet 构造空集合。
func NewOpenOrderSet() *OpenOrderSet {
	return &OpenOrderSet{orders: make(map[string]Order)}
}

// ApplySubmitAck 记录一笔已被交易所确认的订单。
func (s *OpenOrderSet) ApplySubmitAck(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status == StatusNew {
		o.Status = StatusAcknowledged
	}
	s.orders[o.ID] = o
}

// ApplyCancelAck 移除一笔已确认撤销的订单。
func (s *OpenOrderSet) ApplyCancelAck(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if ok {
		delete(s.orders, id)
	}
	return o, ok
}

// ApplyFill 按成交回报减少剩余数量；完全成交时从集合移除。
// 返回更新后的订单与是否命中。
func (s *OpenOrderSet) ApplyFill(id string, qty float64, at time.Time) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	o.FilledQty += qty
	o.UpdatedAt = at
	if o.Remaining() <= 1e-12 {
		o.Status = StatusFilled
		delete(s.orders, id)
	} else {
		o.Status = StatusPartiallyFilled
		s.orders[id] = o
	}
	return o, true
}

// Get 按 ID 查询。
func (s *OpenOrderSet) Get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// BySide 返回指定方向的订单，按创建时间升序。
func (s *OpenOrderSet) BySide(side Side) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All 返回全部在途订单。
func (s *OpenOrderSet) All() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len 在途订单数量。
func (s *OpenOrderSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
