package order

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition 非法的订单状态迁移。
var ErrInvalidTransition = errors.New("invalid order state transition")

// 合法迁移表。终态（FILLED/CANCELED/REJECTED/EXPIRED）没有出边。
var validTransitions = map[Status][]Status{
	StatusNew:             {StatusAcknowledged, StatusRejected, StatusExpired},
	StatusAcknowledged:    {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
}

// ValidateTransition 校验 from→to 是否合法。
func ValidateTransition(from, to Status) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsFinal 是否终态。
func IsFinal(s Status) bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanCancel 当前状态下能否发起撤单。
func CanCancel(s Status) bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusPartiallyFilled:
		return true
	}
	return false
}
