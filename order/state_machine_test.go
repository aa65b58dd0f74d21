package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"提交确认", StatusNew, StatusAcknowledged, true},
		{"提交被拒", StatusNew, StatusRejected, true},
		{"确认后部分成交", StatusAcknowledged, StatusPartiallyFilled, true},
		{"确认后全部成交", StatusAcknowledged, StatusFilled, true},
		{"确认后撤销", StatusAcknowledged, StatusCanceled, true},
		{"部分成交继续成交", StatusPartiallyFilled, StatusPartiallyFilled, true},
		{"部分成交后撤销", StatusPartiallyFilled, StatusCanceled, true},
		{"终态不可复活", StatusFilled, StatusAcknowledged, false},
		{"撤销后不可成交", StatusCanceled, StatusFilled, false},
		{"NEW 不可直接成交", StatusNew, StatusFilled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestFinalAndCancelable(t *testing.T) {
	for _, s := range []Status{StatusFilled, StatusCanceled, StatusRejected, StatusExpired} {
		assert.True(t, IsFinal(s), s)
		assert.False(t, CanCancel(s), s)
	}
	for _, s := range []Status{StatusNew, StatusAcknowledged, StatusPartiallyFilled} {
		assert.False(t, IsFinal(s), s)
		assert.True(t, CanCancel(s), s)
	}
}

func TestOpenOrderSetLifecycle(t *testing.T) {
	s := NewOpenOrderSet()
	now := time.Now()

	s.ApplySubmitAck(Order{ID: "1", Symbol: "BTCUSDT", Side: SideBuy, Price: 49980, Qty: 0.002, Status: StatusNew, CreatedAt: now})
	o, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, StatusAcknowledged, o.Status)
	assert.Equal(t, 1, s.Len())

	// 部分成交保留在集合中
	o, ok = s.ApplyFill("1", 0.001, now)
	require.True(t, ok)
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.InDelta(t, 0.001, o.Remaining(), 1e-12)
	assert.Equal(t, 1, s.Len())

	// 完全成交后移除
	o, ok = s.ApplyFill("1", 0.001, now)
	require.True(t, ok)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 0, s.Len())

	// 未知 ID 的成交回报不崩溃
	_, ok = s.ApplyFill("missing", 1, now)
	assert.False(t, ok)
}

func TestOpenOrderSetCancel(t *testing.T) {
	s := NewOpenOrderSet()
	now := time.Now()
	s.ApplySubmitAck(Order{ID: "1", Side: SideBuy, Price: 1, Qty: 1, CreatedAt: now})
	s.ApplySubmitAck(Order{ID: "2", Side: SideSell, Price: 2, Qty: 1, CreatedAt: now})

	_, ok := s.ApplyCancelAck("1")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.BySide(SideBuy))
	assert.Len(t, s.BySide(SideSell), 1)

	_, ok = s.ApplyCancelAck("1")
	assert.False(t, ok, "重复撤销确认幂等")
}
