package risk

import (
	"sync"
	"time"
)

// KillState 熔断开关状态。
type KillState int

const (
	// StateRunning 正常交易。
	StateRunning KillState = iota
	// StateTriggered 已熔断：禁止一切新订单，只允许撤单与减仓。
	StateTriggered
)

// String 实现 fmt.Stringer。
func (s KillState) String() string {
	if s == StateTriggered {
		return "TRIGGERED"
	}
	return "RUNNING"
}

// Reason 熔断触发原因。
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDailyLoss
	ReasonDrawdown
	ReasonInventoryBreach
	ReasonGatewayErrors
	ReasonAnomaly
	ReasonManual
)

// String 实现 fmt.Stringer。
func (r Reason) String() string {
	switch r {
	case ReasonDailyLoss:
		return "DAILY_LOSS"
	case ReasonDrawdown:
		return "DRAWDOWN"
	case ReasonInventoryBreach:
		return "INVENTORY_BREACH"
	case ReasonGatewayErrors:
		return "GATEWAY_ERRORS"
	case ReasonAnomaly:
		return "ANOMALY"
	case ReasonManual:
		return "MANUAL"
	default:
		return "NONE"
	}
}

// ParseReason 从持久化的字符串还原 Reason。
func ParseReason(s string) Reason {
	switch s {
	case "DAILY_LOSS":
		return ReasonDailyLoss
	case "DRAWDOWN":
		return ReasonDrawdown
	case "INVENTORY_BREACH":
		return ReasonInventoryBreach
	case "GATEWAY_ERRORS":
		return ReasonGatewayErrors
	case "ANOMALY":
		return ReasonAnomaly
	case "MANUAL":
		return ReasonManual
	default:
		return ReasonNone
	}
}

// Transition 一次状态迁移的审计记录。
type Transition struct {
	From   KillState
	To     KillState
	Reason Reason
	Detail string
	At     time.Time
}

// KillSwitch 单向熔断开关：触发后只能由运维显式 Reset 复位，
// 重复触发不覆盖首个原因。所有迁移写入审计日志。
type KillSwitch struct {
	mu          sync.RWMutex
	state       KillState
	reason      Reason
	detail      string
	triggeredAt time.Time
	transitions []Transition
	clock       Clock
}

// NewKillSwitch 构造处于 Running 状态的开关。
func NewKillSwitch(clock Clock) *KillSwitch {
	if clock == nil {
		clock = SystemClock
	}
	return &KillSwitch{clock: clock}
}

// Trigger 触发熔断。首次触发返回 true；已触发状态下返回 false 且保留原始原因。
func (k *KillSwitch) Trigger(reason Reason, detail string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == StateTriggered {
		return false
	}
	now := k.clock.Now()
	k.state = StateTriggered
	k.reason = reason
	k.detail = detail
	k.triggeredAt = now
	k.transitions = append(k.transitions, Transition{
		From: StateRunning, To: StateTriggered, Reason: reason, Detail: detail, At: now,
	})
	return true
}

// Reset 显式复位。自动恢复是被排除的：熔断原因必须由人确认消除。
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateTriggered {
		return
	}
	k.transitions = append(k.transitions, Transition{
		From: StateTriggered, To: StateRunning, Reason: k.reason, Detail: "manual reset", At: k.clock.Now(),
	})
	k.state = StateRunning
	k.reason = ReasonNone
	k.detail = ""
	k.triggeredAt = time.Time{}
}

// Restore 从持久化状态恢复（冷启动）。已触发的熔断跨重启保持。
func (k *KillSwitch) Restore(triggered bool, reason Reason, detail string, at time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !triggered {
		return
	}
	k.state = StateTriggered
	k.reason = reason
	k.detail = detail
	k.triggeredAt = at
	k.transitions = append(k.transitions, Transition{
		From: StateRunning, To: StateTriggered, Reason: reason, Detail: "restored: " + detail, At: at,
	})
}

// IsTriggered 是否处于熔断状态。
func (k *KillSwitch) IsTriggered() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state == StateTriggered
}

// State 当前状态。
func (k *KillSwitch) State() KillState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Cause 触发原因与细节。
func (k *KillSwitch) Cause() (Reason, string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.reason, k.detail
}

// TriggeredAt 触发时间；未触发时为零值。
func (k *KillSwitch) TriggeredAt() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.triggeredAt
}

// Transitions 审计日志拷贝。
func (k *KillSwitch) Transitions() []Transition {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Transition, len(k.transitions))
	copy(out, k.transitions)
	return out
}
