// Package monitor 聚合观测面：结构化事件、指标、日志节流与事后成交分析。
// 决策循环只向本包单向发射事件，任何一条观测路径阻塞都不允许拖慢交易周期。
package monitor

import (
	"time"

	"go.uber.org/zap"
)

// EventType 结构化事件类型。
type EventType string

const (
	EventQuoteComputed       EventType = "quote_computed"
	EventOrderSubmitted      EventType = "order_submitted"
	EventOrderCanceled       EventType = "order_canceled"
	EventOrderRejected       EventType = "order_rejected"
	EventOrderDeferred       EventType = "order_deferred"
	EventFill                EventType = "fill"
	EventRiskMultiplier      EventType = "risk_multiplier_updated"
	EventKillSwitchTriggered EventType = "kill_switch_triggered"
	EventKillSwitchReset     EventType = "kill_switch_reset"
	EventDailyRollover       EventType = "daily_rollover"
)

// Event 一条结构化事件。Fields 的所有权转移给 sink。
type Event struct {
	Type   EventType
	Symbol string
	At     time.Time
	Fields map[string]interface{}
}

// Sink 事件出口。实现必须快速返回，不得阻塞调用方。
type Sink interface {
	Emit(Event)
}

// LogSink 把事件写成结构化日志。
type LogSink struct {
	log *zap.Logger
}

// NewLogSink 构造日志 sink。
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("events")}
}

// Emit 实现 Sink。
func (s *LogSink) Emit(e Event) {
	fields := make([]zap.Field, 0, len(e.Fields)+2)
	fields = append(fields, zap.String("symbol", e.Symbol), zap.Time("at", e.At))
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch e.Type {
	case EventKillSwitchTriggered:
		s.log.Error(string(e.Type), fields...)
	case EventOrderRejected, EventKillSwitchReset:
		s.log.Warn(string(e.Type), fields...)
	default:
		s.log.Info(string(e.Type), fields...)
	}
}

// NopSink 丢弃所有事件，测试用。
type NopSink struct{}

// Emit 实现 Sink。
func (NopSink) Emit(Event) {}

// MultiSink 把事件扇出到多个 sink。
type MultiSink []Sink

// Emit 实现 Sink。
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
