// Package risk 承载两类互补的风控：连续的风险缩放（ScalingEngine）
// 与离散的准入/熔断（Guardian + KillSwitch）。
package risk

import "errors"

// 准入拒绝原因。Guardian 用 %w 包装补充细节，调用方用 errors.Is 分类。
var (
	ErrNotionalTooSmall = errors.New("risk: order notional below minimum")
	ErrNotionalTooLarge = errors.New("risk: order notional above maximum")
	ErrPriceOutOfBand   = errors.New("risk: price outside allowed band")
	ErrRateLimited      = errors.New("risk: order rate limit reached")
	ErrInventoryLimit   = errors.New("risk: inventory hard limit")
	ErrKillSwitch       = errors.New("risk: kill switch triggered")
)
