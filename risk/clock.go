package risk

import "time"

// Clock 时间源抽象，测试注入假时钟用。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 真实时钟。
var SystemClock Clock = systemClock{}
