package sim

import (
	"math"
	"math/rand"
)

// PriceProcess 几何布朗运动价格序列：
// S(t+Δt) = S(t) · exp((μ − σ²/2)Δt + σ√Δt·Z)。
// μ、σ 为年化参数，Δt 以年为单位。固定 seed 保证回放可复现。
type PriceProcess struct {
	price float64
	mu    float64
	sigma float64
	dt    float64
	rng   *rand.Rand
}

// NewPriceProcess 构造过程。dt 为单步时间（年），例如 1 秒 ≈ 1/31536000。
func NewPriceProcess(start, mu, sigma, dt float64, seed int64) *PriceProcess {
	if start <= 0 {
		start = 1
	}
	return &PriceProcess{
		price: start,
		mu:    mu,
		sigma: sigma,
		dt:    dt,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Next 前进一步并返回新价格。价格恒为正（指数形式保证）。
func (p *PriceProcess) Next() float64 {
	z := p.rng.NormFloat64()
	drift := (p.mu - p.sigma*p.sigma/2) * p.dt
	diffusion := p.sigma * math.Sqrt(p.dt) * z
	p.price *= math.Exp(drift + diffusion)
	return p.price
}

// Price 当前价格。
func (p *PriceProcess) Price() float64 {
	return p.price
}
