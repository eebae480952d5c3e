package playback

import "time"

// Gain is a linear output gain that moves toward its target a little on
// every sample, so mute and unmute never click.
type Gain struct {
	current float64
	target  float64
	step    float64
}

func NewGain(level float64) Gain {
	return Gain{current: level, target: level}
}

// SetTarget starts a ramp from the current level to target lasting ramp at
// the given sample rate. A non-positive ramp jumps immediately.
func (g *Gain) SetTarget(target float64, ramp time.Duration, rate int) {
	g.target = target
	samples := float64(ramp) * float64(rate) / float64(time.Second)
	if samples < 1 {
		g.current = target
		g.step = 0
		return
	}
	g.step = (target - g.current) / samples
}

// Next advances the ramp by one sample and returns the level to apply.
func (g *Gain) Next() float64 {
	if g.current == g.target {
		return g.current
	}
	g.current += g.step
	if (g.step > 0 && g.current > g.target) || (g.step < 0 && g.current < g.target) || g.step == 0 {
		g.current = g.target
	}
	return g.current
}

func (g *Gain) Current() float64 { return g.current }
func (g *Gain) Target() float64  { return g.target }
