// internal/browser/humanoid/humanoid.go
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/config"
)

// KeyEnter is the control character SendKeys interprets as the Enter key.
const KeyEnter = "\r"

// Executor is the low-level input channel of one page.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error
	SendKeys(ctx context.Context, keys string) error
}

// persona is one sample of the configured population, fixed for the
// lifetime of a Humanoid.
type persona struct {
	fittsA, fittsB   float64
	gaussianStrength float64
	perlinAmplitude  float64
	holdMin, holdMax float64
	keyPauseMean     float64
	keyPauseStdDev   float64
	keyPauseMin      float64
	fatigueIncrease  float64
	fatigueRecovery  float64
}

// Humanoid drives one page's cursor and keyboard along human-like paths.
type Humanoid struct {
	// mu serializes actions; every exported method holds it for its duration.
	mu           sync.Mutex
	persona      persona
	logger       *zap.Logger
	executor     Executor
	currentPos   Vector2D
	fatigueLevel float64
	rng          *rand.Rand
	noiseX       *perlin.Perlin
	noiseY       *perlin.Perlin
}

// New samples a persona from cfg. A nil rng is seeded from the clock.
func New(cfg config.HumanoidConfig, executor Executor, logger *zap.Logger, rng *rand.Rand) *Humanoid {
	seed := time.Now().UnixNano()
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	} else {
		seed = rng.Int63()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sample := func(mean, stdDev float64) float64 {
		return math.Max(0, mean+rng.NormFloat64()*stdDev)
	}
	p := persona{
		fittsA:           sample(cfg.FittsAMean, cfg.FittsAStdDev),
		fittsB:           sample(cfg.FittsBMean, cfg.FittsBStdDev),
		gaussianStrength: sample(cfg.GaussianStrengthMean, cfg.GaussianStrengthStdDev),
		perlinAmplitude:  sample(cfg.PerlinAmplitudeMean, cfg.PerlinAmplitudeStdDev),
		holdMin:          float64(cfg.ClickHoldMinMs),
		holdMax:          math.Max(float64(cfg.ClickHoldMinMs), float64(cfg.ClickHoldMaxMs)),
		keyPauseMean:     cfg.KeyPauseMean,
		keyPauseStdDev:   cfg.KeyPauseStdDev,
		keyPauseMin:      cfg.KeyPauseMin,
		fatigueIncrease:  cfg.FatigueIncreaseRate,
		fatigueRecovery:  cfg.FatigueRecoveryRate,
	}

	// Standard Perlin noise parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		persona:  p,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rng,
		noiseX:   perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:   perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// Seed places the cursor at a random point of a width x height viewport
// without dispatching an event.
func (h *Humanoid) Seed(width, height float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentPos = Vector2D{X: h.rng.Float64() * width, Y: h.rng.Float64() * height}
}

// Position returns the last dispatched cursor position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// MoveTo moves the cursor to target along a noisy curved path.
func (h *Humanoid) MoveTo(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveLocked(ctx, target)
}

func (h *Humanoid) moveLocked(ctx context.Context, target Vector2D) error {
	dist := h.currentPos.Dist(target)
	h.updateFatigue(dist / 1000.0)
	return h.simulateTrajectory(ctx, h.currentPos, target)
}

// ClickAt moves to a randomized point inside box and presses the left button.
func (h *Humanoid) ClickAt(ctx context.Context, box schemas.Box) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveLocked(ctx, h.targetPoint(box)); err != nil {
		return err
	}

	press := schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          h.currentPos.X,
		Y:          h.currentPos.Y,
		Button:     schemas.ButtonLeft,
		Buttons:    1,
		ClickCount: 1,
	}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}

	mid := (h.persona.holdMin + h.persona.holdMax) / 2
	spread := (h.persona.holdMax - h.persona.holdMin) / 4
	holdMs := math.Min(h.persona.holdMax, math.Max(h.persona.holdMin, mid+h.rng.NormFloat64()*spread))
	if err := h.executor.Sleep(ctx, time.Duration(holdMs*float64(time.Millisecond))); err != nil {
		return err
	}

	release := press
	release.Type = schemas.MouseRelease
	release.Buttons = 0
	return h.executor.DispatchMouseEvent(ctx, release)
}

// targetPoint picks a point near the center of box, normally distributed
// over its inner 90% and clamped one pixel inside its edges.
func (h *Humanoid) targetPoint(box schemas.Box) Vector2D {
	cx, cy := box.Center()
	if box.Empty() {
		return Vector2D{X: cx, Y: cy}
	}
	x := cx + h.rng.NormFloat64()*box.Width*0.9/6.0
	y := cy + h.rng.NormFloat64()*box.Height*0.9/6.0

	clamp := func(v, lo, hi float64) float64 {
		if hi < lo {
			return (lo + hi) / 2
		}
		return math.Max(lo, math.Min(hi, v))
	}
	return Vector2D{
		X: clamp(x, box.X+1, box.X+box.Width-1),
		Y: clamp(y, box.Y+1, box.Y+box.Height-1),
	}
}

// Type sends text one character at a time with human inter-key pauses.
func (h *Humanoid) Type(ctx context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.updateFatigue(float64(len(text)) * 0.05)
	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.executor.Sleep(ctx, h.keyPause()); err != nil {
			return err
		}
		if err := h.executor.SendKeys(ctx, string(r)); err != nil {
			return err
		}
	}
	return nil
}

// PressEnter sends the Enter key after a key pause.
func (h *Humanoid) PressEnter(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.executor.Sleep(ctx, h.keyPause()); err != nil {
		return err
	}
	return h.executor.SendKeys(ctx, KeyEnter)
}

func (h *Humanoid) keyPause() time.Duration {
	ms := (h.persona.keyPauseMean + h.rng.NormFloat64()*h.persona.keyPauseStdDev) * (1.0 + h.fatigueLevel)
	ms = math.Max(h.persona.keyPauseMin, ms)
	return time.Duration(ms * float64(time.Millisecond))
}

// Pause idles for a normally distributed duration, scaled up by fatigue, and
// lets fatigue recover.
func (h *Humanoid) Pause(ctx context.Context, meanMs, stdDevMs float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := time.Duration((1.0 + h.fatigueLevel) * (meanMs + h.rng.NormFloat64()*stdDevMs) * float64(time.Millisecond))
	if d <= 0 {
		return nil
	}
	h.recoverFatigue(d)
	return h.executor.Sleep(ctx, d)
}

func (h *Humanoid) updateFatigue(effort float64) {
	h.fatigueLevel = math.Min(1.0, h.fatigueLevel+effort*h.persona.fatigueIncrease)
}

func (h *Humanoid) recoverFatigue(d time.Duration) {
	h.fatigueLevel = math.Max(0, h.fatigueLevel-d.Seconds()*h.persona.fatigueRecovery)
}
