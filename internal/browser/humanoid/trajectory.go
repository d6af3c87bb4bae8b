// internal/browser/humanoid/trajectory.go
package humanoid

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// easeInOutCubic accelerates through the first half and decelerates through the second.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration is the movement time for distance under Fitts's law, with
// +/-15% jitter. Fatigue slows the movement down.
func (h *Humanoid) fittsDuration(distance float64) time.Duration {
	const targetWidth = 30.0
	id := math.Log2(1.0 + distance/targetWidth)
	mt := (h.persona.fittsA + h.persona.fittsB*id) * (1.0 + h.fatigueLevel*0.5)
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	return time.Duration(mt * float64(time.Millisecond))
}

// idealPath is a cubic Bezier from start to end whose control points bow out
// sideways by a random fraction of the distance.
func (h *Humanoid) idealPath(start, end Vector2D, steps int) []Vector2D {
	span := end.Sub(start)
	dist := span.Mag()
	if dist < 1.0 || steps <= 1 {
		return []Vector2D{end}
	}
	dir := span.Normalize()
	side := dir.Perp()

	p1 := start.Add(dir.Mul(dist / 3.0)).Add(side.Mul(dist * 0.15 * (h.rng.Float64()*2 - 1)))
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(side.Mul(dist * 0.1 * (h.rng.Float64()*2 - 1)))

	path := make([]Vector2D, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		omt := 1.0 - t
		path[i] = start.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * t)).
			Add(p2.Mul(3 * omt * t * t)).
			Add(end.Mul(t * t * t))
	}
	return path
}

// gaussianNoise adds hand tremor to p.
func (h *Humanoid) gaussianNoise(p Vector2D) Vector2D {
	s := h.persona.gaussianStrength
	return Vector2D{X: p.X + h.rng.NormFloat64()*s, Y: p.Y + h.rng.NormFloat64()*s}
}

// simulateTrajectory dispatches mouse moves along the eased ideal path with
// Perlin drift and tremor. The final event lands exactly on end. Callers hold h.mu.
func (h *Humanoid) simulateTrajectory(ctx context.Context, start, end Vector2D) error {
	duration := h.fittsDuration(start.Dist(end))
	steps := int(duration.Seconds() * 100)
	if steps < 2 {
		steps = 2
	}
	path := h.idealPath(start, end, steps)

	startTime := time.Now()
	const perlinFrequency = 0.8
	for i := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := 1.0
		if len(path) > 1 {
			t = float64(i) / float64(len(path)-1)
		}
		eased := easeInOutCubic(t)
		idx := int(eased * float64(len(path)-1))
		if idx >= len(path) {
			idx = len(path) - 1
		}

		if wait := time.Until(startTime.Add(time.Duration(eased * float64(duration)))); wait > 0 {
			if err := h.executor.Sleep(ctx, wait); err != nil {
				return err
			}
		}

		point := path[idx]
		if i < len(path)-1 {
			elapsed := time.Since(startTime).Seconds() * perlinFrequency
			drift := Vector2D{
				X: h.noiseX.Noise1D(elapsed) * h.persona.perlinAmplitude,
				Y: h.noiseY.Noise1D(elapsed) * h.persona.perlinAmplitude,
			}
			point = h.gaussianNoise(point.Add(drift))
		}

		ev := schemas.MouseEventData{Type: schemas.MouseMove, X: point.X, Y: point.Y, Button: schemas.ButtonNone}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to dispatch mouse move event.", zap.Error(err))
			}
			return err
		}
		h.currentPos = point
	}
	return nil
}
