// internal/browser/humanoid/humanoid_test.go
package humanoid

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/config"
)

// mockExecutor records dispatched input without sleeping.
type mockExecutor struct {
	mu       sync.Mutex
	events   []schemas.MouseEventData
	keys     []string
	sleeps   []time.Duration
	failMove error
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, d)
	return ctx.Err()
}

func (m *mockExecutor) DispatchMouseEvent(_ context.Context, data schemas.MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data.Type == schemas.MouseMove && m.failMove != nil {
		return m.failMove
	}
	m.events = append(m.events, data)
	return nil
}

func (m *mockExecutor) SendKeys(_ context.Context, keys string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, keys)
	return nil
}

func testConfig() config.HumanoidConfig {
	return config.HumanoidConfig{
		Enabled:                true,
		FittsAMean:             100,
		FittsAStdDev:           15,
		FittsBMean:             120,
		FittsBStdDev:           20,
		GaussianStrengthMean:   0.5,
		GaussianStrengthStdDev: 0.1,
		PerlinAmplitudeMean:    2.5,
		PerlinAmplitudeStdDev:  0.5,
		ClickHoldMinMs:         50,
		ClickHoldMaxMs:         120,
		KeyPauseMean:           70,
		KeyPauseStdDev:         28,
		KeyPauseMin:            35,
		FatigueIncreaseRate:    0.005,
		FatigueRecoveryRate:    0.01,
	}
}

func newTestHumanoid(exec *mockExecutor, seed int64) *Humanoid {
	return New(testConfig(), exec, zap.NewNop(), rand.New(rand.NewSource(seed)))
}

func TestClickAt(t *testing.T) {
	exec := &mockExecutor{}
	h := newTestHumanoid(exec, 42)
	h.Seed(1280, 800)

	box := schemas.Box{X: 400, Y: 300, Width: 120, Height: 40}
	require.NoError(t, h.ClickAt(context.Background(), box))

	require.GreaterOrEqual(t, len(exec.events), 4, "at least two moves, a press and a release")
	n := len(exec.events)
	press, release := exec.events[n-2], exec.events[n-1]
	assert.Equal(t, schemas.MousePress, press.Type)
	assert.Equal(t, int64(1), press.Buttons)
	assert.Equal(t, schemas.MouseRelease, release.Type)
	assert.Equal(t, int64(0), release.Buttons)
	assert.Equal(t, press.X, release.X)

	for _, ev := range exec.events[:n-2] {
		assert.Equal(t, schemas.MouseMove, ev.Type)
	}
	assert.True(t, press.X >= box.X+1 && press.X <= box.X+box.Width-1, "x=%f inside the box", press.X)
	assert.True(t, press.Y >= box.Y+1 && press.Y <= box.Y+box.Height-1, "y=%f inside the box", press.Y)
	assert.Equal(t, Vector2D{X: press.X, Y: press.Y}, h.Position())

	hold := exec.sleeps[len(exec.sleeps)-1]
	assert.GreaterOrEqual(t, hold, 50*time.Millisecond)
	assert.LessOrEqual(t, hold, 120*time.Millisecond)
}

func TestClickAt_MoveFailureStopsBeforePress(t *testing.T) {
	exec := &mockExecutor{failMove: errors.New("target closed")}
	h := newTestHumanoid(exec, 1)

	err := h.ClickAt(context.Background(), schemas.Box{X: 10, Y: 10, Width: 20, Height: 20})
	require.Error(t, err)
	assert.Empty(t, exec.events)
}

func TestClickAt_Cancelled(t *testing.T) {
	exec := &mockExecutor{}
	h := newTestHumanoid(exec, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.ClickAt(ctx, schemas.Box{X: 500, Y: 500, Width: 20, Height: 20}), context.Canceled)
}

func TestTargetPoint_StaysInsideSmallBoxes(t *testing.T) {
	h := newTestHumanoid(&mockExecutor{}, 7)
	box := schemas.Box{X: 10, Y: 20, Width: 4, Height: 4}
	for i := 0; i < 200; i++ {
		p := h.targetPoint(box)
		assert.True(t, p.X >= 11 && p.X <= 13)
		assert.True(t, p.Y >= 21 && p.Y <= 23)
	}

	cx, cy := schemas.Box{X: 5, Y: 5}.Center()
	assert.Equal(t, Vector2D{X: cx, Y: cy}, h.targetPoint(schemas.Box{X: 5, Y: 5}))
}

func TestType(t *testing.T) {
	exec := &mockExecutor{}
	h := newTestHumanoid(exec, 3)

	require.NoError(t, h.Type(context.Background(), "héllo"))
	require.NoError(t, h.PressEnter(context.Background()))

	assert.Equal(t, []string{"h", "é", "l", "l", "o", KeyEnter}, exec.keys)
	require.Len(t, exec.sleeps, 6)
	for _, d := range exec.sleeps {
		assert.GreaterOrEqual(t, d, 35*time.Millisecond, "key pause floor")
	}
}

func TestFatigue(t *testing.T) {
	h := newTestHumanoid(&mockExecutor{}, 9)
	h.updateFatigue(100)
	assert.InDelta(t, 0.5, h.fatigueLevel, 1e-9)
	h.updateFatigue(1e6)
	assert.Equal(t, 1.0, h.fatigueLevel, "fatigue is capped")

	require.NoError(t, h.Pause(context.Background(), 1000, 0))
	assert.Less(t, h.fatigueLevel, 1.0, "pausing recovers")
}

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, easeInOutCubic(0))
	assert.Equal(t, 0.5, easeInOutCubic(0.5))
	assert.Equal(t, 1.0, easeInOutCubic(1))
	assert.Less(t, easeInOutCubic(0.25), 0.25)
	assert.Greater(t, easeInOutCubic(0.75), 0.75)
}
