// internal/captcha/solver.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
	"github.com/xkilldash9x/scraperflow/internal/config"
	"github.com/xkilldash9x/scraperflow/internal/selector"
)

// ErrCaptchaUnsolved is returned once the attempt ceiling is exhausted.
var ErrCaptchaUnsolved = errors.New("captcha could not be solved")

const (
	// CheckboxLabel is the accessible name of the interstitial's checkbox.
	CheckboxLabel = "Verify you are human"

	challengeQuery = `#challenge-form, #challenge-running, .cf-turnstile, iframe[src*="challenges.cloudflare.com"]`
	challengeTitle = "just a moment"
)

// Page is what the solver needs from a page. browser.Page satisfies it.
type Page interface {
	Elements(ctx context.Context) (selector.ElementSource, error)
	AccessibilityCheckbox(ctx context.Context, label string) (schemas.Box, bool, error)
	ClickAt(ctx context.Context, box schemas.Box) error
	WaitSettled(ctx context.Context, timeout time.Duration) error
}

// Solver clears the Cloudflare-style "Just a moment..." interstitial.
type Solver struct {
	cfg    config.CaptchaConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Solver.
type Option func(*Solver)

// WithSleep replaces the jitter sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Solver) { s.sleep = fn }
}

// WithRand seeds the jitter.
func WithRand(rng *rand.Rand) Option {
	return func(s *Solver) { s.rng = rng }
}

// NewSolver creates a Solver.
func NewSolver(cfg config.CaptchaConfig, logger *zap.Logger, opts ...Option) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Solver{
		cfg:    cfg,
		logger: logger.Named("captcha"),
		sleep:  sleepCtx,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect reports whether page shows the interstitial.
func (s *Solver) Detect(ctx context.Context, page Page) (bool, error) {
	src, err := page.Elements(ctx)
	if err != nil {
		return false, err
	}
	marks, err := src.Query(ctx, challengeQuery)
	if err != nil {
		return false, err
	}
	if len(marks) > 0 {
		return true, nil
	}
	titles, err := src.Query(ctx, "title")
	if err != nil {
		return false, err
	}
	for _, t := range titles {
		if strings.Contains(strings.ToLower(t.Text), challengeTitle) {
			return true, nil
		}
	}
	return false, nil
}

// DetectAndSolve returns nil when no challenge is shown or once it clears.
// It clicks at most MaxAttempts times and then fails with ErrCaptchaUnsolved.
func (s *Solver) DetectAndSolve(ctx context.Context, page Page) error {
	if !s.cfg.Enabled {
		return nil
	}
	for attempt := 0; ; attempt++ {
		detected, err := s.Detect(ctx, page)
		if err != nil {
			return fmt.Errorf("captcha detection failed: %w", err)
		}
		if !detected {
			if attempt > 0 {
				s.logger.Info("Challenge cleared.", zap.Int("attempts", attempt))
			}
			return nil
		}
		if attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrCaptchaUnsolved, attempt)
		}
		s.logger.Warn("Challenge detected; attempting to solve.", zap.Int("attempt", attempt+1), zap.Int("max_attempts", s.cfg.MaxAttempts))
		if err := s.attempt(ctx, page); err != nil {
			return err
		}
	}
}

func (s *Solver) attempt(ctx context.Context, page Page) error {
	box, found, err := page.AccessibilityCheckbox(ctx, CheckboxLabel)
	if err != nil {
		return fmt.Errorf("failed to locate the challenge checkbox: %w", err)
	}
	if err := s.sleep(ctx, s.jitter()); err != nil {
		return err
	}
	if found {
		if err := page.ClickAt(ctx, box); err != nil {
			return fmt.Errorf("failed to click the challenge checkbox: %w", err)
		}
	} else {
		// The widget may still be loading.
		s.logger.Debug("Challenge checkbox not present yet.")
	}
	return page.WaitSettled(ctx, s.cfg.SettleTimeout)
}

func (s *Solver) jitter() time.Duration {
	span := s.cfg.MaxJitter - s.cfg.MinJitter
	if span <= 0 {
		return s.cfg.MinJitter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MinJitter + time.Duration(s.rng.Int63n(int64(span)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
