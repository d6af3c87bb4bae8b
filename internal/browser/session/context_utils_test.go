// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	t.Run("ValuesComeFromPrimary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), ctxKey("tab"), "t1")
		secondary := context.WithValue(context.Background(), ctxKey("op"), "o1")

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()
		assert.Equal(t, "t1", combined.Value(ctxKey("tab")))
		assert.Nil(t, combined.Value(ctxKey("op")))
		assert.NoError(t, combined.Err())
	})

	t.Run("CanceledByEither", func(t *testing.T) {
		for name, cancelPrimary := range map[string]bool{"primary": true, "secondary": false} {
			t.Run(name, func(t *testing.T) {
				primary, cancel1 := context.WithCancel(context.Background())
				defer cancel1()
				secondary, cancel2 := context.WithCancel(context.Background())
				defer cancel2()

				combined, cancel := CombineContext(primary, secondary)
				defer cancel()
				if cancelPrimary {
					cancel1()
				} else {
					cancel2()
				}
				assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
				assert.ErrorIs(t, combined.Err(), context.Canceled)
			})
		}
	})

	t.Run("SecondaryDeadline", func(t *testing.T) {
		primary, cancel1 := context.WithTimeout(context.Background(), time.Minute)
		defer cancel1()
		secondary, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel2()

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()
		<-combined.Done()
		// The secondary only cancels, it does not lend its deadline.
		assert.ErrorIs(t, combined.Err(), context.Canceled)
		deadline, ok := combined.Deadline()
		require.True(t, ok)
		assert.True(t, deadline.After(time.Now().Add(30*time.Second)))
	})
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), ctxKey("tab"), "t1"), 10*time.Millisecond)
	defer cancel()
	detached := Detach(parent)

	<-parent.Done()
	assert.Equal(t, "t1", detached.Value(ctxKey("tab")))
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)

	derived, cancelDerived := context.WithTimeout(detached, 10*time.Millisecond)
	defer cancelDerived()
	<-derived.Done()
	assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
}

func TestTabRunner_RequiresChromedpContext(t *testing.T) {
	run := TabRunner(context.Background())
	err := run(context.Background(), chromedp.Sleep(time.Millisecond))
	assert.ErrorIs(t, err, chromedp.ErrInvalidContext)
}
