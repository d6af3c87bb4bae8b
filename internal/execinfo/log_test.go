// internal/execinfo/log_test.go
package execinfo

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func types(records []schemas.ExecutionInfo) []schemas.ExecutionInfoType {
	out := make([]schemas.ExecutionInfoType, len(records))
	for i, r := range records {
		out[i] = r.Type
	}
	return out
}

func TestPushAndGet(t *testing.T) {
	l := New(zap.NewNop())
	l.Push(schemas.NewPageOpened(0, ""), true)
	l.Push(schemas.NewInstructionInfo(schemas.Marker{Name: "m"}, 0, nil, time.Millisecond), false)
	l.Push(schemas.NewSuccess(time.Second), true)

	got := l.Get()
	want := []schemas.ExecutionInfoType{schemas.InfoPageOpened, schemas.InfoInstruction, schemas.InfoSuccess}
	if diff := cmp.Diff(want, types(got)); diff != "" {
		t.Errorf("record order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Succeeded())

	// Get returns a copy.
	got[0].Type = schemas.InfoError
	assert.Equal(t, schemas.InfoPageOpened, l.Get()[0].Type)
}

func TestTerminal(t *testing.T) {
	l := New(nil)
	_, ok := l.Terminal()
	assert.False(t, ok)

	l.Push(schemas.NewError("boom", time.Second), true)
	rec, ok := l.Terminal()
	require.True(t, ok)
	assert.Equal(t, "boom", rec.Data.(schemas.ErrorInfo).Message)
	assert.False(t, l.Succeeded())
}

func TestFlushBatchesInOrder(t *testing.T) {
	l := New(zap.NewNop())
	ch, unsubscribe := l.Subscribe(4)
	defer unsubscribe()

	l.Push(schemas.NewPageOpened(0, ""), false)
	l.Push(schemas.NewPageOpened(1, ""), false)
	select {
	case <-ch:
		t.Fatal("nothing should be emitted before a flush")
	default:
	}

	l.Flush()
	batch := <-ch
	require.Len(t, batch, 2)
	assert.Equal(t, 0, batch[0].Data.(schemas.PageOpenedInfo).PageIndex)
	assert.Equal(t, 1, batch[1].Data.(schemas.PageOpenedInfo).PageIndex)

	// An empty flush emits nothing.
	l.Flush()
	select {
	case b := <-ch:
		t.Fatalf("unexpected batch %v", b)
	default:
	}

	l.Push(schemas.NewSuccess(0), true)
	batch = <-ch
	require.Len(t, batch, 1)
	assert.Equal(t, schemas.InfoSuccess, batch[0].Type)
}

func TestSlowSubscriberNeverBlocks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := New(zap.New(core))
	slow, unsubscribeSlow := l.Subscribe(1)
	defer unsubscribeSlow()
	fast, unsubscribeFast := l.Subscribe(8)
	defer unsubscribeFast()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			l.Push(schemas.NewPageOpened(i, ""), true)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked on a full subscriber")
	}

	assert.Equal(t, int64(2), l.Dropped())
	assert.Equal(t, 2, logs.FilterMessage("Subscriber is not keeping up; batch dropped.").Len())
	assert.Len(t, <-slow, 1)
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, (<-fast)[0].Data.(schemas.PageOpenedInfo).PageIndex)
	}
}

func TestCloseFlushesAndClosesSubscribers(t *testing.T) {
	l := New(zap.NewNop())
	ch, unsubscribe := l.Subscribe(0)

	var wg sync.WaitGroup
	var received []schemas.ExecutionInfo
	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range ch {
			received = append(received, batch...)
		}
	}()

	l.Push(schemas.NewPageOpened(0, ""), false)
	l.Push(schemas.NewSuccess(time.Second), false)
	l.Close()
	wg.Wait()

	assert.Len(t, received, 2)
	unsubscribe() // safe after Close

	// Pushing after Close only extends the history.
	l.Push(schemas.NewPageOpened(1, ""), true)
	assert.Equal(t, 3, l.Len())

	closed, _ := l.Subscribe(1)
	_, open := <-closed
	assert.False(t, open)
	l.Close()
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := New(zap.NewNop())
	ch, unsubscribe := l.Subscribe(1)
	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Flushing without subscribers is a no-op for delivery.
	l.Push(schemas.NewSuccess(0), true)
	assert.Equal(t, int64(0), l.Dropped())
}
