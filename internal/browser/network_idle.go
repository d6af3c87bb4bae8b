// internal/browser/network_idle.go
package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

const (
	networkIdleCheckFrequency = 100 * time.Millisecond
	networkQuietPeriod        = 500 * time.Millisecond
)

// errNetworkBusy is returned when the network did not go quiet in time.
var errNetworkBusy = errors.New("network did not become idle")

// networkMonitor counts the in-flight requests of one tab from CDP network events.
type networkMonitor struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
}

func newNetworkMonitor() *networkMonitor {
	return &networkMonitor{inflight: make(map[network.RequestID]struct{})}
}

// handle is registered with chromedp.ListenTarget.
func (m *networkMonitor) handle(ev any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Redirects reuse the request id and stay a single request.
		m.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(m.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(m.inflight, e.RequestID)
	}
}

func (m *networkMonitor) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// WaitIdle blocks until no request has been in flight for quiet, giving up
// with errNetworkBusy after timeout.
func (m *networkMonitor) WaitIdle(ctx context.Context, quiet, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		if m.active() > 0 {
			idleSince = time.Time{}
		} else if idleSince.IsZero() {
			idleSince = time.Now()
		} else if time.Since(idleSince) >= quiet {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errNetworkBusy
		case <-ticker.C:
		}
	}
}
