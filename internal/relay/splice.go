// Package relay copies bytes between the two peers of a paired session.
package relay

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/matst80/vncrepeater/internal/obs"
)

const copyBufSize = 32 * 1024

// Teardown pacing: once one direction ends, the other gets a short grace to
// drain on its own, then its read is cancelled and it gets a final
// confirmation window before both sockets are closed regardless.
const (
	teardownGrace   = 250 * time.Millisecond
	teardownConfirm = 900 * time.Millisecond
)

type writeCloser interface {
	CloseWrite() error
}

// Splice owns both sockets and pumps bytes viewer<->host until both
// directions have terminated, then closes both. Each direction runs its own
// goroutine so neither side can head-of-line block the other.
func Splice(viewer, host net.Conn) {
	start := time.Now()
	obs.ActiveSessions.Inc()
	done := make(chan struct{}, 2)
	go copyDirection(host, viewer, "viewer_to_host", done)
	go copyDirection(viewer, host, "host_to_viewer", done)

	<-done
	select {
	case <-done:
	case <-time.After(teardownGrace):
		// Cancel the remaining blocked read, then allow a last confirmation
		// window for the copy goroutine to notice.
		now := time.Now()
		_ = viewer.SetDeadline(now)
		_ = host.SetDeadline(now)
		select {
		case <-done:
		case <-time.After(teardownConfirm):
		}
	}
	_ = viewer.Close()
	_ = host.Close()
	obs.ActiveSessions.Dec()
	obs.SessionDurationSeconds.Observe(time.Since(start).Seconds())
}

func copyDirection(dst, src net.Conn, direction string, done chan<- struct{}) {
	buf := make([]byte, copyBufSize)
	n, err := io.CopyBuffer(dst, src, buf)
	obs.SessionBytesTotal.WithLabelValues(direction).Add(float64(n))
	if err != nil && !errors.Is(err, net.ErrClosed) {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			obs.Debug("splice.copy", obs.Fields{"direction": direction, "err": err.Error(), "bytes": n})
		}
	}
	// Propagate EOF to the far side without tearing down the reverse
	// direction: half-close where the transport supports it.
	if cw, ok := dst.(writeCloser); ok {
		_ = cw.CloseWrite()
	}
	done <- struct{}{}
}
