// Package dialer establishes upstream TCP connections with a
// per-attempt timeout and bounded exponential-backoff retries.
package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oodx/porty/pkg/perror"
)

// Dialer establishes upstream connections. The zero value is usable and
// dials with net.Dialer's defaults.
type Dialer struct {
	// Dial is overridable for tests; defaults to (&net.Dialer{}).DialContext.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (d *Dialer) dialFunc() func(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.Dial != nil {
		return d.Dial
	}
	nd := &net.Dialer{}
	return nd.DialContext
}

// Connect attempts to dial host:port, retrying up to maxRetries times
// (1+maxRetries total attempts) with 100ms*2^attempt backoff between
// attempts. Each attempt must complete within timeout. On exhaustion it
// returns a dial_timeout *perror.Error if the final attempt timed out,
// else dial_refused.
func (d *Dialer) Connect(ctx context.Context, host string, port int, timeout time.Duration, maxRetries int) (net.Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	dial := d.dialFunc()

	var lastErr error
	lastWasTimeout := false

	attempts := 1 + maxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, perror.NewCancelled()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dial(attemptCtx, "tcp", addr)
		cancel()

		if err == nil {
			return conn, nil
		}

		lastErr = err
		lastWasTimeout = attemptCtx.Err() == context.DeadlineExceeded

		if attempt < attempts-1 {
			backoff := 100 * time.Millisecond * time.Duration(1<<uint(attempt))
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, perror.NewCancelled()
			}
		}
	}

	if lastWasTimeout {
		return nil, perror.NewDialTimeout(addr, lastErr)
	}
	return nil, perror.NewDialRefused(addr, lastErr)
}
