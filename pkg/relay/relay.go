// Package relay implements a bidirectional byte-copy engine: two
// independent copy loops joining a client stream to an upstream stream,
// with half-close propagation and transfer accounting.
package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/oodx/porty/pkg/events"
	"github.com/oodx/porty/pkg/perror"
)

// HalfCloser is satisfied by net.TCPConn and every stream type the proxy
// hands to Relay; CloseWrite lets one copy loop signal EOF to its peer
// without tearing down the whole connection.
type HalfCloser interface {
	CloseWrite() error
}

// Result is the outcome of one Run call. Err is a *perror.Error (kind
// relay_io_error) when Outcome is OutcomeIOError, and nil otherwise.
type Result struct {
	BytesClientToUpstream int64
	BytesUpstreamToClient int64
	Outcome               events.Outcome
	Err                   error
}

// Run copies bytes bidirectionally between client and upstream until both
// directions finish, using a buffer of bufSize bytes per direction. If ctx
// is cancelled before both directions finish naturally, Run unblocks the
// pending reads by setting an immediate deadline on both connections and
// returns outcome "cancelled".
func Run(ctx context.Context, client, upstream net.Conn, bufSize int) Result {
	var (
		mu                 sync.Mutex
		wg                 sync.WaitGroup
		bytesC2U, bytesU2C int64
		ioErr              error
		eofC2U, eofU2C     bool
	)

	abort := make(chan struct{})
	var abortOnce sync.Once
	stop := func() { abortOnce.Do(func() { close(abort) }) }

	copyDirection := func(dst, src net.Conn, n *int64, eofOut *bool, direction string) {
		defer wg.Done()
		buf := make([]byte, bufSize)
		for {
			nr, rerr := src.Read(buf)
			if nr > 0 {
				nw, werr := dst.Write(buf[:nr])
				mu.Lock()
				*n += int64(nw)
				if werr != nil && ioErr == nil {
					ioErr = perror.NewRelayIOError(direction, werr)
				}
				mu.Unlock()
				if werr != nil {
					stop()
					return
				}
			}
			if rerr == nil {
				continue
			}
			if rerr == io.EOF {
				mu.Lock()
				*eofOut = true
				mu.Unlock()
				if hc, ok := dst.(HalfCloser); ok {
					_ = hc.CloseWrite()
				}
				return
			}
			mu.Lock()
			if ioErr == nil {
				ioErr = perror.NewRelayIOError(direction, rerr)
			}
			mu.Unlock()
			stop()
			return
		}
	}

	wg.Add(2)
	go copyDirection(upstream, client, &bytesC2U, &eofC2U, "client_to_upstream")
	go copyDirection(client, upstream, &bytesU2C, &eofU2C, "upstream_to_client")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	cancelled := false
	select {
	case <-done:
	case <-ctx.Done():
		cancelled = true
		stop()
	case <-abort:
	}
	if cancelled || abortFired(abort) {
		// Unblock any read still parked on the socket.
		past := time.Now().Add(-time.Second)
		_ = client.SetDeadline(past)
		_ = upstream.SetDeadline(past)
		<-done
	}

	var outcome events.Outcome
	switch {
	case cancelled:
		outcome = events.OutcomeCancelled
	case ioErr != nil:
		outcome = events.OutcomeIOError
	case eofC2U && eofU2C:
		outcome = events.OutcomeBothClosedOK
	case eofC2U:
		outcome = events.OutcomeClientClosedFirst
	case eofU2C:
		outcome = events.OutcomeUpstreamClosedFirst
	}

	result := Result{
		BytesClientToUpstream: bytesC2U,
		BytesUpstreamToClient: bytesU2C,
		Outcome:               outcome,
	}
	if outcome == events.OutcomeIOError {
		result.Err = ioErr
	}
	return result
}

func abortFired(abort chan struct{}) bool {
	select {
	case <-abort:
		return true
	default:
		return false
	}
}
