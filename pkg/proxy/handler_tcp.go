package proxy

import (
	"context"
	"net"
	"time"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/connid"
	"github.com/oodx/porty/pkg/dialer"
	"github.com/oodx/porty/pkg/events"
	"github.com/oodx/porty/pkg/relay"
)

// TCPHandler dials the route's statically configured target and relays
// bytes opaquely between client and upstream. No parsing, no
// rewriting.
type TCPHandler struct {
	Route   *config.Route
	Global  *config.Config
	Sink    events.Sink
	Dial    *dialer.Dialer
	Release func()
}

// Serve drives one client connection to completion, releasing the
// admission permit on every exit path.
func (h *TCPHandler) Serve(ctx context.Context, client net.Conn) {
	defer h.Release()
	defer client.Close()

	id := connid.New()
	peerAddr := client.RemoteAddr().String()
	start := time.Now()

	h.Sink.Emit(events.ConnectionAccepted{ConnID: id, RouteName: h.Route.Name, PeerAddr: peerAddr, At: start})

	timeout := time.Duration(h.Route.TimeoutSeconds) * time.Second
	upstream, err := h.Dial.Connect(ctx, h.Route.TargetAddr, h.Route.TargetPort, timeout, h.Route.MaxRetries)
	if err != nil {
		h.Sink.Emit(events.ConnectionClosed{
			ConnID:     id,
			RouteName:  h.Route.Name,
			PeerAddr:   peerAddr,
			DurationMS: time.Since(start).Milliseconds(),
			Outcome:    events.OutcomeIOError,
			Err:        err,
		})
		return
	}
	defer upstream.Close()

	bufSize := h.Global.BufferSizeKB * 1024
	result := relay.Run(ctx, client, upstream, bufSize)

	h.Sink.Emit(events.ConnectionClosed{
		ConnID:     id,
		RouteName:  h.Route.Name,
		PeerAddr:   peerAddr,
		DurationMS: time.Since(start).Milliseconds(),
		BytesUp:    result.BytesClientToUpstream,
		BytesDown:  result.BytesUpstreamToClient,
		Outcome:    result.Outcome,
		Err:        result.Err,
	})
}
