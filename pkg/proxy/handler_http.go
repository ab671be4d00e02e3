package proxy

import (
	"context"
	"net"
	"time"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/connid"
	"github.com/oodx/porty/pkg/dialer"
	"github.com/oodx/porty/pkg/events"
	"github.com/oodx/porty/pkg/httphead"
	"github.com/oodx/porty/pkg/perror"
	"github.com/oodx/porty/pkg/relay"
	"github.com/oodx/porty/pkg/router"
)

// headReadTimeout bounds how long the HTTP handler waits for a complete
// request head before treating the connection as malformed.
const headReadTimeout = 30 * time.Second

// maxHeadSize bounds the request head the Parser will buffer.
const maxHeadSize = 64 * 1024

// HTTPHandler orchestrates Parser -> Router -> Dialer -> Relay for one
// client connection accepted on an HTTP-mode route.
type HTTPHandler struct {
	Route   *config.Route
	Global  *config.Config
	Sink    events.Sink
	Dial    *dialer.Dialer
	Release func()
}

// Serve drives one client connection to completion, releasing the
// admission permit on every exit path.
func (h *HTTPHandler) Serve(ctx context.Context, client net.Conn) {
	defer h.Release()
	defer client.Close()

	id := connid.New()
	peerAddr := client.RemoteAddr().String()
	start := time.Now()

	h.Sink.Emit(events.ConnectionAccepted{ConnID: id, RouteName: h.Route.Name, PeerAddr: peerAddr, At: start})

	result, statusCode := h.serve(ctx, client, id, peerAddr)

	h.Sink.Emit(events.ConnectionClosed{
		ConnID:     id,
		RouteName:  h.Route.Name,
		PeerAddr:   peerAddr,
		DurationMS: time.Since(start).Milliseconds(),
		BytesUp:    result.BytesClientToUpstream,
		BytesDown:  result.BytesUpstreamToClient,
		Outcome:    result.Outcome,
		StatusCode: statusCode,
		Err:        result.Err,
	})
}

func (h *HTTPHandler) serve(ctx context.Context, client net.Conn, id, peerAddr string) (relay.Result, int) {
	_ = client.SetReadDeadline(time.Now().Add(headReadTimeout))
	headResult, err := httphead.ReadHead(client, maxHeadSize)
	_ = client.SetReadDeadline(time.Time{})
	if err != nil {
		_ = writeBadRequest(client, errorReason(err))
		return relay.Result{}, 400
	}
	head := &headResult.Head

	// log_requests is a core-wide master switch: a route's log_level only
	// takes effect once it is on.
	if h.Global.LogRequests && (h.Route.LogLevel == config.LogBasic || h.Route.LogLevel == config.LogVerbose) {
		hostHeader, _ := head.Get("Host")
		h.Sink.Emit(events.HTTPRequest{
			ConnID:        id,
			RouteName:     h.Route.Name,
			PeerAddr:      peerAddr,
			Method:        head.Method,
			RequestTarget: head.RequestTarget,
			HostHeader:    hostHeader,
		})
	}
	if h.Global.LogRequests && h.Route.LogLevel == config.LogVerbose {
		hdrs := make([][2]string, len(head.Headers))
		for i, hd := range head.Headers {
			hdrs[i] = [2]string{hd.Name, hd.Value}
		}
		h.Sink.Emit(events.HTTPHeaders{ConnID: id, RouteName: h.Route.Name, Headers: hdrs})
	}

	decision, err := router.Route(head, h.Route)
	if err != nil {
		switch perror.KindOf(err) {
		case perror.KindMissingRoutingParams:
			_ = writeMissingRoutingParams(client)
		default:
			_ = writeBadRequest(client, errorReason(err))
		}
		return relay.Result{}, 400
	}

	timeout := time.Duration(h.Route.TimeoutSeconds) * time.Second
	upstream, err := h.Dial.Connect(ctx, decision.TargetHost, decision.TargetPort, timeout, h.Route.MaxRetries)
	if err != nil {
		if perror.IsTimeout(err) {
			_ = writeGatewayTimeout(client)
			return relay.Result{}, 504
		}
		_ = writeBadGateway(client)
		return relay.Result{}, 502
	}
	defer upstream.Close()

	if _, err := upstream.Write(decision.RewrittenHead); err != nil {
		return relay.Result{Outcome: events.OutcomeIOError, Err: perror.NewRelayIOError("write_rewritten_head", err)}, 0
	}
	if len(headResult.Residual) > 0 {
		if _, err := upstream.Write(headResult.Residual); err != nil {
			return relay.Result{Outcome: events.OutcomeIOError, Err: perror.NewRelayIOError("write_residual", err)}, 0
		}
	}

	bufSize := h.Global.BufferSizeKB * 1024
	result := relay.Run(ctx, client, upstream, bufSize)
	return result, 0
}

// errorReason extracts a human-readable reason from a perror.Error,
// falling back to its Error() string.
func errorReason(err error) string {
	if pe, ok := err.(*perror.Error); ok && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}
