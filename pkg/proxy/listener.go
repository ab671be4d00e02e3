package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/dialer"
	"github.com/oodx/porty/pkg/events"
	"github.com/oodx/porty/pkg/perror"
	"golang.org/x/sync/semaphore"
)

// acceptErrorBackoff is how long the accept loop pauses after a transient,
// non-fatal Accept error before retrying.
const acceptErrorBackoff = 200 * time.Millisecond

// Handler is the behavior a Listener spawns for each admitted connection.
type Handler interface {
	Serve(ctx context.Context, client net.Conn)
}

// Listener accepts connections on one address/port, gates each accepted
// connection through an admission semaphore, and spawns the route's
// Handler.
type Listener struct {
	Route  *config.Route
	Global *config.Config
	Sink   events.Sink

	sem *semaphore.Weighted
}

// bindAddr is the address this Listener binds, derived from the global
// listen address and the route's listen port.
func (l *Listener) bindAddr() string {
	return fmt.Sprintf("%s:%d", l.Global.ListenAddr, l.Route.ListenPort)
}

// Run binds the listener and accepts connections until ctx is cancelled.
// A bind failure is returned as a *perror.Error (bind_failed); the caller
// (Supervisor) treats this as fatal.
func (l *Listener) Run(ctx context.Context) error {
	l.sem = semaphore.NewWeighted(int64(l.Global.MaxConnections))

	addr := l.bindAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		bindErr := perror.NewBindFailed(l.Route.Name, addr, err)
		l.Sink.Emit(events.ListenerBindFailed{RouteName: l.Route.Name, BindAddr: addr, Err: err})
		return bindErr
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.Sink.Emit(events.ListenerStarted{RouteName: l.Route.Name, BindAddr: addr, Mode: string(l.Route.Mode)})

	dial := &dialer.Dialer{}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			// Transient accept errors (EMFILE, ECONNABORTED, ...) are
			// logged and the accept loop continues after a brief pause
			// so a persistent condition (fd exhaustion) doesn't spin
			// the loop at full CPU.
			l.Sink.Emit(events.ListenerAcceptError{RouteName: l.Route.Name, Err: err})
			select {
			case <-time.After(acceptErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if !l.sem.TryAcquire(1) {
			l.rejectSaturated(conn)
			continue
		}

		release := func() { l.sem.Release(1) }
		h := l.newHandler(dial, release)
		go h.Serve(ctx, conn)
	}
}

func (l *Listener) rejectSaturated(conn net.Conn) {
	peerAddr := conn.RemoteAddr().String()
	err := perror.NewAdmissionSaturated(l.Route.Name)
	l.Sink.Emit(events.ConnectionRejectedSaturated{RouteName: l.Route.Name, PeerAddr: peerAddr, Reason: err.Message})
	if l.Route.Mode == config.ModeHTTP {
		_ = writeServiceUnavailable(conn)
	}
	conn.Close()
}

func (l *Listener) newHandler(dial *dialer.Dialer, release func()) Handler {
	if l.Route.Mode == config.ModeHTTP {
		return &HTTPHandler{Route: l.Route, Global: l.Global, Sink: l.Sink, Dial: dial, Release: release}
	}
	return &TCPHandler{Route: l.Route, Global: l.Global, Sink: l.Sink, Dial: dial, Release: release}
}
