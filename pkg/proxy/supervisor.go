// Package proxy implements the HTTP and TCP connection
// handlers, the per-route Listener with admission control, and the
// Supervisor that starts and watches all of them.
package proxy

import (
	"context"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/events"
	"golang.org/x/sync/errgroup"
)

// mainRouteName is the implicit route synthesized from the global
// listen_addr/listen_port/target_addr/target_port fields.
const mainRouteName = "main"

// Supervisor starts one Listener per enabled route plus the implicit
// main route, waits for all of them, and reports the first fatal bind
// failure.
type Supervisor struct {
	Config *config.Config
	Sink   events.Sink
}

// Run blocks until every Listener has stopped: either because ctx was
// cancelled, or because one Listener hit a fatal bind failure, in which
// case Run returns that error after cancelling the rest.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, route := range s.routes() {
		route := route
		listener := &Listener{Route: &route, Global: s.Config, Sink: s.Sink}
		g.Go(func() error {
			return listener.Run(ctx)
		})
	}

	return g.Wait()
}

// routes returns every route the Supervisor must run a Listener for: the
// enabled routes from config, plus the implicit main route.
func (s *Supervisor) routes() []config.Route {
	routes := make([]config.Route, 0, len(s.Config.Routes)+1)

	main := config.Route{
		Name:           mainRouteName,
		ListenPort:     s.Config.ListenPort,
		TargetAddr:     s.Config.TargetAddr,
		TargetPort:     s.Config.TargetPort,
		Enabled:        true,
		Mode:           config.ModeTCP,
		LogLevel:       config.LogBasic,
		TimeoutSeconds: 30,
		MaxRetries:     2,
	}
	routes = append(routes, main)

	for _, r := range s.Config.Routes {
		if r.Enabled {
			routes = append(routes, r)
		}
	}
	return routes
}
