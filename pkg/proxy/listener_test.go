package proxy

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/events"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestListenerAdmissionSaturationTCP(t *testing.T) {
	upstreamPort := freePort(t)
	upstream, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(upstreamPort)))
	require.NoError(t, err)
	defer upstream.Close()
	go func() {
		for {
			c, err := upstream.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	listenPort := freePort(t)
	route := config.Route{
		Name: "sat", Mode: config.ModeTCP, Enabled: true,
		ListenPort: listenPort, TargetAddr: "127.0.0.1", TargetPort: upstreamPort,
		TimeoutSeconds: 2, MaxRetries: 0,
	}
	global := &config.Config{ListenAddr: "127.0.0.1", MaxConnections: 2, BufferSizeKB: 8}

	l := &Listener{Route: &route, Global: global, Sink: events.NopSink{}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- l.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the listener bind

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(listenPort))

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()

	time.Sleep(100 * time.Millisecond) // let both be admitted

	c3, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c3.Close()

	buf := make([]byte, 16)
	c3.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := c3.Read(buf)
	require.Equal(t, 0, n, "third connection should be closed immediately with zero bytes")

	cancel()
	<-runDone
}

