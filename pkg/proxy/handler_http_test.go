package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/dialer"
	"github.com/oodx/porty/pkg/events"
	"github.com/stretchr/testify/require"
)

// startEchoServer starts a TCP server that writes back the first line it
// receives (the request line) and then closes its write side.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				line, _ := r.ReadString('\n')
				io.WriteString(c, line)
				if tc, ok := c.(*net.TCPConn); ok {
					tc.CloseWrite()
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func tcpClientServerPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-acceptedCh
	return client, server
}

func TestHTTPHandlerDynamicRoutingHappyPath(t *testing.T) {
	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)

	client, server := tcpClientServerPair(t)
	defer client.Close()

	route := &config.Route{Name: "dyn", Mode: config.ModeHTTP, TimeoutSeconds: 5, MaxRetries: 0, LogLevel: config.LogNone}
	global := &config.Config{BufferSizeKB: 8}

	h := &HTTPHandler{
		Route:   route,
		Global:  global,
		Sink:    events.NopSink{},
		Dial:    &dialer.Dialer{},
		Release: func() {},
	}

	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), server)
		close(done)
	}()

	req := "GET /api/users?id=123&porty_host=127.0.0.1&porty_port=" + echoPortStr + "&flag=x HTTP/1.1\r\nHost: localhost:9090\r\n\r\n"
	_, err := io.WriteString(client, req)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "GET /api/users?id=123&flag=x HTTP/1.1\r\n", reply)

	// Half-close the client so the relay's client->upstream leg sees EOF
	// and Serve can return.
	client.(*net.TCPConn).CloseWrite()

	<-done
}

func TestHTTPHandlerMalformedRequestReturns400(t *testing.T) {
	client, server := tcpClientServerPair(t)
	defer client.Close()

	route := &config.Route{Name: "r", Mode: config.ModeHTTP, TimeoutSeconds: 1, MaxRetries: 0, LogLevel: config.LogNone}
	global := &config.Config{BufferSizeKB: 8}

	h := &HTTPHandler{Route: route, Global: global, Sink: events.NopSink{}, Dial: &dialer.Dialer{}, Release: func() {}}

	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), server)
		close(done)
	}()

	_, err := io.WriteString(client, "GARBAGE\r\n\r\n")
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _ := client.Read(buf)
	resp := string(buf[:n])
	require.Contains(t, resp, "HTTP/1.1 400 Bad Request")
	require.Contains(t, resp, "Connection: close")

	<-done
}

func TestHTTPHandlerMissingRoutingParamsReturns400(t *testing.T) {
	client, server := tcpClientServerPair(t)
	defer client.Close()

	route := &config.Route{Name: "r", Mode: config.ModeHTTP, TimeoutSeconds: 1, MaxRetries: 0, LogLevel: config.LogNone, Host: "api.example.com"}
	global := &config.Config{BufferSizeKB: 8}

	h := &HTTPHandler{Route: route, Global: global, Sink: events.NopSink{}, Dial: &dialer.Dialer{}, Release: func() {}}

	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), server)
		close(done)
	}()

	_, err := io.WriteString(client, "GET / HTTP/1.1\r\nHost: other.com\r\n\r\n")
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _ := client.Read(buf)
	resp := string(buf[:n])
	require.Contains(t, resp, "HTTP/1.1 400 Bad Request")
	require.Contains(t, resp, "400 Missing porty_host")

	<-done
}

func TestHTTPHandlerDialRefusedReturns502(t *testing.T) {
	client, server := tcpClientServerPair(t)
	defer client.Close()

	// Nothing listens on this port.
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	route := &config.Route{Name: "r", Mode: config.ModeHTTP, TimeoutSeconds: 1, MaxRetries: 0, LogLevel: config.LogNone}
	global := &config.Config{BufferSizeKB: 8}

	h := &HTTPHandler{Route: route, Global: global, Sink: events.NopSink{}, Dial: &dialer.Dialer{}, Release: func() {}}

	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), server)
		close(done)
	}()

	req := "GET /?porty_host=127.0.0.1&porty_port=" + strconv.Itoa(deadPort) + " HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err := io.WriteString(client, req)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 256)
	n, _ := client.Read(buf)
	resp := string(buf[:n])
	require.Contains(t, resp, "HTTP/1.1 502 Bad Gateway")

	<-done
}
