package dialer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oodx/porty/pkg/perror"
	"github.com/stretchr/testify/require"
)

func TestConnectSucceedsOnFirstAttempt(t *testing.T) {
	var calls int
	d := &Dialer{Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls++
		return &net.TCPConn{}, nil
	}}

	conn, err := d.Connect(context.Background(), "127.0.0.1", 80, time.Second, 2)
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Equal(t, 1, calls)
}

func TestConnectRetriesExactAttemptCountThenRefused(t *testing.T) {
	var calls int
	refused := errors.New("connection refused")
	d := &Dialer{Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
		calls++
		return nil, refused
	}}

	start := time.Now()
	_, err := d.Connect(context.Background(), "127.0.0.1", 1, 50*time.Millisecond, 2)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, 3, calls) // 1 + max_retries
	require.Equal(t, perror.KindDialRefused, perror.KindOf(err))
	require.GreaterOrEqual(t, elapsed, 300*time.Millisecond) // 100ms + 200ms backoff
}

func TestConnectReturnsTimeoutKindOnDeadlineExceeded(t *testing.T) {
	d := &Dialer{Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := d.Connect(context.Background(), "127.0.0.1", 81, 10*time.Millisecond, 0)
	require.Error(t, err)
	require.Equal(t, perror.KindDialTimeout, perror.KindOf(err))
}
