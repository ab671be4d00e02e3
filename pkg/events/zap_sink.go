package events

import (
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink renders events as structured log lines via go.uber.org/zap. It
// wraps the configured core in a BufferedWriteSyncer so a slow underlying
// writer cannot stall the handler goroutine calling Emit.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink builds a ZapSink over ws, buffering writes so Emit never
// blocks on a slow sink.
func NewZapSink(ws zapcore.WriteSyncer, encCfg zapcore.EncoderConfig) *ZapSink {
	buffered := &zapcore.BufferedWriteSyncer{
		WS: ws, // defaults to a 30s flush interval; Sync() forces an early flush
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), buffered, zap.InfoLevel)
	return &ZapSink{logger: zap.New(core)}
}

// NewDefaultZapSink builds a ZapSink writing JSON lines to stderr with
// zap's production encoder defaults.
func NewDefaultZapSink() *ZapSink {
	return NewZapSink(zapcore.AddSync(os.Stderr), zap.NewProductionEncoderConfig())
}

// Emit implements Sink.
func (z *ZapSink) Emit(ev Event) {
	switch e := ev.(type) {
	case ListenerStarted:
		z.logger.Info("listener_started",
			zap.String("route_name", e.RouteName),
			zap.String("bind_addr", e.BindAddr),
			zap.String("mode", e.Mode),
		)
	case ListenerBindFailed:
		z.logger.Error("listener_bind_failed",
			zap.String("route_name", e.RouteName),
			zap.String("bind_addr", e.BindAddr),
			zap.Error(e.Err),
		)
	case ListenerAcceptError:
		z.logger.Warn("listener_accept_error",
			zap.String("route_name", e.RouteName),
			zap.Error(e.Err),
		)
	case ConnectionAccepted:
		z.logger.Info("connection_accepted",
			zap.String("conn_id", e.ConnID),
			zap.String("route_name", e.RouteName),
			zap.String("peer_addr", e.PeerAddr),
			zap.Time("at", e.At),
		)
	case ConnectionRejectedSaturated:
		z.logger.Warn("connection_rejected_saturated",
			zap.String("conn_id", e.ConnID),
			zap.String("route_name", e.RouteName),
			zap.String("peer_addr", e.PeerAddr),
			zap.String("reason", e.Reason),
		)
	case HTTPRequest:
		z.logger.Info("http_request",
			zap.String("conn_id", e.ConnID),
			zap.String("route_name", e.RouteName),
			zap.String("peer_addr", e.PeerAddr),
			zap.String("method", e.Method),
			zap.String("request_target", e.RequestTarget),
			zap.String("host_header", e.HostHeader),
		)
	case HTTPHeaders:
		fields := make([]zap.Field, 0, len(e.Headers)+2)
		fields = append(fields, zap.String("conn_id", e.ConnID), zap.String("route_name", e.RouteName))
		for _, h := range e.Headers {
			fields = append(fields, zap.String(h[0], h[1]))
		}
		z.logger.Info("http_headers", fields...)
	case ConnectionClosed:
		z.logger.Info("connection_closed",
			zap.String("conn_id", e.ConnID),
			zap.String("route_name", e.RouteName),
			zap.String("peer_addr", e.PeerAddr),
			zap.Int64("duration_ms", e.DurationMS),
			zap.String("bytes_up", humanize.Bytes(uint64(e.BytesUp))),
			zap.String("bytes_down", humanize.Bytes(uint64(e.BytesDown))),
			zap.String("outcome", string(e.Outcome)),
			zap.Int("status_code", e.StatusCode),
			zap.Error(e.Err),
		)
	}
}

// Sync flushes the underlying zap core.
func (z *ZapSink) Sync() error {
	return z.logger.Sync()
}
