package proxy

import (
	"fmt"
	"io"
)

// writeErrorResponse writes a synthetic HTTP/1.1 error response matching
// exact wire format: status line, Content-Type, Content-Length,
// Connection: close, blank line, body.
func writeErrorResponse(w io.Writer, status int, statusText, body string) error {
	resp := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, statusText, len(body), body,
	)
	_, err := io.WriteString(w, resp)
	return err
}

func writeBadRequest(w io.Writer, reason string) error {
	return writeErrorResponse(w, 400, "Bad Request", "400 "+reason)
}

func writeMissingRoutingParams(w io.Writer) error {
	return writeErrorResponse(w, 400, "Bad Request", "400 Missing porty_host and porty_port parameters")
}

func writeBadGateway(w io.Writer) error {
	return writeErrorResponse(w, 502, "Bad Gateway", "502 Backend connection failed after retries")
}

func writeGatewayTimeout(w io.Writer) error {
	return writeErrorResponse(w, 504, "Gateway Timeout", "504 Backend connection timeout")
}

func writeServiceUnavailable(w io.Writer) error {
	return writeErrorResponse(w, 503, "Service Unavailable", "503 Connection limit reached")
}
