// Package router implements a pure function from a parsed request
// head and its owning route to a routing decision and a byte-accurate
// rewritten request head.
package router

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/httphead"
	"github.com/oodx/porty/pkg/perror"
)

// SourceKind identifies which rule produced the routing target.
type SourceKind string

const (
	SourceDynamic       SourceKind = "dynamic"
	SourceHostMatch     SourceKind = "host_match"
	SourceStaticDefault SourceKind = "static_default"
)

const (
	queryHostParam = "porty_host"
	queryPortParam = "porty_port"
)

// Decision is the result of routing one request.
type Decision struct {
	TargetHost    string
	TargetPort    int
	RewrittenHead []byte
	SourceKind    SourceKind
}

// Route computes the routing decision for head under route's policy,
// returning a *perror.Error (missing_routing_params or
// malformed_request) when no target can be determined or the target is
// invalid.
func Route(head *httphead.Head, route *config.Route) (*Decision, error) {
	rewrittenTarget, host, port, kind, err := resolveTarget(head, route)
	if err != nil {
		return nil, err
	}

	rewritten, err := rewriteHead(head, rewrittenTarget, host, port)
	if err != nil {
		return nil, err
	}

	return &Decision{
		TargetHost:    host,
		TargetPort:    port,
		RewrittenHead: rewritten,
		SourceKind:    kind,
	}, nil
}

func resolveTarget(head *httphead.Head, route *config.Route) (rewrittenTarget, host string, port int, kind SourceKind, err error) {
	path, query, hasQuery := splitTarget(head.RequestTarget)

	if hasQuery {
		if h, p, rest, ok := extractDynamicParams(query); ok {
			newTarget := path
			if rest != "" {
				newTarget += "?" + rest
			}
			portNum, perr := parsePort(p)
			if perr != nil {
				return "", "", 0, "", perr
			}
			return newTarget, h, portNum, SourceDynamic, nil
		}
	}

	if route.Host != "" {
		if hostHeader, ok := head.Get("Host"); ok && hostMatches(hostHeader, route.Host) {
			return head.RequestTarget, route.TargetAddr, route.TargetPort, SourceHostMatch, nil
		}
	}

	if route.TargetAddr != "" && route.TargetPort != 0 {
		return head.RequestTarget, route.TargetAddr, route.TargetPort, SourceStaticDefault, nil
	}

	return "", "", 0, "", perror.NewMissingRoutingParams()
}

// splitTarget splits a request-target into its path and raw query string
// (without the leading '?').
func splitTarget(target string) (path, query string, hasQuery bool) {
	idx := strings.IndexByte(target, '?')
	if idx < 0 {
		return target, "", false
	}
	return target[:idx], target[idx+1:], true
}

// extractDynamicParams scans the raw (already-decoded-as-pairs, still
// percent-encoded) query string for porty_host and porty_port. It
// preserves the order and encoding of every other parameter. ok is false
// when either parameter is absent, in which case the query is left
// untouched by the caller.
func extractDynamicParams(rawQuery string) (host, port, rest string, ok bool) {
	if rawQuery == "" {
		return "", "", "", false
	}

	pairs := strings.Split(rawQuery, "&")
	var kept []string
	var foundHost, foundPort bool

	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		switch key {
		case queryHostParam:
			decoded, derr := url.QueryUnescape(value)
			if derr != nil {
				continue
			}
			host = decoded
			foundHost = true
		case queryPortParam:
			decoded, derr := url.QueryUnescape(value)
			if derr != nil {
				continue
			}
			port = decoded
			foundPort = true
		default:
			kept = append(kept, pair)
		}
	}

	if !foundHost || !foundPort {
		return "", "", "", false
	}

	return host, port, strings.Join(kept, "&"), true
}

func parsePort(s string) (int, *perror.Error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, perror.NewMalformedRequest(fmt.Sprintf("invalid target port %q", s), nil)
	}
	return n, nil
}

// hostMatches compares a Host header value against a configured host,
// case-insensitively and ignoring an optional ":port" suffix on the
// header value.
func hostMatches(headerValue, configured string) bool {
	h := headerValue
	if idx := strings.LastIndexByte(h, ':'); idx >= 0 {
		h = h[:idx]
	}
	return strings.EqualFold(h, configured)
}

// rewriteHead serializes the rewritten request head: request line with
// the (possibly stripped) target, the original headers in order with Host
// replaced, and the terminating blank line.
func rewriteHead(head *httphead.Head, rewrittenTarget, targetHost string, targetPort int) ([]byte, error) {
	var b strings.Builder

	b.WriteString(head.Method)
	b.WriteByte(' ')
	b.WriteString(rewrittenTarget)
	b.WriteByte(' ')
	b.WriteString(head.Version)
	b.WriteString("\r\n")

	hostValue := targetHost
	if targetPort != 80 {
		hostValue = fmt.Sprintf("%s:%d", targetHost, targetPort)
	}

	hostWritten := false
	for _, h := range head.Headers {
		if strings.EqualFold(h.Name, "Host") {
			b.WriteString("Host: ")
			b.WriteString(hostValue)
			b.WriteString("\r\n")
			hostWritten = true
			continue
		}
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	if !hostWritten {
		b.WriteString("Host: ")
		b.WriteString(hostValue)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	return []byte(b.String()), nil
}
