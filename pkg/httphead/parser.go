// Package httphead implements an HTTP request head parser: a
// conservative, non-reentrant reader that buffers exactly one request
// head (request line + headers + terminating blank line) from a freshly
// accepted connection.
package httphead

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/oodx/porty/pkg/perror"
	"golang.org/x/net/http/httpguts"
)

// Header is one name/value pair. Order is preserved as received.
type Header struct {
	Name  string
	Value string
}

// Head is a parsed HTTP request line plus its headers.
type Head struct {
	Method        string
	RequestTarget string
	Version       string
	Headers       []Header
}

// Get returns the first header value matching name, compared
// case-insensitively, and whether it was found.
func (h *Head) Get(name string) (string, bool) {
	for _, hd := range h.Headers {
		if strings.EqualFold(hd.Name, name) {
			return hd.Value, true
		}
	}
	return "", false
}

const crlf = "\r\n"

// Result is what ReadHead returns: the parsed head plus any bytes already
// read off the wire past the terminating blank line.
type Result struct {
	Head     Head
	Residual []byte
}

// ReadHead buffers from r until it has observed a complete request head
// (CRLF CRLF terminated), or fails with a malformed_request *perror.Error
// if maxHeadSize is exceeded first or the head is structurally invalid.
func ReadHead(r io.Reader, maxHeadSize int) (*Result, error) {
	br := bufio.NewReaderSize(r, maxHeadSize)

	var raw bytes.Buffer
	terminator := []byte(crlf + crlf)

	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, perror.NewMalformedRequest("connection closed before request head completed", err)
		}
		raw.WriteByte(b)
		if raw.Len() > maxHeadSize {
			return nil, perror.NewMalformedRequest("request head exceeds maximum size", nil)
		}
		if raw.Len() >= len(terminator) && bytes.HasSuffix(raw.Bytes(), terminator) {
			break
		}
	}

	head, err := parseHead(raw.Bytes())
	if err != nil {
		return nil, err
	}

	residual := make([]byte, br.Buffered())
	_, _ = io.ReadFull(br, residual)

	return &Result{Head: *head, Residual: residual}, nil
}

// parseHead parses the raw bytes of a complete request head (including the
// terminating CRLF CRLF) into a Head.
func parseHead(raw []byte) (*Head, error) {
	trimmed := bytes.TrimSuffix(raw, []byte(crlf+crlf))
	lines := strings.Split(string(trimmed), crlf)
	if len(lines) == 0 || lines[0] == "" {
		return nil, perror.NewMalformedRequest("empty request line", nil)
	}

	requestLine := strings.Fields(lines[0])
	if len(requestLine) < 3 {
		return nil, perror.NewMalformedRequest("request line has fewer than three tokens", nil)
	}

	head := &Head{
		Method:        requestLine[0],
		RequestTarget: requestLine[1],
		Version:       requestLine[2],
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, perror.NewMalformedRequest("header line missing colon: "+line, nil)
		}
		name := line[:idx]
		value := strings.TrimPrefix(line[idx+1:], " ")

		if !httpguts.ValidHeaderFieldName(name) {
			return nil, perror.NewMalformedRequest("invalid header field name: "+name, nil)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, perror.NewMalformedRequest("invalid header field value for "+name, nil)
		}
		// httpguts also accepts obs-text (0x80-0xFF); only ASCII is allowed here.
		for i := 0; i < len(value); i++ {
			if value[i] >= 0x80 {
				return nil, perror.NewMalformedRequest("invalid header field value for "+name, nil)
			}
		}

		head.Headers = append(head.Headers, Header{Name: name, Value: value})
	}

	return head, nil
}
