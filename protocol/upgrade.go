// File: protocol/upgrade.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental HTTP upgrade parser. Bytes are accumulated as they arrive and
// the whole buffer is re-parsed on every call, so chunk boundaries never
// matter.

package protocol

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"

	"github.com/valyala/bytebufferpool"
)

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

// UpgradeParser turns an upgrade request byte stream into a 101 response.
type UpgradeParser struct {
	cfg *UpgradeConfig
	buf *bytebufferpool.ByteBuffer
}

// NewUpgradeParser returns a parser validating against cfg (defaults when nil).
func NewUpgradeParser(cfg *UpgradeConfig) *UpgradeParser {
	if cfg == nil {
		cfg = DefaultUpgradeConfig()
	}
	return &UpgradeParser{cfg: cfg, buf: bytebufferpool.Get()}
}

// Accumulate appends chunk and tries to complete the handshake.
//
// It returns (nil, nil) while the header block is incomplete, the response
// bytes once a valid request has been seen, or an error for a request that
// can never be accepted.
func (p *UpgradeParser) Accumulate(chunk []byte) ([]byte, error) {
	p.buf.Write(chunk)
	data := p.buf.B

	end := headerEnd(data)
	limit := p.cfg.MaxHeaderBytes
	if end < 0 {
		if limit > 0 && len(data) > limit {
			return nil, ErrParse.WithContext("reason", "header block too large")
		}
		return nil, nil
	}
	if limit > 0 && end > limit {
		return nil, ErrParse.WithContext("reason", "header block too large")
	}

	return p.respond(data[:end], len(data)-end)
}

// Buffered returns the number of accumulated bytes.
func (p *UpgradeParser) Buffered() int {
	if p.buf == nil {
		return 0
	}
	return p.buf.Len()
}

// Release hands the accumulation buffer back to the pool.
// The parser must not be used afterwards.
func (p *UpgradeParser) Release() {
	if p.buf != nil {
		bytebufferpool.Put(p.buf)
		p.buf = nil
	}
}

// upgradeRequest is a parsed request line plus its header block.
type upgradeRequest struct {
	method string
	target string
	proto  string
	header http.Header
	// hostSeen reports a Host line in the raw block, even an empty one.
	hostSeen bool
	host     string
}

func (p *UpgradeParser) respond(block []byte, trailing int) ([]byte, error) {
	req, err := parseUpgradeRequest(block)
	if err != nil {
		return nil, err
	}
	if req.method != http.MethodGet {
		return nil, ErrInvalidMethod.WithContext("method", req.method)
	}
	if !p.cfg.acceptsPath(req.target) {
		return nil, ErrInvalidPath.WithContext("path", req.target)
	}
	if req.proto != p.cfg.Version {
		return nil, ErrInvalidVersion.WithContext("version", req.proto)
	}

	key := ""
	for _, rule := range p.cfg.Required {
		v, err := req.checkHeader(rule)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(rule.Name, HeaderSecWebSocketKey) {
			key = v
		}
	}

	if trailing > 0 {
		return nil, ErrInvalidValue.WithContext("header", "body not allowed")
	}

	if key == "" {
		v, err := req.checkHeader(HeaderRule{Name: HeaderSecWebSocketKey})
		if err != nil {
			return nil, err
		}
		key = v
	}
	return BuildUpgradeResponse(ComputeAcceptKey(key)), nil
}

// parseUpgradeRequest splits the request line itself, so any target is
// reported verbatim, and leaves the header lines to net/http.
func parseUpgradeRequest(block []byte) (*upgradeRequest, error) {
	nl := bytes.IndexByte(block, '\n')
	if nl < 0 {
		return nil, ErrParse.WithContext("reason", "missing request line")
	}
	line := strings.TrimSuffix(string(block[:nl]), "\r")
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || !strings.HasPrefix(proto, "HTTP/") {
		return nil, ErrParse.WithContext("line", line)
	}
	headers := block[nl+1:]

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	bb.WriteString("GET / HTTP/1.1\r\n")
	bb.Write(headers)
	parsed, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(bb.B)))
	if err != nil {
		return nil, ErrParse.WithCause(err)
	}

	req := &upgradeRequest{
		method: method,
		target: target,
		proto:  proto,
		header: parsed.Header,
		host:   parsed.Host,
	}
	req.hostSeen = parsed.Host != "" || hasHeaderLine(headers, HeaderHost)
	return req, nil
}

// checkHeader returns the first value of the named header, enforcing the
// rule's expected value when one is set.
func (r *upgradeRequest) checkHeader(rule HeaderRule) (string, error) {
	values := r.header.Values(rule.Name)
	if len(values) == 0 && strings.EqualFold(rule.Name, HeaderHost) && r.hostSeen {
		values = []string{r.host}
	}
	if len(values) == 0 {
		return "", ErrMissingHeader.WithContext("header", rule.Name)
	}
	value := values[0]
	if rule.Value == "" {
		return value, nil
	}
	if rule.Token {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), rule.Value) {
				return value, nil
			}
		}
	} else if strings.EqualFold(strings.TrimSpace(value), rule.Value) {
		return value, nil
	}
	return "", ErrInvalidValue.WithContext("header", rule.Name)
}

// hasHeaderLine reports whether the raw header block carries a line named
// name, whatever its value.
func hasHeaderLine(headers []byte, name string) bool {
	for _, line := range bytes.Split(headers, []byte("\n")) {
		field, _, ok := bytes.Cut(line, []byte(":"))
		if ok && strings.EqualFold(string(bytes.TrimSpace(field)), name) {
			return true
		}
	}
	return false
}

// headerEnd returns the offset just past the blank line ending the header
// block, or -1 when it has not arrived yet.
func headerEnd(b []byte) int {
	crlf := bytes.Index(b, crlfcrlf)
	lf := bytes.Index(b, lflf)
	switch {
	case crlf < 0 && lf < 0:
		return -1
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return crlf + len(crlfcrlf)
	default:
		return lf + len(lflf)
	}
}
