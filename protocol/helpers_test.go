package protocol_test

import (
	"strings"
	"testing"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/require"
)

const rfcKey = "dGhlIHNhbXBsZSBub25jZQ=="
const rfcAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="

var requestLines = []string{
	"GET /ws HTTP/1.1",
	"Host: localhost:8080",
	"Connection: Upgrade",
	"Upgrade: websocket",
	"Origin: http://localhost",
	"Sec-WebSocket-Version: 13",
	"Sec-WebSocket-Key: " + rfcKey,
}

func buildRequest(lines []string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

func validRequest() []byte {
	return buildRequest(requestLines)
}

// requestWith replaces (or with an empty value drops) the header line whose
// name matches.
func requestWith(name, line string) []byte {
	out := make([]string, 0, len(requestLines))
	for _, l := range requestLines {
		if strings.HasPrefix(strings.ToLower(l), strings.ToLower(name)+":") {
			if line != "" {
				out = append(out, line)
			}
			continue
		}
		out = append(out, l)
	}
	return buildRequest(out)
}

var testMask = [4]byte{0x37, 0xfa, 0x21, 0x3d}

// clientFrame compiles a masked client frame the way a browser would send it.
func clientFrame(t testing.TB, op ws.OpCode, fin bool, payload []byte) []byte {
	t.Helper()
	f := ws.NewFrame(op, fin, payload)
	f = ws.MaskFrameWith(f, testMask)
	b, err := ws.CompileFrame(f)
	require.NoError(t, err)
	return b
}
