// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sec-WebSocket-Accept computation and the fixed 101 response template.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
)

const responsePrefix = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Accept: "

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// BuildUpgradeResponse renders the 101 Switching Protocols response.
func BuildUpgradeResponse(acceptKey string) []byte {
	b := make([]byte, 0, len(responsePrefix)+len(acceptKey)+4)
	b = append(b, responsePrefix...)
	b = append(b, acceptKey...)
	b = append(b, "\r\n\r\n"...)
	return b
}
