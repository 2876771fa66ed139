// File: protocol/frame_decoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streaming frame decoder. The header is driven one byte at a time so a
// frame may be split at any boundary; payload runs are copied in bulk.

package protocol

type decodeState uint8

const (
	stateHeader decodeState = iota
	stateMaskLen
	stateExtLen16
	stateExtLen64
	stateMaskKey
	statePayload
)

// payloadPrealloc bounds the up-front allocation for a frame payload, so a
// forged length does not reserve memory before the bytes arrive.
const payloadPrealloc = 64 << 10

// FrameDecoder decodes client frames from an arbitrary chunked byte stream.
// At most one frame is in flight; the decoder resets after emitting it.
type FrameDecoder struct {
	state     decodeState
	remaining uint64

	fin     bool
	opcode  Opcode
	length  uint64
	masked  bool
	mask    [4]byte
	payload []byte

	maxPayload      uint64
	strictEmptyMask bool
}

// DecoderOption customizes a FrameDecoder.
type DecoderOption func(*FrameDecoder)

// WithMaxPayload fails frames longer than n bytes with ErrMessageTooBig.
// Zero means unlimited.
func WithMaxPayload(n uint64) DecoderOption {
	return func(d *FrameDecoder) {
		d.maxPayload = n
	}
}

// WithStrictEmptyMask expects the 4-byte mask key after a zero length
// byte. Without it a zero-length frame is emitted as soon as its length
// byte is seen.
func WithStrictEmptyMask(on bool) DecoderOption {
	return func(d *FrameDecoder) {
		d.strictEmptyMask = on
	}
}

// NewFrameDecoder returns a decoder waiting for a frame header.
func NewFrameDecoder(opts ...DecoderOption) *FrameDecoder {
	d := &FrameDecoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Consume feeds buf to the decoder and stops at the first completed frame.
//
// It returns the frame (nil if none completed), and the number of bytes
// of buf that were consumed. Bytes after a completed frame are left
// untouched; the caller re-invokes Consume with buf[n:] to continue.
// After an error the decoder must be discarded.
func (d *FrameDecoder) Consume(buf []byte) (*Frame, int, error) {
	i := 0
	for i < len(buf) {
		if d.state == statePayload {
			n := uint64(len(buf) - i)
			if n > d.remaining {
				n = d.remaining
			}
			d.payload = append(d.payload, buf[i:i+int(n)]...)
			d.remaining -= n
			i += int(n)
			if d.remaining == 0 {
				return d.emit(), i, nil
			}
			continue
		}

		f, err := d.step(buf[i])
		i++
		if err != nil {
			return nil, i, err
		}
		if f != nil {
			return f, i, nil
		}
	}
	return nil, i, nil
}

// Pending reports whether a frame is partially decoded.
func (d *FrameDecoder) Pending() bool {
	return d.state != stateHeader
}

func (d *FrameDecoder) step(b byte) (*Frame, error) {
	switch d.state {
	case stateHeader:
		if b&rsvBits != 0 {
			return nil, ErrReservedBitsNotZero
		}
		op, ok := parseOpcode(b)
		if !ok {
			return nil, ErrInvalidOpcode.WithContext("opcode", int(op))
		}
		d.fin = b&finBit != 0
		d.opcode = op
		d.state = stateMaskLen

	case stateMaskLen:
		if b&maskBit == 0 {
			return nil, ErrUnmaskedFrame
		}
		switch n := b & lenBits; n {
		case 0:
			if !d.strictEmptyMask {
				return d.emit(), nil
			}
			d.enterMaskKey()
		case len16Marker:
			d.state = stateExtLen16
			d.remaining = 2
		case len64Marker:
			d.state = stateExtLen64
			d.remaining = 8
		default:
			d.length = uint64(n)
			if err := d.checkLength(); err != nil {
				return nil, err
			}
			d.enterMaskKey()
		}

	case stateExtLen16, stateExtLen64:
		d.length = d.length<<8 | uint64(b)
		d.remaining--
		if d.remaining == 0 {
			if err := d.checkLength(); err != nil {
				return nil, err
			}
			d.enterMaskKey()
		}

	case stateMaskKey:
		d.mask[maskKeySize-d.remaining] = b
		d.remaining--
		if d.remaining == 0 {
			d.masked = true
			if d.length == 0 {
				return d.emit(), nil
			}
			d.state = statePayload
			d.remaining = d.length
			prealloc := d.length
			if prealloc > payloadPrealloc {
				prealloc = payloadPrealloc
			}
			d.payload = make([]byte, 0, prealloc)
		}
	}
	return nil, nil
}

func (d *FrameDecoder) enterMaskKey() {
	d.state = stateMaskKey
	d.remaining = maskKeySize
}

func (d *FrameDecoder) checkLength() error {
	if d.maxPayload > 0 && d.length > d.maxPayload {
		return ErrMessageTooBig.WithContext("length", d.length)
	}
	return nil
}

func (d *FrameDecoder) emit() *Frame {
	f := &Frame{
		Fin:     d.fin,
		Opcode:  d.opcode,
		Masked:  d.masked,
		Mask:    d.mask,
		Payload: d.payload,
	}
	d.reset()
	return f
}

func (d *FrameDecoder) reset() {
	d.state = stateHeader
	d.remaining = 0
	d.fin = false
	d.opcode = OpcodeContinuation
	d.length = 0
	d.masked = false
	d.mask = [4]byte{}
	d.payload = nil
}
