// Package ipc implements length-prefixed binary framing over stream sockets.
//
// Each frame is a little-endian 8-byte length followed by exactly that many
// opaque payload bytes. Reads are blocking and complete (io.ReadFull); a
// short read is a terminal framing error for the owning loop. The codec
// itself imposes no ceiling on frame size — the wire layer installs one via
// NewFrameDecoderLimit.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 8

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated length prefix or payload.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding the installed limit.
	FrameErrorTooLarge
)

// FrameError represents a framing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if the error is a framing error of any kind.
func IsFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader io.Reader
	limit  uint64
}

// NewFrameDecoder creates a frame decoder with no payload size limit.
// Wraps the reader with bufio.Reader to reduce syscall overhead on
// unbuffered sources (raw TCP sockets).
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return NewFrameDecoderLimit(r, 0)
}

// NewFrameDecoderLimit creates a frame decoder rejecting payloads larger
// than limit bytes. A limit of 0 means unlimited.
func NewFrameDecoderLimit(r io.Reader, limit uint64) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br, limit: limit}
}

// ReadFrame reads a single frame from the stream and returns the raw
// payload bytes.
//
// Errors:
//   - io.EOF: stream ended cleanly before the first prefix byte
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (terminal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (terminal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.LittleEndian.Uint64(lengthBuf[:])

	if d.limit != 0 && payloadSize > d.limit {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, d.limit),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// EncodeFrame encodes a payload with its little-endian length prefix.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint64(buf[:LengthPrefixSize], uint64(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// WriteFrame writes a payload as a single framed message.
// The write is atomic at the codec level: prefix and payload go out in one
// Write call. Callers must serialize writes per socket.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(EncodeFrame(payload)); err != nil {
		return &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to write frame",
			Err:  err,
		}
	}
	return nil
}
