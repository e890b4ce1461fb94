// Package wire defines the tagged-variant query/response schema spoken
// between overlay nodes, and its binary serialization.
//
// Each framed payload is one variant: a single tag byte followed by the
// variant's fields, msgpack-encoded. The encoding is deterministic per
// variant; peers are assumed to run compatible binaries (there is no
// version field). The payload size ceiling lives here, not in the frame
// codec.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/ParaToolsInc/snapped/ipc"
)

// MaxPayloadSize is the maximum accepted payload size (16 MiB).
// Enforcement is installed into the frame decoder at this layer per the
// framing contract.
const MaxPayloadSize = 16 * 1024 * 1024

// ErrUnknownVariant indicates a tag byte naming no known variant.
var ErrUnknownVariant = errors.New("unknown wire variant")

// DecodeError wraps a payload decoding failure. Decode errors are terminal
// for the owning loop.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecoder creates a frame decoder with the wire-level payload limit
// installed.
func NewDecoder(r io.Reader) *ipc.FrameDecoder {
	return ipc.NewFrameDecoderLimit(r, MaxPayloadSize)
}
