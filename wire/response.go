package wire

import (
	"bytes"
	"io"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ParaToolsInc/snapped/hist"
	"github.com/ParaToolsInc/snapped/ipc"
	"github.com/ParaToolsInc/snapped/types"
)

// ResponseKind tags a response variant.
type ResponseKind uint8

const (
	// RespErr is a terminal failure of the current query.
	RespErr ResponseKind = iota + 1
	// RespOk acknowledges a Join.
	RespOk
	// RespCount answers Count.
	RespCount
	// RespPivot answers Pivot with the minted id and the assigned parent's
	// address.
	RespPivot
	// RespHistogram answers Histogram with a staleness timestamp and the
	// folded histogram.
	RespHistogram
	// RespListKeys answers ListKeys with the key set.
	RespListKeys
	// RespValues answers Values with the per-hostkey value map.
	RespValues
)

// String returns the variant name for logs and error messages.
func (k ResponseKind) String() string {
	switch k {
	case RespErr:
		return "Err"
	case RespOk:
		return "Ok"
	case RespCount:
		return "Count"
	case RespPivot:
		return "Pivot"
	case RespHistogram:
		return "Histogram"
	case RespListKeys:
		return "ListKeys"
	case RespValues:
		return "Values"
	default:
		return "Unknown"
	}
}

// Response is one response variant. Kind discriminates; only the fields of
// the active variant are meaningful.
type Response struct {
	Kind ResponseKind

	// Err is the human-readable failure message (Err).
	Err string
	// Count is the subtree process count (Count).
	Count uint32
	// NodeID and Addr carry the pivot assignment (Pivot).
	NodeID types.NodeID
	Addr   string
	// Ts and Hist carry the folded histogram (Histogram). Ts is the mean of
	// the responder's own wall-clock microsecond reading and each direct
	// child's reported Ts.
	Ts   float64
	Hist *hist.Histogram
	// Keys is the aggregated key set (ListKeys). Order is not significant.
	Keys []string
	// Values maps hostkey to counter value (Values).
	Values map[string]uint64
}

// NewOk builds an Ok response.
func NewOk() *Response {
	return &Response{Kind: RespOk}
}

// NewErr builds an Err response with a human-readable message.
func NewErr(msg string) *Response {
	return &Response{Kind: RespErr, Err: msg}
}

// NewCountResponse builds a Count response.
func NewCountResponse(count uint32) *Response {
	return &Response{Kind: RespCount, Count: count}
}

// NewPivotResponse builds a Pivot response.
func NewPivotResponse(id types.NodeID, addr string) *Response {
	return &Response{Kind: RespPivot, NodeID: id, Addr: addr}
}

// NewHistogramResponse builds a Histogram response.
func NewHistogramResponse(ts float64, h *hist.Histogram) *Response {
	return &Response{Kind: RespHistogram, Ts: ts, Hist: h}
}

// NewListKeysResponse builds a ListKeys response.
func NewListKeysResponse(keys []string) *Response {
	return &Response{Kind: RespListKeys, Keys: keys}
}

// NewValuesResponse builds a Values response.
func NewValuesResponse(values map[string]uint64) *Response {
	return &Response{Kind: RespValues, Values: values}
}

// EncodeResponse serializes a response as tag byte plus variant payload.
// Key sets and value maps are emitted in sorted key order so the encoding
// stays deterministic.
func EncodeResponse(r *Response) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeUint8(uint8(r.Kind)); err != nil {
		return nil, err
	}

	switch r.Kind {
	case RespErr:
		if err := enc.EncodeString(r.Err); err != nil {
			return nil, err
		}
	case RespOk:
		// No payload.
	case RespCount:
		if err := enc.EncodeUint32(r.Count); err != nil {
			return nil, err
		}
	case RespPivot:
		if err := enc.EncodeUint32(uint32(r.NodeID)); err != nil {
			return nil, err
		}
		if err := enc.EncodeString(r.Addr); err != nil {
			return nil, err
		}
	case RespHistogram:
		if err := enc.EncodeFloat64(r.Ts); err != nil {
			return nil, err
		}
		h := r.Hist
		if h == nil {
			h = hist.New()
		}
		if err := h.EncodeMsgpack(enc); err != nil {
			return nil, err
		}
	case RespListKeys:
		keys := append([]string(nil), r.Keys...)
		sort.Strings(keys)
		if err := enc.EncodeUint32(uint32(len(keys))); err != nil {
			return nil, err
		}
		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return nil, err
			}
		}
	case RespValues:
		keys := make([]string, 0, len(r.Values))
		for k := range r.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := enc.EncodeUint32(uint32(len(keys))); err != nil {
			return nil, err
		}
		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return nil, err
			}
			if err := enc.EncodeUint64(r.Values[k]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ErrUnknownVariant
	}

	return buf.Bytes(), nil
}

// DecodeResponse deserializes a response payload.
func DecodeResponse(payload []byte) (*Response, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))

	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, &DecodeError{What: "response tag", Err: err}
	}

	r := &Response{Kind: ResponseKind(tag)}

	switch r.Kind {
	case RespErr:
		if r.Err, err = dec.DecodeString(); err != nil {
			return nil, &DecodeError{What: "Err payload", Err: err}
		}
	case RespOk:
		// No payload.
	case RespCount:
		if r.Count, err = dec.DecodeUint32(); err != nil {
			return nil, &DecodeError{What: "Count payload", Err: err}
		}
	case RespPivot:
		id, err := dec.DecodeUint32()
		if err != nil {
			return nil, &DecodeError{What: "Pivot payload", Err: err}
		}
		r.NodeID = types.NodeID(id)
		if r.Addr, err = dec.DecodeString(); err != nil {
			return nil, &DecodeError{What: "Pivot payload", Err: err}
		}
	case RespHistogram:
		if r.Ts, err = dec.DecodeFloat64(); err != nil {
			return nil, &DecodeError{What: "Histogram payload", Err: err}
		}
		r.Hist = &hist.Histogram{}
		if err := r.Hist.DecodeMsgpack(dec); err != nil {
			return nil, &DecodeError{What: "Histogram payload", Err: err}
		}
	case RespListKeys:
		n, err := dec.DecodeUint32()
		if err != nil {
			return nil, &DecodeError{What: "ListKeys payload", Err: err}
		}
		r.Keys = make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return nil, &DecodeError{What: "ListKeys payload", Err: err}
			}
			r.Keys = append(r.Keys, k)
		}
	case RespValues:
		n, err := dec.DecodeUint32()
		if err != nil {
			return nil, &DecodeError{What: "Values payload", Err: err}
		}
		r.Values = make(map[string]uint64, n)
		for i := uint32(0); i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return nil, &DecodeError{What: "Values payload", Err: err}
			}
			v, err := dec.DecodeUint64()
			if err != nil {
				return nil, &DecodeError{What: "Values payload", Err: err}
			}
			r.Values[k] = v
		}
	default:
		return nil, &DecodeError{What: "response", Err: ErrUnknownVariant}
	}

	return r, nil
}

// WriteResponse frames and writes a response. Callers must serialize writes
// per socket.
func WriteResponse(w io.Writer, r *Response) error {
	payload, err := EncodeResponse(r)
	if err != nil {
		return err
	}
	return ipc.WriteFrame(w, payload)
}

// ReadResponse reads one framed response from the decoder.
func ReadResponse(d *ipc.FrameDecoder) (*Response, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}
