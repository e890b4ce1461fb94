package wire

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ParaToolsInc/snapped/ipc"
	"github.com/ParaToolsInc/snapped/types"
)

// QueryKind tags a query variant.
type QueryKind uint8

const (
	// QueryJoin attaches the sender as a child of the receiver.
	// Bootstrap-only: valid as the first command on a fresh connection.
	QueryJoin QueryKind = iota + 1
	// QueryPivot asks the root to mint an id and assign a parent.
	// Bootstrap-only, root-only in practice.
	QueryPivot
	// QueryCount counts the processes in the subtree.
	QueryCount
	// QueryHistogram aggregates a histogram of a counter over the subtree.
	QueryHistogram
	// QueryListKeys enumerates counter names over the subtree.
	QueryListKeys
	// QueryValues collects per-process values of a counter over the subtree.
	QueryValues
)

// String returns the variant name for logs and error messages.
func (k QueryKind) String() string {
	switch k {
	case QueryJoin:
		return "Join"
	case QueryPivot:
		return "Pivot"
	case QueryCount:
		return "Count"
	case QueryHistogram:
		return "Histogram"
	case QueryListKeys:
		return "ListKeys"
	case QueryValues:
		return "Values"
	default:
		return "Unknown"
	}
}

// Query is one query variant. Kind discriminates; only the fields of the
// active variant are meaningful.
type Query struct {
	Kind QueryKind

	// NodeID is the joiner's id (Join).
	NodeID types.NodeID
	// Addr is the caller's advertised address (Pivot).
	Addr string
	// Key is the counter name (Histogram, Values).
	Key string
}

// NewJoin builds a Join query.
func NewJoin(id types.NodeID) *Query {
	return &Query{Kind: QueryJoin, NodeID: id}
}

// NewPivot builds a Pivot query advertising the caller's address.
func NewPivot(addr string) *Query {
	return &Query{Kind: QueryPivot, Addr: addr}
}

// NewCount builds a Count query.
func NewCount() *Query {
	return &Query{Kind: QueryCount}
}

// NewHistogram builds a Histogram query for a counter name.
func NewHistogram(key string) *Query {
	return &Query{Kind: QueryHistogram, Key: key}
}

// NewListKeys builds a ListKeys query.
func NewListKeys() *Query {
	return &Query{Kind: QueryListKeys}
}

// NewValues builds a Values query for a counter name.
func NewValues(key string) *Query {
	return &Query{Kind: QueryValues, Key: key}
}

// EncodeQuery serializes a query as tag byte plus variant payload.
func EncodeQuery(q *Query) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeUint8(uint8(q.Kind)); err != nil {
		return nil, err
	}

	switch q.Kind {
	case QueryJoin:
		if err := enc.EncodeUint32(uint32(q.NodeID)); err != nil {
			return nil, err
		}
	case QueryPivot:
		if err := enc.EncodeString(q.Addr); err != nil {
			return nil, err
		}
	case QueryCount, QueryListKeys:
		// No payload.
	case QueryHistogram, QueryValues:
		if err := enc.EncodeString(q.Key); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownVariant
	}

	return buf.Bytes(), nil
}

// DecodeQuery deserializes a query payload.
func DecodeQuery(payload []byte) (*Query, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))

	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, &DecodeError{What: "query tag", Err: err}
	}

	q := &Query{Kind: QueryKind(tag)}

	switch q.Kind {
	case QueryJoin:
		id, err := dec.DecodeUint32()
		if err != nil {
			return nil, &DecodeError{What: "Join payload", Err: err}
		}
		q.NodeID = types.NodeID(id)
	case QueryPivot:
		if q.Addr, err = dec.DecodeString(); err != nil {
			return nil, &DecodeError{What: "Pivot payload", Err: err}
		}
	case QueryCount, QueryListKeys:
		// No payload.
	case QueryHistogram, QueryValues:
		if q.Key, err = dec.DecodeString(); err != nil {
			return nil, &DecodeError{What: "query key", Err: err}
		}
	default:
		return nil, &DecodeError{What: "query", Err: ErrUnknownVariant}
	}

	return q, nil
}

// WriteQuery frames and writes a query. Callers must serialize writes per
// socket.
func WriteQuery(w io.Writer, q *Query) error {
	payload, err := EncodeQuery(q)
	if err != nil {
		return err
	}
	return ipc.WriteFrame(w, payload)
}

// ReadQuery reads one framed query from the decoder.
func ReadQuery(d *ipc.FrameDecoder) (*Query, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeQuery(payload)
}
