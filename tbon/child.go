package tbon

import (
	"net"
	"sync"

	"github.com/ParaToolsInc/snapped/ipc"
	"github.com/ParaToolsInc/snapped/types"
	"github.com/ParaToolsInc/snapped/wire"
)

// childEntry is one retained downstream socket. The acceptor creates
// entries; the aggregator borrows them for the duration of each query.
// Entries are never removed: a closed socket in the table fails every
// subsequent aggregation (fail-fast, no pruning).
type childEntry struct {
	id   types.NodeID
	conn net.Conn
	dec  *ipc.FrameDecoder
}

func newChildEntry(id types.NodeID, conn net.Conn, dec *ipc.FrameDecoder) *childEntry {
	return &childEntry{id: id, conn: conn, dec: dec}
}

// query performs one request/response round trip on the retained socket.
// Per-socket I/O is strictly sequential: send, then receive. The caller
// must hold exclusive use of the entry.
func (c *childEntry) query(q *wire.Query) (*wire.Response, error) {
	if err := wire.WriteQuery(c.conn, q); err != nil {
		return nil, err
	}
	resp, err := wire.ReadResponse(c.dec)
	if err != nil {
		return nil, err
	}
	if resp.Kind == wire.RespErr {
		return nil, &remoteError{msg: resp.Err}
	}
	return resp, nil
}

// remoteError carries a child-reported Err message verbatim.
type remoteError struct {
	msg string
}

func (e *remoteError) Error() string {
	return e.msg
}

// childTable is a node's set of live downstream sockets.
//
// The mutex serializes the acceptor's appends against the aggregator's
// fan-outs: the aggregator holds the lock for the duration of a query, so
// each socket has exactly one owner at a time and concurrent initiators at
// the root are serialized.
type childTable struct {
	mu      sync.Mutex
	entries []*childEntry
}

func newChildTable() *childTable {
	return &childTable{}
}

// add appends a retained socket. Called by the acceptor on Join.
// The acceptor's frame decoder travels with the socket so buffered bytes
// are not lost across the ownership handoff.
func (t *childTable) add(id types.NodeID, conn net.Conn, dec *ipc.FrameDecoder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, newChildEntry(id, conn, dec))
}

// size returns the number of direct children.
func (t *childTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
