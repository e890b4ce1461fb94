package tbon

import (
	"net"

	"github.com/ParaToolsInc/snapped/iox"
	"github.com/ParaToolsInc/snapped/ipc"
	"github.com/ParaToolsInc/snapped/wire"
)

// handlerLoop serves the retained socket joining this node to its parent:
// read one query, dispatch (possibly recursively to this node's own
// children), write one response, strictly in order. Dispatch failures
// travel back as Err responses; read or write failures terminate the loop
// and drop the socket.
func (t *Tbon) handlerLoop(conn net.Conn, dec *ipc.FrameDecoder) {
	defer iox.DiscardClose(conn)

	for {
		query, err := wire.ReadQuery(dec)
		if err != nil {
			t.log.Debug("query channel closed", map[string]any{"error": err.Error()})
			return
		}

		resp, err := t.handleQuery(query)
		if err != nil {
			resp = wire.NewErr(err.Error())
		}

		if err := wire.WriteResponse(conn, resp); err != nil {
			t.log.Debug("query channel write failed", map[string]any{"error": err.Error()})
			return
		}
	}
}
