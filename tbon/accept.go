package tbon

import (
	"net"

	"github.com/ParaToolsInc/snapped/iox"
	"github.com/ParaToolsInc/snapped/wire"
)

// acceptLoop serves the node's listener: one connection at a time, exactly
// one bootstrap query per connection.
//
//   - Join: the socket is retained in the child table and becomes the
//     downstream channel for query fan-out. The acceptor never reads a
//     second query from it; subsequent traffic is driven by this node as
//     the query initiator.
//   - Pivot: answered from the tree view, then the connection closes.
//   - Anything else: rejected with Err, connection closes.
//
// Framing and decode failures on an accepted connection are terminal for
// the loop.
func (t *Tbon) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}

		dec := wire.NewDecoder(conn)
		query, err := wire.ReadQuery(dec)
		if err != nil {
			iox.DiscardClose(conn)
			return err
		}

		var resp *wire.Response
		retain := false

		switch query.Kind {
		case wire.QueryJoin:
			t.children.add(query.NodeID, conn, dec)
			resp = wire.NewOk()
			retain = true
			t.log.Debug("child joined", map[string]any{
				"child_id": uint32(query.NodeID),
				"children": t.children.size(),
			})
		case wire.QueryPivot:
			id, parentAddr, perr := t.view.Pivot(query.Addr)
			if perr != nil {
				resp = wire.NewErr(perr.Error())
			} else {
				resp = wire.NewPivotResponse(id, parentAddr)
				t.log.Debug("pivot assigned", map[string]any{
					"new_id": uint32(id),
					"parent": parentAddr,
				})
			}
		default:
			resp = wire.NewErr(ErrBootstrapMisuse.Error())
		}

		if err := wire.WriteResponse(conn, resp); err != nil {
			if !retain {
				iox.DiscardClose(conn)
			}
			return err
		}

		if !retain {
			iox.DiscardClose(conn)
		}
	}
}
