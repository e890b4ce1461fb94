package tbon

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ParaToolsInc/snapped/hist"
	"github.com/ParaToolsInc/snapped/iox"
	"github.com/ParaToolsInc/snapped/ipc"
	"github.com/ParaToolsInc/snapped/log"
	"github.com/ParaToolsInc/snapped/types"
	"github.com/ParaToolsInc/snapped/wire"
)

// RootEnv is the environment variable carrying the root's advertised
// address. Its presence makes a process a leaf; its absence makes it the
// root.
const RootEnv = "TREEMON_ROOT"

// DefaultBindAddr is the listener bind address when none is configured.
// Port 0 lets the OS assign one.
const DefaultBindAddr = "0.0.0.0:0"

// waitPollInterval is the self-Count polling period of WaitForChildren.
const waitPollInterval = 100 * time.Millisecond

// Tbon is a node's handle on the overlay: its identity, its listener, its
// downstream sockets, its counters, and — at the root — the tree view.
// Created once per process; lives for the process lifetime.
type Tbon struct {
	id       types.NodeID
	children *childTable
	view     *TreeView
	bindAddr string
	counters *counterStore
	log      *log.Logger
}

// InitRoot binds a listener, seeds the tree view with this node in slot 0,
// and spawns the acceptor. bindAddr may be empty for the default
// OS-assigned port on 0.0.0.0. With a wildcard bind host the advertised
// address uses the system hostname so it resolves across hosts; an explicit
// bind host is advertised as-is.
func InitRoot(bindAddr string, logger *log.Logger) (*Tbon, error) {
	if bindAddr == "" {
		bindAddr = DefaultBindAddr
	}

	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", bindAddr, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	addr := advertiseFor(bindAddr, port)

	t := &Tbon{
		id:       types.RootID,
		children: newChildTable(),
		view:     NewTreeView(addr),
		bindAddr: addr,
		counters: newCounterStore(),
		log:      logger.WithNode(uint32(types.RootID), addr),
	}

	go func() {
		if err := t.acceptLoop(listener); err != nil {
			t.log.Error("acceptor terminated", map[string]any{"error": err.Error()})
		}
	}()

	return t, nil
}

// advertiseFor builds the address published to peers. A wildcard bind
// advertises the system hostname (resolvable across hosts); an explicit
// bind host is advertised as-is.
func advertiseFor(bindAddr string, port int) string {
	host, _, err := net.SplitHostPort(bindAddr)
	if err == nil && host != "" && host != "0.0.0.0" && host != "::" {
		return net.JoinHostPort(host, fmt.Sprintf("%d", port))
	}
	return types.AdvertisedAddr(port)
}

// InitLeaf brings up this node's own listener first (so it can parent
// later joiners), then performs the two-phase join: a short-lived Pivot
// connection to the root for an id and a parent assignment, then a Join at
// that parent over the socket that becomes this node's query channel.
// bindAddr may be empty for the default.
func InitLeaf(bindAddr string, logger *log.Logger) (*Tbon, error) {
	t, err := InitRoot(bindAddr, logger)
	if err != nil {
		return nil, err
	}

	rootAddr := os.Getenv(RootEnv)
	if rootAddr == "" {
		return nil, fmt.Errorf("%s is not set", RootEnv)
	}

	id, parentAddr, err := pivotAt(rootAddr, t.bindAddr)
	if err != nil {
		return nil, err
	}
	t.id = id
	t.log = logger.WithNode(uint32(id), t.bindAddr)

	conn, dec, err := joinAt(parentAddr, id)
	if err != nil {
		return nil, err
	}

	go t.handlerLoop(conn, dec)

	t.log.Info("joined overlay", map[string]any{"parent": parentAddr})

	return t, nil
}

// pivotAt asks the root for an id and a parent over a short-lived
// connection.
func pivotAt(rootAddr, selfAddr string) (types.NodeID, string, error) {
	conn, err := net.Dial("tcp", rootAddr)
	if err != nil {
		return 0, "", fmt.Errorf("dial root %s: %w", rootAddr, err)
	}
	defer iox.DiscardClose(conn)

	if err := wire.WriteQuery(conn, wire.NewPivot(selfAddr)); err != nil {
		return 0, "", err
	}
	resp, err := wire.ReadResponse(wire.NewDecoder(conn))
	if err != nil {
		return 0, "", err
	}
	switch resp.Kind {
	case wire.RespPivot:
		return resp.NodeID, resp.Addr, nil
	case wire.RespErr:
		return 0, "", &remoteError{msg: resp.Err}
	default:
		return 0, "", fmt.Errorf("unexpected response from Pivot: %s", resp.Kind)
	}
}

// joinAt registers at the assigned parent. The connection is retained: the
// parent drives it as the query initiator from here on.
func joinAt(parentAddr string, id types.NodeID) (net.Conn, *ipc.FrameDecoder, error) {
	conn, err := net.Dial("tcp", parentAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial parent %s: %w", parentAddr, err)
	}

	if err := wire.WriteQuery(conn, wire.NewJoin(id)); err != nil {
		iox.DiscardClose(conn)
		return nil, nil, err
	}
	dec := wire.NewDecoder(conn)
	resp, err := wire.ReadResponse(dec)
	if err != nil {
		iox.DiscardClose(conn)
		return nil, nil, err
	}
	switch resp.Kind {
	case wire.RespOk:
		return conn, dec, nil
	case wire.RespErr:
		iox.DiscardClose(conn)
		return nil, nil, &remoteError{msg: resp.Err}
	default:
		iox.DiscardClose(conn)
		return nil, nil, fmt.Errorf("unexpected response from Join: %s", resp.Kind)
	}
}

// URL returns the node's advertised host:port address (see advertiseFor).
func (t *Tbon) URL() string {
	return t.bindAddr
}

// ID returns the node's overlay id.
func (t *Tbon) ID() types.NodeID {
	return t.id
}

// View returns the tree view. Only meaningful at the root; leaves hold a
// view seeded with themselves alone.
func (t *Tbon) View() *TreeView {
	return t.view
}

// NumChildren returns the number of direct children.
func (t *Tbon) NumChildren() int {
	return t.children.size()
}

// KnownNodes returns the number of nodes in the tree view. At the root
// this is every node ever pivoted; at a leaf it is always 1.
func (t *Tbon) KnownNodes() int {
	return t.view.Size()
}

// SetCounter publishes a named counter value, overwriting any previous one.
func (t *Tbon) SetCounter(name string, value uint64) {
	t.counters.set(name, value)
}

// Count aggregates the process count over this node's subtree.
func (t *Tbon) Count() (int, error) {
	resp, err := t.doCount()
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

// ListKeys aggregates the set of counter names over this node's subtree.
func (t *Tbon) ListKeys() ([]string, error) {
	resp, err := t.doListKeys()
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Values aggregates per-process values of a counter, keyed by hostkey.
func (t *Tbon) Values(key string) (map[string]uint64, error) {
	resp, err := t.doValues(key)
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Histogram aggregates a histogram of a counter over this node's subtree,
// returning the staleness timestamp and the folded histogram.
func (t *Tbon) Histogram(key string) (float64, *hist.Histogram, error) {
	resp, err := t.doHistogram(key)
	if err != nil {
		return 0, nil, err
	}
	return resp.Ts, resp.Hist, nil
}

// WaitForChildren polls Count against self every 100 ms until the subtree
// holds expected+1 processes. Used to synchronize startup.
func (t *Tbon) WaitForChildren(expected int) error {
	for {
		n, err := t.Count()
		if err != nil {
			return err
		}
		if n == expected+1 {
			return nil
		}
		time.Sleep(waitPollInterval)
	}
}
