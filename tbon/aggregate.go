package tbon

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ParaToolsInc/snapped/hist"
	"github.com/ParaToolsInc/snapped/types"
	"github.com/ParaToolsInc/snapped/wire"
)

// runOnChildren sends q to every child in parallel and collects one
// response per child. The child table lock is held for the whole fan-out:
// it keeps each socket single-flight and serializes concurrent initiators.
//
// All-or-nothing: any child failure fails the whole call. Results arrive in
// child order; the folds below are commutative so order is irrelevant.
func (t *Tbon) runOnChildren(q *wire.Query) ([]*wire.Response, error) {
	t.children.mu.Lock()
	defer t.children.mu.Unlock()

	resps := make([]*wire.Response, len(t.children.entries))

	var g errgroup.Group
	for i, child := range t.children.entries {
		i, child := i, child
		g.Go(func() error {
			resp, err := child.query(q)
			if err != nil {
				return err
			}
			resps[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &AggregationError{Err: err}
	}

	return resps, nil
}

// doCount counts the processes in this node's subtree, itself included.
func (t *Tbon) doCount() (*wire.Response, error) {
	resps, err := t.runOnChildren(wire.NewCount())
	if err != nil {
		return nil, err
	}

	total := uint32(1)
	for _, r := range resps {
		if r.Kind != wire.RespCount {
			return nil, &AggregationError{Err: &mismatchError{query: "Count", got: r.Kind.String()}}
		}
		total += r.Count
	}

	return wire.NewCountResponse(total), nil
}

// doHistogram folds the subtree's histogram for key.
//
// The local contribution is one increment at the local value when the key
// exists; child histograms fold in by wrapping add. The reported ts is the
// arithmetic mean of the local microsecond reading and every child ts — a
// coarse staleness indicator for the result.
func (t *Tbon) doHistogram(key string) (*wire.Response, error) {
	ts := float64(time.Now().UnixMicro())

	total := hist.New()
	if v, ok := t.counters.get(key); ok {
		total.Increment(v)
	}

	resps, err := t.runOnChildren(wire.NewHistogram(key))
	if err != nil {
		return nil, err
	}

	sumTs := ts
	for _, r := range resps {
		if r.Kind != wire.RespHistogram {
			return nil, &AggregationError{Err: &mismatchError{query: "Histogram", got: r.Kind.String()}}
		}
		sumTs += r.Ts
		if err := total.WrappingAdd(r.Hist); err != nil {
			return nil, &AggregationError{Err: err}
		}
	}

	return wire.NewHistogramResponse(sumTs/float64(len(resps)+1), total), nil
}

// doListKeys unions the subtree's counter names with the local ones.
func (t *Tbon) doListKeys() (*wire.Response, error) {
	resps, err := t.runOnChildren(wire.NewListKeys())
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, k := range t.counters.keys() {
		set[k] = struct{}{}
	}
	for _, r := range resps {
		if r.Kind != wire.RespListKeys {
			return nil, &AggregationError{Err: &mismatchError{query: "ListKeys", got: r.Kind.String()}}
		}
		for _, k := range r.Keys {
			set[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	return wire.NewListKeysResponse(keys), nil
}

// doValues collects per-process values of key over the subtree, keyed by
// hostkey. Hostkeys are unique per process, so the map union is
// collision-free in practice; last write wins if not.
func (t *Tbon) doValues(key string) (*wire.Response, error) {
	resps, err := t.runOnChildren(wire.NewValues(key))
	if err != nil {
		return nil, err
	}

	values := make(map[string]uint64)
	for _, r := range resps {
		if r.Kind != wire.RespValues {
			return nil, &AggregationError{Err: &mismatchError{query: "Values", got: r.Kind.String()}}
		}
		for k, v := range r.Values {
			values[k] = v
		}
	}

	if v, ok := t.counters.get(key); ok {
		values[types.Hostkey()] = v
	}

	return wire.NewValuesResponse(values), nil
}

// handleQuery dispatches an aggregation query arriving on a retained query
// socket. Join and Pivot are bootstrap-only and rejected here.
func (t *Tbon) handleQuery(q *wire.Query) (*wire.Response, error) {
	switch q.Kind {
	case wire.QueryJoin:
		return wire.NewErr(ErrJoinOnQueryChannel.Error()), nil
	case wire.QueryPivot:
		return wire.NewErr(ErrPivotOnQueryChannel.Error()), nil
	case wire.QueryCount:
		return t.doCount()
	case wire.QueryHistogram:
		return t.doHistogram(q.Key)
	case wire.QueryListKeys:
		return t.doListKeys()
	case wire.QueryValues:
		return t.doValues(q.Key)
	default:
		return wire.NewErr(wire.ErrUnknownVariant.Error()), nil
	}
}
