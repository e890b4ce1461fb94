// Package hist implements a mergeable log-linear bucketed histogram.
//
// Values below 2^(grouping+1) land in width-1 linear buckets; above that,
// each power-of-two range is split into 2^grouping equal sub-buckets, so
// relative bucket error is bounded by 2^-grouping across the full range.
// Two histograms with identical parameters combine by per-bucket addition
// with modular overflow (the wrapping add).
package hist

import (
	"fmt"
	"math/bits"

	"github.com/vmihailenco/msgpack/v5"
)

// Default histogram parameters. All histograms exchanged over the overlay
// use these; WrappingAdd rejects any parameter mismatch.
const (
	DefaultGrouping      = 8
	DefaultMaxValuePower = 64
)

// Histogram is a log-linear bucketed counter.
// Not safe for concurrent use; callers own synchronization.
type Histogram struct {
	grouping      uint8
	maxValuePower uint8
	buckets       []uint64
}

// New creates an empty histogram with the default parameters.
func New() *Histogram {
	return newWithParams(DefaultGrouping, DefaultMaxValuePower)
}

func newWithParams(grouping, maxValuePower uint8) *Histogram {
	return &Histogram{
		grouping:      grouping,
		maxValuePower: maxValuePower,
		buckets:       make([]uint64, bucketCount(grouping, maxValuePower)),
	}
}

// bucketCount returns the total number of buckets: the linear section holds
// 2^(grouping+1) width-1 buckets, then each remaining power-of-two range up
// to 2^maxValuePower contributes 2^grouping buckets.
func bucketCount(grouping, maxValuePower uint8) int {
	linear := 1 << (grouping + 1)
	octaves := int(maxValuePower) - int(grouping) - 1
	return linear + octaves*(1<<grouping)
}

// index maps a value to its bucket index.
func (h *Histogram) index(v uint64) int {
	if v < 1<<(h.grouping+1) {
		return int(v)
	}
	power := uint8(bits.Len64(v) - 1)
	offset := (v - 1<<power) >> (power - h.grouping)
	return (1 << (h.grouping + 1)) + int(power-h.grouping-1)*(1<<h.grouping) + int(offset)
}

// bounds returns the inclusive value range covered by bucket i.
func (h *Histogram) bounds(i int) (start, end uint64) {
	linear := 1 << (h.grouping + 1)
	if i < linear {
		return uint64(i), uint64(i)
	}
	j := i - linear
	segment := j >> h.grouping
	offset := uint64(j & (1<<h.grouping - 1))
	power := uint8(segment) + h.grouping + 1
	width := uint64(1) << (power - h.grouping)
	start = 1<<power + offset*width
	return start, start + width - 1
}

// Increment adds one observation of v.
func (h *Histogram) Increment(v uint64) {
	h.buckets[h.index(v)]++
}

// WrappingAdd folds other into h by per-bucket addition with modular
// overflow. The two histograms must share parameters.
func (h *Histogram) WrappingAdd(other *Histogram) error {
	if h.grouping != other.grouping || h.maxValuePower != other.maxValuePower {
		return fmt.Errorf("histogram parameter mismatch: (%d,%d) vs (%d,%d)",
			h.grouping, h.maxValuePower, other.grouping, other.maxValuePower)
	}
	for i, c := range other.buckets {
		h.buckets[i] += c
	}
	return nil
}

// Bucket is one non-empty histogram bucket with its inclusive value range.
type Bucket struct {
	Start uint64
	End   uint64
	Count uint64
}

// Buckets returns the non-empty buckets in value order.
func (h *Histogram) Buckets() []Bucket {
	var out []Bucket
	for i, c := range h.buckets {
		if c == 0 {
			continue
		}
		start, end := h.bounds(i)
		out = append(out, Bucket{Start: start, End: end, Count: c})
	}
	return out
}

// TotalCount returns the total number of recorded observations.
func (h *Histogram) TotalCount() uint64 {
	var total uint64
	for _, c := range h.buckets {
		total += c
	}
	return total
}

var (
	_ msgpack.CustomEncoder = (*Histogram)(nil)
	_ msgpack.CustomDecoder = (*Histogram)(nil)
)

// EncodeMsgpack encodes the histogram as parameters plus sparse
// (index, count) pairs. Empty buckets are omitted, which keeps frames small
// for the common few-distinct-values case.
func (h *Histogram) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeUint8(h.grouping); err != nil {
		return err
	}
	if err := enc.EncodeUint8(h.maxValuePower); err != nil {
		return err
	}
	var nonzero int
	for _, c := range h.buckets {
		if c != 0 {
			nonzero++
		}
	}
	if err := enc.EncodeUint32(uint32(nonzero)); err != nil {
		return err
	}
	for i, c := range h.buckets {
		if c == 0 {
			continue
		}
		if err := enc.EncodeUint32(uint32(i)); err != nil {
			return err
		}
		if err := enc.EncodeUint64(c); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack decodes a histogram encoded by EncodeMsgpack.
func (h *Histogram) DecodeMsgpack(dec *msgpack.Decoder) error {
	grouping, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	maxValuePower, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	if int(grouping) >= int(maxValuePower) || maxValuePower > 64 {
		return fmt.Errorf("invalid histogram parameters (%d,%d)", grouping, maxValuePower)
	}
	n, err := dec.DecodeUint32()
	if err != nil {
		return err
	}
	*h = *newWithParams(grouping, maxValuePower)
	for i := uint32(0); i < n; i++ {
		idx, err := dec.DecodeUint32()
		if err != nil {
			return err
		}
		count, err := dec.DecodeUint64()
		if err != nil {
			return err
		}
		if int(idx) >= len(h.buckets) {
			return fmt.Errorf("histogram bucket index %d out of range", idx)
		}
		h.buckets[idx] = count
	}
	return nil
}
