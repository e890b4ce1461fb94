package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/ParaToolsInc/snapped/hist"
	"github.com/ParaToolsInc/snapped/types"
)

func TestQuery_RoundTrip(t *testing.T) {
	queries := []*Query{
		NewJoin(42),
		NewPivot("node-7:41231"),
		NewCount(),
		NewHistogram("latency"),
		NewListKeys(),
		NewValues("requests"),
	}

	for _, q := range queries {
		t.Run(q.Kind.String(), func(t *testing.T) {
			payload, err := EncodeQuery(q)
			if err != nil {
				t.Fatalf("EncodeQuery failed: %v", err)
			}
			got, err := DecodeQuery(payload)
			if err != nil {
				t.Fatalf("DecodeQuery failed: %v", err)
			}
			if !reflect.DeepEqual(got, q) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, q)
			}
		})
	}
}

func TestQuery_FramedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := NewPivot("host:1234")
	if err := WriteQuery(&buf, want); err != nil {
		t.Fatalf("WriteQuery failed: %v", err)
	}
	got, err := ReadQuery(NewDecoder(&buf))
	if err != nil {
		t.Fatalf("ReadQuery failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestQuery_UnknownTag(t *testing.T) {
	payload, err := EncodeQuery(&Query{Kind: QueryKind(99)})
	if !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("encode: expected ErrUnknownVariant, got %v (payload %v)", err, payload)
	}

	_, err = DecodeQuery([]byte{0xcc, 0x63}) // msgpack uint8, tag 99
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("decode: expected *DecodeError, got %v", err)
	}
	if !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("decode: expected ErrUnknownVariant in chain, got %v", err)
	}
}

func TestQuery_Truncated(t *testing.T) {
	payload, err := EncodeQuery(NewPivot("host:1234"))
	if err != nil {
		t.Fatalf("EncodeQuery failed: %v", err)
	}

	_, err = DecodeQuery(payload[:2])
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("expected *DecodeError for truncated payload, got %v", err)
	}
}

func TestResponse_RoundTrip(t *testing.T) {
	h := hist.New()
	h.Increment(7)
	h.Increment(100000)

	responses := []*Response{
		NewErr("something broke"),
		NewOk(),
		NewCountResponse(18),
		NewPivotResponse(types.NodeID(5), "node-3:4567"),
		NewHistogramResponse(1.7208e15, h),
		NewListKeysResponse([]string{"a", "b", "test"}),
		NewValuesResponse(map[string]uint64{"node-1:100": 5, "node-2:200": 7}),
	}

	for _, r := range responses {
		t.Run(r.Kind.String(), func(t *testing.T) {
			payload, err := EncodeResponse(r)
			if err != nil {
				t.Fatalf("EncodeResponse failed: %v", err)
			}
			got, err := DecodeResponse(payload)
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}

			if got.Kind != r.Kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, r.Kind)
			}
			switch r.Kind {
			case RespHistogram:
				if got.Ts != r.Ts {
					t.Errorf("Ts = %v, want %v", got.Ts, r.Ts)
				}
				if !reflect.DeepEqual(got.Hist.Buckets(), r.Hist.Buckets()) {
					t.Errorf("histogram buckets mismatch: got %v, want %v",
						got.Hist.Buckets(), r.Hist.Buckets())
				}
			default:
				if !reflect.DeepEqual(got, r) {
					t.Errorf("round trip mismatch: got %+v, want %+v", got, r)
				}
			}
		})
	}
}

func TestResponse_EmptyCollections(t *testing.T) {
	payload, err := EncodeResponse(NewValuesResponse(map[string]uint64{}))
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	got, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(got.Values) != 0 {
		t.Errorf("expected empty values, got %v", got.Values)
	}

	payload, err = EncodeResponse(NewListKeysResponse(nil))
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	got, err = DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(got.Keys) != 0 {
		t.Errorf("expected no keys, got %v", got.Keys)
	}
}

func TestResponse_DeterministicEncoding(t *testing.T) {
	r := NewValuesResponse(map[string]uint64{"c": 3, "a": 1, "b": 2})

	first, err := EncodeResponse(r)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := EncodeResponse(r)
		if err != nil {
			t.Fatalf("EncodeResponse failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding of the same response differs between calls")
		}
	}
}

func TestResponse_ErrIsTerminal(t *testing.T) {
	payload, err := EncodeResponse(NewErr("Failed to join a root"))
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	got, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if got.Err != "Failed to join a root" {
		t.Errorf("Err = %q, want %q", got.Err, "Failed to join a root")
	}
}
