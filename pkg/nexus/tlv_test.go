package nexus

import (
	"bytes"
	"testing"
)

func TestTLVRoundTrip(t *testing.T) {
	w := &TLVWriter{}
	w.WriteVarintField(1, 300)
	w.WriteSVarintField(2, -42)
	w.WriteBooleanField(3, true)
	w.WriteStringField(4, "nexus-host.dropcam.com")
	w.WriteBytesField(5, []byte{0xDE, 0xAD})
	w.WriteDoubleField(6, 1234.5)

	got := map[uint64]TLVField{}
	err := ConsumeFields(w.Bytes(), func(f TLVField) error {
		got[uint64(f.Tag)] = f
		return nil
	})
	if err != nil {
		t.Fatalf("ConsumeFields: %v", err)
	}

	if v := got[1].Varint; v != 300 {
		t.Errorf("tag 1 = %d, want 300", v)
	}
	if v := got[2].SVarint(); v != -42 {
		t.Errorf("tag 2 = %d, want -42", v)
	}
	if !got[3].Bool() {
		t.Error("tag 3 = false, want true")
	}
	if v := got[4].String(); v != "nexus-host.dropcam.com" {
		t.Errorf("tag 4 = %q", v)
	}
	if !bytes.Equal(got[5].Bytes, []byte{0xDE, 0xAD}) {
		t.Errorf("tag 5 = % x", got[5].Bytes)
	}
	if v := got[6].Double(); v != 1234.5 {
		t.Errorf("tag 6 = %v, want 1234.5", v)
	}
}

func TestSVarintNegativeDeltas(t *testing.T) {
	// Timestamp deltas go backwards on stream restarts
	for _, delta := range []int64{0, 1, -1, 33, -33, 1 << 40, -(1 << 40)} {
		w := &TLVWriter{}
		w.WriteSVarintField(3, delta)

		var got int64
		err := ConsumeFields(w.Bytes(), func(f TLVField) error {
			got = f.SVarint()
			return nil
		})
		if err != nil {
			t.Fatalf("delta %d: %v", delta, err)
		}
		if got != delta {
			t.Errorf("delta = %d, want %d", got, delta)
		}
	}
}

func TestConsumeFieldsSkipsUnknownTags(t *testing.T) {
	w := &TLVWriter{}
	w.WriteVarintField(1, 7)
	w.WriteBytesField(99, bytes.Repeat([]byte{0x00}, 64))
	w.WriteStringField(2, "after")

	seen := []uint64{}
	err := ConsumeFields(w.Bytes(), func(f TLVField) error {
		seen = append(seen, uint64(f.Tag))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 {
		t.Fatalf("saw %d fields, want 3", len(seen))
	}
}

func TestConsumeFieldsTruncatedPayload(t *testing.T) {
	w := &TLVWriter{}
	w.WriteBytesField(1, []byte{1, 2, 3, 4})
	raw := w.Bytes()

	err := ConsumeFields(raw[:len(raw)-2], func(TLVField) error { return nil })
	if err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestHelloEncodingByAccountKind(t *testing.T) {
	native := Hello{
		ProtocolVersion: 3,
		UserID:          "123456",
		SessionToken:    "native-token",
		AttemptID:       "attempt-1",
		Platform:        ClientPlatform,
		ClientType:      ClientTypeIOS,
	}.Encode()

	federated := Hello{
		ProtocolVersion:  3,
		UserID:           "123456",
		AttemptID:        "attempt-2",
		Platform:         ClientPlatform,
		ClientType:       ClientTypeIOS,
		AuthorizeRequest: AuthorizeRequest{OliveToken: "jwt-token"}.Encode(),
	}.Encode()

	fields := func(raw []byte) map[uint64]TLVField {
		out := map[uint64]TLVField{}
		if err := ConsumeFields(raw, func(f TLVField) error {
			out[uint64(f.Tag)] = f
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		return out
	}

	nf := fields(native)
	if nf[4].String() != "native-token" {
		t.Errorf("native token field = %q", nf[4].String())
	}
	if _, ok := nf[12]; ok {
		t.Error("native hello must not carry a wrapped authorize request")
	}

	ff := fields(federated)
	if _, ok := ff[4]; ok {
		t.Error("federated hello must not carry a session token")
	}
	inner := fields(ff[12].Bytes)
	if inner[4].String() != "jwt-token" {
		t.Errorf("federated inner token = %q", inner[4].String())
	}
}
