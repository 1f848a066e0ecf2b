package redis

import (
	"testing"
	"time"

	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/ports"
)

func TestEntryCodecRoundTrip(t *testing.T) {
	stored := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	in := ports.CacheEntry{
		Payload:  []byte(`{"price":187.4}`),
		Provider: "fmp",
		Status:   200,
		Class:    route.CacheRealTime,
		StoredAt: stored,
	}

	raw, err := encodeEntry(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeEntry(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Payload) != string(in.Payload) || out.Provider != "fmp" ||
		out.Status != 200 || out.Class != route.CacheRealTime || !out.StoredAt.Equal(stored) {
		t.Errorf("round trip = %+v", out)
	}
}

func TestDecodeCorruptEntry(t *testing.T) {
	if _, err := decodeEntry([]byte("not json")); err == nil {
		t.Error("corrupt entry should fail decode")
	}
}
