package discovery

import (
	"context"
	"testing"
	"time"
)

const testMulticastAddr = "239.255.76.67:19999"

func TestAdvertiseAndQueryRoundTrip(t *testing.T) {
	publisher := New(testMulticastAddr)
	defer publisher.Close()
	searcher := New(testMulticastAddr)
	defer searcher.Close()

	scope := "_test_scope._udp"
	if err := publisher.Advertise(scope, "agent-one", "agent-one", 0, []byte("payload")); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var records []Record
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := searcher.Query(ctx, scope, ".*", 0)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(recs) > 0 {
			records = recs
			break
		}
	}
	if len(records) == 0 {
		t.Fatal("expected the announced record to be discoverable by another fabric instance")
	}
	found := false
	for _, r := range records {
		if r.Name == "agent-one" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find agent-one among %+v", records)
	}
}

func TestWithdrawRemovesRecordFromLocalRegistry(t *testing.T) {
	f := New(testMulticastAddr)
	defer f.Close()

	scope := "_test_scope_withdraw._udp"
	if err := f.Advertise(scope, "agent-two", "agent-two", 0, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := f.Withdraw(scope, "agent-two"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	records, err := f.Query(ctx, scope, ".*", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range records {
		if r.Name == "agent-two" {
			t.Fatalf("expected agent-two to be withdrawn, still present: %+v", r)
		}
	}
}
