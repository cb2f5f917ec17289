package kstock

import "testing"

func TestRegistryAddKeepsOrderAndDedups(t *testing.T) {
	r := NewSubscriptionRegistry()

	added := r.Add("005930", "000660", "005930", "")
	if len(added) != 2 {
		t.Fatalf("added = %v, want 2 new codes", added)
	}

	if added := r.Add("005930"); len(added) != 0 {
		t.Errorf("re-adding known code returned %v", added)
	}

	r.Add("035720")
	codes := r.Snapshot()
	want := []string{"005930", "000660", "035720"}
	if len(codes) != len(want) {
		t.Fatalf("snapshot = %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s (insertion order)", i, codes[i], want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}
}

func TestRegistryContains(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.Add("005930")

	if !r.Contains("005930") {
		t.Error("missing added code")
	}
	if r.Contains("000660") {
		t.Error("contains code that was never added")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.Add("005930", "000660")

	snap := r.Snapshot()
	snap[0] = "mutated"

	if got := r.Snapshot()[0]; got != "005930" {
		t.Errorf("registry mutated through snapshot: %s", got)
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.Add("005930", "000660")
	r.Clear()

	if r.Len() != 0 {
		t.Errorf("len after clear = %d", r.Len())
	}
	if r.Contains("005930") {
		t.Error("cleared code still present")
	}

	// re-add after clear starts a fresh order
	r.Add("000660")
	if codes := r.Snapshot(); len(codes) != 1 || codes[0] != "000660" {
		t.Errorf("snapshot after clear+add = %v", codes)
	}
}
