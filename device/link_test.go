package device

import "testing"

func TestLinkArenaDedupPerAddress(t *testing.T) {
	arena := newLinkArena(3)

	link, ok := arena.begin("addr-1")
	if !ok {
		t.Fatal("first begin must claim a slot")
	}
	if _, ok := arena.begin("addr-1"); ok {
		t.Fatal("second begin for the same address must be refused")
	}

	arena.end(link)
	if _, ok := arena.begin("addr-1"); !ok {
		t.Fatal("slot must be reusable after end")
	}
}

func TestLinkArenaCap(t *testing.T) {
	arena := newLinkArena(2)

	a, _ := arena.begin("addr-1")
	arena.begin("addr-2")
	if _, ok := arena.begin("addr-3"); ok {
		t.Fatal("begin past the cap must be refused")
	}
	if arena.count() != 2 {
		t.Fatalf("count = %d, want 2", arena.count())
	}

	arena.end(a)
	if _, ok := arena.begin("addr-3"); !ok {
		t.Fatal("cap slot must free up after end")
	}
	if arena.has("addr-1") {
		t.Error("ended link still reported in flight")
	}
}

func TestLinkArenaTransitions(t *testing.T) {
	arena := newLinkArena(1)
	link, _ := arena.begin("addr-1")

	if link.State != LinkConnecting {
		t.Fatalf("new link state = %s, want connecting", link.State)
	}
	for _, st := range []LinkState{LinkConnected, LinkReading, LinkDisconnecting} {
		arena.transition(link, st)
		if link.State != st {
			t.Errorf("transition to %s not applied", st)
		}
	}
}
