package loadbalance

import (
	"testing"

	"sqlgate/registry"
)

func instances(addrs ...string) []registry.ServiceInstance {
	out := make([]registry.ServiceInstance, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, registry.ServiceInstance{Addr: a})
	}
	return out
}

func TestRoundRobinCycles(t *testing.T) {
	b := &RoundRobinBalancer{}
	insts := instances("a:1", "b:1", "c:1")

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		inst, err := b.Pick(insts)
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr]++
	}

	for _, addr := range []string{"a:1", "b:1", "c:1"} {
		if seen[addr] != 3 {
			t.Errorf("instance %s picked %d times, want 3", addr, seen[addr])
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error for empty instance list")
	}
}

func TestWeightedRandomRespectsWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	insts := []registry.ServiceInstance{
		{Addr: "heavy:1", Weight: 9},
		{Addr: "light:1", Weight: 1},
	}

	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		inst, err := b.Pick(insts)
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr]++
	}

	if seen["heavy:1"] <= seen["light:1"] {
		t.Errorf("weights ignored: heavy=%d light=%d", seen["heavy:1"], seen["light:1"])
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	insts := instances("a:1", "b:1")

	// No weights configured — must still pick something, not panic.
	for i := 0; i < 10; i++ {
		if _, err := b.Pick(insts); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWeightedRandomEmpty(t *testing.T) {
	b := &WeightedRandomBalancer{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error for empty instance list")
	}
}
