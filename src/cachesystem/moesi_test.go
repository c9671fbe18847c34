package cachesystem

import (
	"testing"

	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/misc"
)

// Two L1 caches above a shared L2 above main memory.
func buildTwoLevelHierarchy(t *testing.T, l1_sets int, l1_assoc int) (*esim.Engine, *System, *Mod, *Mod, *Mod, *Mod) {
	t.Helper()

	engine := new(esim.Engine)
	engine.Init()

	debug := new(misc.Debug)
	debug.Init(false)

	system := new(System)
	system.Init(engine, debug, 1)

	l1_0 := system.NewMod("l1-0", ModKindCache, l1_sets, l1_assoc, 64, 2)
	l1_1 := system.NewMod("l1-1", ModKindCache, l1_sets, l1_assoc, 64, 2)
	l2 := system.NewMod("l2", ModKindCache, 64, 4, 64, 10)
	mm := system.NewMod("mem", ModKindMainMemory, 128, 8, 64, 100)

	net_high := system.NewNet("net-l1-l2", 8, 4)
	net_low := system.NewNet("net-l2-mem", 8, 4)
	system.ConnectNet(net_high, l2, []*Mod{l1_0, l1_1})
	system.ConnectNet(net_low, mm, []*Mod{l2})
	system.Finalize()

	return engine, system, l1_0, l1_1, l2, mm
}

func runAccess(t *testing.T, engine *esim.Engine, start func(func(*ModStack))) *ModStack {
	t.Helper()

	var result *ModStack
	start(func(stack *ModStack) { result = stack })
	engine.RunUntilIdle()
	if result == nil {
		t.Fatalf("access did not complete")
	}
	return result
}

// Store on CPU0 then load on CPU1: M migrates to shared state and the L2
// directory tracks both sharers.
func TestStoreThenRemoteLoad(t *testing.T) {
	engine, system, l1_0, l1_1, l2, _ := buildTwoLevelHierarchy(t, 16, 2)

	addr := uint32(0x1000)

	runAccess(t, engine, func(done func(*ModStack)) {
		system.Store(l1_0, addr, done)
	})

	_, _, state, hit := l1_0.FindBlock(addr)
	if !hit || state != BlockModified {
		t.Fatalf("after store: l1-0 state=%v hit=%v, want M", state, hit)
	}

	// L2 directory: node 1 (l1-0) is sole sharer and owner.
	set, way, _, l2_hit := l2.FindBlock(addr)
	if !l2_hit {
		t.Fatalf("block not resident in l2")
	}
	entry := l2.Dir().Entry(set, way, 0)
	if entry.Owner() != 1 || !entry.IsSharer(1) || entry.NumSharers() != 1 {
		t.Fatalf("l2 directory after store: owner=%d sharers=%d", entry.Owner(), entry.NumSharers())
	}

	stack := runAccess(t, engine, func(done func(*ModStack)) {
		system.Load(l1_1, addr, done)
	})
	if stack.Err() {
		t.Fatalf("load completed with error")
	}

	// Dirty data was flushed on the down-up read, so CPU0 drops to shared.
	_, _, state0, _ := l1_0.FindBlock(addr)
	_, _, state1, hit1 := l1_1.FindBlock(addr)
	if state0 != BlockShared && state0 != BlockOwned {
		t.Fatalf("after remote load: l1-0 state=%v, want S or O", state0)
	}
	if !hit1 || state1 != BlockShared {
		t.Fatalf("after remote load: l1-1 state=%v, want S", state1)
	}

	if !entry.IsSharer(1) || !entry.IsSharer(2) {
		t.Fatalf("l2 directory should track both sharers")
	}
}

// Load on a single CPU with nobody else sharing installs E.
func TestExclusiveLoad(t *testing.T) {
	engine, system, l1_0, _, _, _ := buildTwoLevelHierarchy(t, 16, 2)

	stack := runAccess(t, engine, func(done func(*ModStack)) {
		system.Load(l1_0, 0x2000, done)
	})
	if stack.Shared() {
		t.Fatalf("sole reader got a shared reply")
	}

	_, _, state, hit := l1_0.FindBlock(0x2000)
	if !hit || state != BlockExclusive {
		t.Fatalf("state=%v hit=%v, want E", state, hit)
	}
}

// Conflict-miss eviction: a dirty victim must write back and end invalid,
// with its data owned below.
func TestEvictionWritesBackDirtyVictim(t *testing.T) {
	// L1: 2 sets x 1 way, 64-byte blocks. 0x0000 and 0x0080 collide in set
	// 0; 0x0040 lands in set 1.
	engine, system, l1_0, _, l2, _ := buildTwoLevelHierarchy(t, 2, 1)

	a0 := uint32(0x0000)
	a1 := uint32(0x0040)
	a2 := uint32(0x0080)

	for _, addr := range []uint32{a0, a1} {
		runAccess(t, engine, func(done func(*ModStack)) {
			system.Store(l1_0, addr, done)
		})
	}

	evictions_before := l1_0.Stats().Evictions

	runAccess(t, engine, func(done func(*ModStack)) {
		system.Store(l1_0, a2, done)
	})

	if l1_0.Stats().Evictions != evictions_before+1 {
		t.Fatalf("expected one eviction, got %d", l1_0.Stats().Evictions-evictions_before)
	}

	// The victim is gone from L1, and L2 holds it modified.
	if _, _, _, hit := l1_0.FindBlock(a0); hit {
		t.Fatalf("evicted line still resident in l1")
	}
	_, _, state2, hit2 := l1_0.FindBlock(a2)
	if !hit2 || state2 != BlockModified {
		t.Fatalf("new line state=%v, want M", state2)
	}
	_, _, state1, hit1 := l1_0.FindBlock(a1)
	if !hit1 || state1 != BlockModified {
		t.Fatalf("set-1 line state=%v, want M", state1)
	}

	set, way, l2_state, l2_hit := l2.FindBlock(a0)
	if !l2_hit || l2_state != BlockModified {
		t.Fatalf("l2 copy of victim state=%v hit=%v, want M", l2_state, l2_hit)
	}

	// The evictor no longer shares or owns the line at the lower level.
	entry := l2.Dir().Entry(set, way, 0)
	if entry.IsSharer(1) || entry.Owner() == 1 {
		t.Fatalf("evictor still recorded at the l2 directory")
	}
}

// Two same-tick stores to one block: the second hits the held directory
// lock, errors, and retries until the first completes.
func TestLockContentionRetries(t *testing.T) {
	engine, system, l1_0, _, _, _ := buildTwoLevelHierarchy(t, 16, 2)

	addr := uint32(0x3000)
	completed := 0
	done := func(stack *ModStack) { completed++ }

	system.Store(l1_0, addr, done)
	system.Store(l1_0, addr, done)
	engine.RunUntilIdle()

	if completed != 2 {
		t.Fatalf("expected both stores to complete, got %d", completed)
	}
	if l1_0.Stats().WriteRetries == 0 {
		t.Fatalf("expected at least one write retry")
	}
	_, _, state, hit := l1_0.FindBlock(addr)
	if !hit || state != BlockModified {
		t.Fatalf("final state=%v hit=%v, want M", state, hit)
	}
	if l1_0.InFlightAccesses(addr) != 0 {
		t.Fatalf("access list not drained")
	}
}

// Directory invariants after a mixed workload: every valid L1 line is a
// sharer at L2, and M/E lines are owned there by their L1.
func TestDirectoryInvariants(t *testing.T) {
	engine, system, l1_0, l1_1, l2, _ := buildTwoLevelHierarchy(t, 4, 2)

	addrs := []uint32{0x0000, 0x0100, 0x0200, 0x1000, 0x1100}
	for i, addr := range addrs {
		l1 := l1_0
		if i%2 == 1 {
			l1 = l1_1
		}
		if i%3 == 0 {
			system.Store(l1, addr, nil)
		} else {
			system.Load(l1, addr, nil)
		}
	}
	engine.RunUntilIdle()

	for node, l1 := range []*Mod{l1_0, l1_1} {
		cache := l1.Cache()
		for set := 0; set < cache.NumSets(); set++ {
			for way := 0; way < cache.Assoc(); way++ {
				tag, state := cache.GetBlock(set, way)
				if state == BlockInvalid {
					continue
				}
				l2_set, l2_way, _, hit := l2.FindBlock(tag)
				if !hit {
					t.Fatalf("l1 line 0x%x not present in l2", tag)
				}
				entry := l2.Dir().Entry(l2_set, l2_way, 0)
				if !entry.IsSharer(node + 1) {
					t.Fatalf("l1 line 0x%x (state %v) not a sharer at l2", tag, state)
				}
				if (state == BlockModified || state == BlockExclusive) &&
					entry.Owner() != node+1 {
					t.Fatalf("l1 line 0x%x in %v but l2 owner is %d", tag, state, entry.Owner())
				}
			}
		}
	}
}
