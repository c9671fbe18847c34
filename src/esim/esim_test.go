package esim

import "testing"

func TestEqualTimeEventsDispatchFifo(t *testing.T) {
	engine := new(Engine)
	engine.Init()

	order := make([]int, 0)
	ev := engine.RegisterEvent("test", func(event int, data interface{}) {
		order = append(order, data.(int))
	})

	engine.Schedule(ev, 0, 5)
	engine.Schedule(ev, 1, 5)
	engine.Schedule(ev, 2, 5)
	engine.Schedule(ev, 3, 2)

	engine.RunUntilIdle()

	if len(order) != 4 {
		t.Fatalf("expected 4 dispatches, got %d", len(order))
	}
	if order[0] != 3 {
		t.Fatalf("expected the t=2 event first, got %d", order[0])
	}
	for i, want := range []int{0, 1, 2} {
		if order[i+1] != want {
			t.Fatalf("equal-time events out of order: got %v", order)
		}
	}
}

func TestClockAdvancesMonotonically(t *testing.T) {
	engine := new(Engine)
	engine.Init()

	times := make([]uint64, 0)
	var ev int
	ev = engine.RegisterEvent("test", func(event int, data interface{}) {
		times = append(times, engine.Now())
		remaining := data.(int)
		if remaining > 0 {
			engine.Schedule(ev, remaining-1, 3)
		}
	})

	engine.Schedule(ev, 4, 1)
	engine.RunUntilIdle()

	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			t.Fatalf("clock went backwards: %v", times)
		}
	}
	if engine.Pending() != 0 {
		t.Fatalf("events left after RunUntilIdle: %d", engine.Pending())
	}
}

func TestZeroDelayEventsRunWithinSameTick(t *testing.T) {
	engine := new(Engine)
	engine.Init()

	fired_at := uint64(0xffffffff)
	var chain int
	chain = engine.RegisterEvent("chain", func(event int, data interface{}) {
		depth := data.(int)
		if depth > 0 {
			engine.Schedule(chain, depth-1, 0)
			return
		}
		fired_at = engine.Now()
	})

	engine.Schedule(chain, 3, 7)
	engine.RunUntilIdle()

	if fired_at != 7 {
		t.Fatalf("zero-delay chain should complete at t=7, completed at %d", fired_at)
	}
}

func TestTickHandlersRunEachProcessedTick(t *testing.T) {
	engine := new(Engine)
	engine.Init()

	ticks := 0
	engine.AddTickHandler(func() { ticks++ })

	for i := 0; i < 5; i++ {
		engine.ProcessEvents()
	}

	if ticks != 5 {
		t.Fatalf("expected 5 tick-handler runs, got %d", ticks)
	}
	if engine.Now() != 5 {
		t.Fatalf("expected now=5, got %d", engine.Now())
	}
}
