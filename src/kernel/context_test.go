package kernel

import "testing"

func primaryStates(context *Context) int {
	count := 0
	for _, state := range []uint32{StateRunning, StateSuspended, StateZombie, StateFinished} {
		if context.GetState(state) {
			count++
		}
	}
	return count
}

// Every transition leaves exactly one primary lifecycle bit set, and a
// suspended context carries exactly one wakeup cause.
func TestExactlyOnePrimaryState(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	if primaryStates(context) != 1 || !context.GetState(StateRunning) {
		t.Fatalf("fresh context: state 0x%x", context.state)
	}

	context.Suspend(StateFutex)
	if primaryStates(context) != 1 || !context.GetState(StateSuspended) {
		t.Fatalf("suspended context: state 0x%x", context.state)
	}
	causes := 0
	for _, cause := range []uint32{StateRead, StateWrite, StateNanosleep, StateWaitpid, StateFutex} {
		if context.GetState(cause) {
			causes++
		}
	}
	if causes != 1 {
		t.Fatalf("suspended context carries %d wakeup causes", causes)
	}

	context.ClearState(StateSuspended | StateFutex)
	if primaryStates(context) != 1 || !context.GetState(StateRunning) {
		t.Fatalf("resumed context: state 0x%x", context.state)
	}

	context.parent = newTestContext(emu)
	context.exit_signal = 17
	context.Finish(0)
	if primaryStates(context) != 1 || !context.GetState(StateZombie) {
		t.Fatalf("exited context: state 0x%x", context.state)
	}

	context.SetState(StateFinished)
	if primaryStates(context) != 1 || !context.GetState(StateFinished) {
		t.Fatalf("finished context: state 0x%x", context.state)
	}
}

// List membership tracks the primary state bit.
func TestContextListsFollowState(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	inList := func(list []*Context) bool {
		for _, c := range list {
			if c == context {
				return true
			}
		}
		return false
	}

	if !inList(emu.running) {
		t.Fatalf("running context not in the running list")
	}

	context.Suspend(StateNanosleep)
	if inList(emu.running) || !inList(emu.suspended) {
		t.Fatalf("suspended context in the wrong list")
	}

	context.ClearState(StateSuspended | StateNanosleep)
	if !inList(emu.running) || inList(emu.suspended) {
		t.Fatalf("resumed context in the wrong list")
	}
}
