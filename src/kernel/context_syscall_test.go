package kernel

import (
	"os"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestBrkGrowShrink(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)
	context.memory.SetHeapBreak(0x08050000)

	// brk(0) reports the current break.
	testSyscallArgs(context, 0)
	if ret := context.sysBrk(); ret != 0x08050000 {
		t.Fatalf("brk(0): got 0x%x", ret)
	}

	// Grow by 3 pages; the new range is writable.
	testSyscallArgs(context, 0x08050000+0x3000)
	if ret := context.sysBrk(); ret != 0x08053000 {
		t.Fatalf("brk(grow): got 0x%x", ret)
	}
	if err := context.memory.Write(0x08052fff, 1, []byte{0xaa}); err != nil {
		t.Fatalf("write into grown heap failed: %v", err)
	}
	buf := make([]byte, 1)
	context.memory.Read(0x08052fff, 1, buf)
	if buf[0] != 0xaa {
		t.Fatalf("heap byte lost: 0x%x", buf[0])
	}

	// Shrink back.
	testSyscallArgs(context, 0x08050000)
	if ret := context.sysBrk(); ret != 0x08050000 {
		t.Fatalf("brk(shrink): got 0x%x", ret)
	}
	if err := context.memory.Write(0x08052fff, 1, []byte{0xaa}); err == nil {
		t.Fatalf("released heap page still writable")
	}

	testSyscallArgs(context, 0)
	if ret := context.sysBrk(); ret != 0x08050000 {
		t.Fatalf("brk(0) after shrink: got 0x%x", ret)
	}
}

func TestMmapMunmapReusesRange(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	flags := uint32(mapPrivate | mapAnonymous)
	prot := uint32(protRead | protWrite)

	testSyscallArgs(context, 0, 0x4000, prot, flags, 0xffffffff, 0)
	first := uint32(context.sysMmap2())
	if first == 0 || first == 0xffffffff {
		t.Fatalf("mmap failed: 0x%x", first)
	}
	if err := context.memory.WriteWord(first, 0x1234); err != nil {
		t.Fatalf("mapped range not writable: %v", err)
	}

	testSyscallArgs(context, first, 0x4000)
	if ret := context.sysMunmap(); ret != 0 {
		t.Fatalf("munmap: got %d", ret)
	}

	testSyscallArgs(context, 0, 0x4000, prot, flags, 0xffffffff, 0)
	second := uint32(context.sysMmap2())
	if second != first {
		t.Fatalf("unmapped range not reused: first=0x%x second=0x%x", first, second)
	}
}

func TestMmapFixedReplacesMapping(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	addr := uint32(0x40000000)
	flags := uint32(mapPrivate | mapAnonymous | mapFixed)
	testSyscallArgs(context, addr, 0x2000, protRead|protWrite, flags, 0xffffffff, 0)
	if ret := context.sysMmap2(); uint32(ret) != addr {
		t.Fatalf("fixed mmap: got 0x%x", ret)
	}
}

func TestCloneVmSharesMemory(t *testing.T) {
	emu := newTestEmu()
	parent := newTestContext(emu)

	flags := uint32(CloneVm | CloneFs | CloneFiles | CloneSighand)
	testSyscallArgs(parent, flags, 0x12000)
	child_pid := parent.sysClone()
	if child_pid <= 0 {
		t.Fatalf("clone failed: %d", child_pid)
	}

	var child *Context
	for _, context := range emu.Contexts() {
		if context.Pid() == int(child_pid) {
			child = context
		}
	}
	if child == nil {
		t.Fatalf("child context not found")
	}

	if !child.GetState(StateRunning) {
		t.Fatalf("child not running")
	}
	if child.Regs().(*testRegs).ret != 0 {
		t.Fatalf("child return register: got %d, want 0", child.Regs().(*testRegs).ret)
	}
	if child.Regs().Sp() != 0x12000 {
		t.Fatalf("child stack pointer: got 0x%x", child.Regs().Sp())
	}

	// A write through the child is observed by the parent.
	child.memory.WriteWord(0x10100, 0xfeedface)
	value, _ := parent.memory.ReadWord(0x10100)
	if value != 0xfeedface {
		t.Fatalf("memory not shared: 0x%x", value)
	}

	if child.file_table != parent.file_table {
		t.Fatalf("file table not shared")
	}
	if child.signal_handler_table != parent.signal_handler_table {
		t.Fatalf("signal handler table not shared")
	}
}

func TestCloneVmRequiresSharedTables(t *testing.T) {
	emu := newTestEmu()
	parent := newTestContext(emu)

	defer func() {
		if recover() == nil {
			t.Fatalf("CLONE_VM without CLONE_FS|FILES|SIGHAND must be fatal")
		}
	}()

	testSyscallArgs(parent, CloneVm, 0x12000)
	parent.sysClone()
}

func TestCloneThreadJoinsGroup(t *testing.T) {
	emu := newTestEmu()
	parent := newTestContext(emu)

	flags := uint32(CloneVm | CloneFs | CloneFiles | CloneSighand | CloneThread | 17)
	testSyscallArgs(parent, flags, 0x12000)
	child_pid := parent.sysClone()

	var child *Context
	for _, context := range emu.Contexts() {
		if context.Pid() == int(child_pid) {
			child = context
		}
	}
	if child.exit_signal != 0 {
		t.Fatalf("CLONE_THREAD must clear the exit signal, got %d", child.exit_signal)
	}
	if child.group_parent != parent {
		t.Fatalf("child group parent not the caller")
	}
}

func TestCloneSetTidPointers(t *testing.T) {
	emu := newTestEmu()
	parent := newTestContext(emu)

	parent_tid_ptr := uint32(0x10200)
	child_tid_ptr := uint32(0x10204)
	flags := uint32(CloneVm | CloneFs | CloneFiles | CloneSighand |
		CloneParentSettid | CloneChildSettid | CloneChildCleartid)
	testSyscallArgs(parent, flags, 0x12000, parent_tid_ptr, child_tid_ptr)
	child_pid := parent.sysClone()

	value, _ := parent.memory.ReadWord(parent_tid_ptr)
	if value != uint32(child_pid) {
		t.Fatalf("CLONE_PARENT_SETTID: got %d, want %d", value, child_pid)
	}
	value, _ = parent.memory.ReadWord(child_tid_ptr)
	if value != uint32(child_pid) {
		t.Fatalf("CLONE_CHILD_SETTID: got %d, want %d", value, child_pid)
	}

	var child *Context
	for _, context := range emu.Contexts() {
		if context.Pid() == int(child_pid) {
			child = context
		}
	}
	if child.clear_child_tid != child_tid_ptr {
		t.Fatalf("CLONE_CHILD_CLEARTID pointer not recorded")
	}
}

func TestFutexWaitRequiresMatchingWord(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	futex_addr := uint32(0x10300)
	context.memory.WriteWord(futex_addr, 7)

	// Word changed before the call: EAGAIN, no suspension.
	testSyscallArgs(context, futex_addr, 0, 5)
	if ret := context.sysFutex(); ret != -ErrnoEAGAIN {
		t.Fatalf("futex wait on stale word: got %d, want -EAGAIN", ret)
	}
	if context.GetState(StateSuspended) {
		t.Fatalf("context suspended despite EAGAIN")
	}
}

func TestFutexWaitWake(t *testing.T) {
	emu := newTestEmu()
	waiter := newTestContext(emu)
	waker := newTestContext(emu)
	waker.memory = waiter.memory

	futex_addr := uint32(0x10300)
	waiter.memory.WriteWord(futex_addr, 7)

	testSyscallArgs(waiter, futex_addr, 0, 7)
	waiter.sysFutex()
	if !waiter.GetState(StateSuspended) || !waiter.GetState(StateFutex) {
		t.Fatalf("waiter not suspended on the futex")
	}

	testSyscallArgs(waker, futex_addr, 1, 1)
	if ret := waker.sysFutex(); ret != 1 {
		t.Fatalf("futex wake: got %d, want 1", ret)
	}

	if waiter.GetState(StateSuspended) {
		t.Fatalf("waiter still suspended after wake")
	}
	if regs := waiter.Regs().(*testRegs); !regs.ret_set || regs.ret != 0 {
		t.Fatalf("woken waiter return: got %d", regs.ret)
	}
}

func TestFutexWakeBitsetFilters(t *testing.T) {
	emu := newTestEmu()
	a := newTestContext(emu)
	b := newTestContext(emu)
	b.memory = a.memory
	waker := newTestContext(emu)
	waker.memory = a.memory

	futex_addr := uint32(0x10300)
	a.memory.WriteWord(futex_addr, 1)

	// FUTEX_WAIT_BITSET with disjoint masks.
	testSyscallArgs(a, futex_addr, 9, 1, 0, 0, 0x1)
	a.sysFutex()
	testSyscallArgs(b, futex_addr, 9, 1, 0, 0, 0x2)
	b.sysFutex()

	// Wake only the 0x2 waiter.
	testSyscallArgs(waker, futex_addr, 10, 2, 0, 0, 0x2)
	if ret := waker.sysFutex(); ret != 1 {
		t.Fatalf("bitset wake: got %d, want 1", ret)
	}
	if a.GetState(StateSuspended) == false {
		t.Fatalf("mask-0x1 waiter should still sleep")
	}
	if b.GetState(StateSuspended) {
		t.Fatalf("mask-0x2 waiter should be awake")
	}
}

func TestFutexCmpRequeue(t *testing.T) {
	emu := newTestEmu()
	a := newTestContext(emu)
	b := newTestContext(emu)
	b.memory = a.memory
	caller := newTestContext(emu)
	caller.memory = a.memory

	addr1 := uint32(0x10300)
	addr2 := uint32(0x10304)
	a.memory.WriteWord(addr1, 3)

	testSyscallArgs(a, addr1, 0, 3)
	a.sysFutex()
	testSyscallArgs(b, addr1, 0, 3)
	b.sysFutex()

	// Wake one, requeue the rest onto addr2.
	testSyscallArgs(caller, addr1, 4, 1, 0x7fffffff, addr2, 3)
	if ret := caller.sysFutex(); ret != 1 {
		t.Fatalf("cmp_requeue: got %d, want 1 woken", ret)
	}

	requeued := 0
	for _, context := range emu.SuspendedContexts() {
		if context.GetState(StateFutex) && context.wakeup_futex == addr2 {
			requeued++
		}
	}
	if requeued != 1 {
		t.Fatalf("expected 1 context requeued to addr2, got %d", requeued)
	}
}

func TestFutexWakeOp(t *testing.T) {
	emu := newTestEmu()
	a := newTestContext(emu)
	b := newTestContext(emu)
	b.memory = a.memory
	caller := newTestContext(emu)
	caller.memory = a.memory

	addr1 := uint32(0x10300)
	addr2 := uint32(0x10304)
	a.memory.WriteWord(addr1, 0)
	a.memory.WriteWord(addr2, 5)

	testSyscallArgs(a, addr1, 0, 0)
	a.sysFutex()
	testSyscallArgs(b, addr2, 0, 5)
	b.sysFutex()

	// op = ADD 1 to *addr2, cmp = (old == 5) -> also wake addr2 waiters.
	val3 := uint32(1<<28 | 0<<24 | 1<<12 | 5)
	testSyscallArgs(caller, addr1, 5, 1, 1, addr2, val3)
	if ret := caller.sysFutex(); ret != 2 {
		t.Fatalf("wake_op: got %d, want 2 woken", ret)
	}

	value, _ := caller.memory.ReadWord(addr2)
	if value != 6 {
		t.Fatalf("wake_op did not apply ADD: got %d, want 6", value)
	}
}

func TestFutexWaitWithTimeoutIsFatal(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)
	context.memory.WriteWord(0x10300, 0)

	defer func() {
		if recover() == nil {
			t.Fatalf("futex wait with timeout must fail explicitly")
		}
	}()

	testSyscallArgs(context, 0x10300, 0, 0, 0x10400)
	context.sysFutex()
}

func TestWaitpidReapsZombie(t *testing.T) {
	emu := newTestEmu()
	parent := newTestContext(emu)

	testSyscallArgs(parent, 17, 0x12000) // fork-style clone, SIGCHLD exit signal
	child_pid := parent.sysClone()

	var child *Context
	for _, context := range emu.Contexts() {
		if context.Pid() == int(child_pid) {
			child = context
		}
	}

	child.Finish(0x42)
	if !child.GetState(StateZombie) {
		t.Fatalf("exited child should be zombie")
	}

	status_ptr := uint32(0x10400)
	testSyscallArgs(parent, 0xffffffff, status_ptr, 0) // pid=-1
	if ret := parent.sysWaitpid(); ret != child_pid {
		t.Fatalf("waitpid: got %d, want %d", ret, child_pid)
	}

	status, _ := parent.memory.ReadWord(status_ptr)
	if status != 0x42 {
		t.Fatalf("status: got 0x%x, want 0x42", status)
	}
	if !child.GetState(StateFinished) {
		t.Fatalf("reaped child should be finished")
	}
}

func TestWaitpidSuspendsUntilChildExits(t *testing.T) {
	emu := newTestEmu()
	parent := newTestContext(emu)

	testSyscallArgs(parent, 17, 0x12000)
	child_pid := parent.sysClone()

	var child *Context
	for _, context := range emu.Contexts() {
		if context.Pid() == int(child_pid) {
			child = context
		}
	}

	testSyscallArgs(parent, uint32(child_pid), 0, 0)
	parent.sysWaitpid()
	if !parent.GetState(StateSuspended) || !parent.GetState(StateWaitpid) {
		t.Fatalf("parent should suspend waiting for the child")
	}

	child.Finish(7)
	emu.ProcessEvents()

	if parent.GetState(StateSuspended) {
		t.Fatalf("parent still suspended after child exit")
	}
	if regs := parent.Regs().(*testRegs); regs.ret != child_pid {
		t.Fatalf("waitpid wakeup return: got %d, want %d", regs.ret, child_pid)
	}
}

func TestBlockingReadWakeup(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	desc := context.file_table.NewFileDesc(FileDescPipe, fds[0], "", 0)

	buf_ptr := uint32(0x10500)
	testSyscallArgs(context, uint32(desc.GuestIndex()), buf_ptr, 8)
	context.sysRead()
	if !context.GetState(StateSuspended) || !context.GetState(StateRead) {
		t.Fatalf("read from empty pipe should suspend")
	}

	payload := []byte("abcdefgh")
	if _, err := unix.Write(fds[1], payload); err != nil {
		t.Fatalf("host write: %v", err)
	}

	emu.ProcessEvents()

	if context.GetState(StateSuspended) {
		t.Fatalf("context still suspended after pipe became readable")
	}
	if regs := context.Regs().(*testRegs); regs.ret != 8 {
		t.Fatalf("read return: got %d, want 8", regs.ret)
	}
	got := make([]byte, 8)
	context.memory.Read(buf_ptr, 8, got)
	if string(got) != "abcdefgh" {
		t.Fatalf("read data: got %q", got)
	}
}

func TestNanosleepSuspendsWithDeadline(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	rqtp := uint32(0x10600)
	context.memory.WriteWord(rqtp, 0)        // seconds
	context.memory.WriteWord(rqtp+4, 999999) // nanoseconds, truncates to 999 us

	before := emu.Engine().RealTime()
	testSyscallArgs(context, rqtp)
	context.sysNanosleep()

	if !context.GetState(StateNanosleep) {
		t.Fatalf("nanosleep should suspend")
	}

	// The deadline reflects round-down to whole microseconds: 999999 ns is
	// 999 us, never 1000.
	delta := context.wakeup_time - before
	if delta < 999 || delta > 999+100 {
		t.Fatalf("sleep interval: got %d us, want 999 (+measurement slack)", delta)
	}
}

func TestVirtualProcFiles(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	path_ptr := uint32(0x10700)
	context.memory.WriteString(path_ptr, "/proc/self/maps")

	testSyscallArgs(context, path_ptr, 0, 0)
	guest_fd := context.sysOpen()
	if guest_fd < 0 {
		t.Fatalf("open /proc/self/maps failed: %d", guest_fd)
	}

	desc := context.file_table.FileDesc(int(guest_fd))
	if desc == nil || desc.Kind() != FileDescVirtual {
		t.Fatalf("descriptor not virtual")
	}

	content, err := os.ReadFile(desc.Path())
	if err != nil {
		t.Fatalf("cannot read synthesized file: %v", err)
	}
	if !strings.Contains(string(content), "00010000-") {
		t.Fatalf("maps content missing the scratch mapping:\n%s", content)
	}

	temp_path := desc.Path()
	testSyscallArgs(context, uint32(guest_fd))
	if ret := context.sysClose(); ret != 0 {
		t.Fatalf("close: got %d", ret)
	}
	if _, stat_err := os.Stat(temp_path); !os.IsNotExist(stat_err) {
		t.Fatalf("temp file not deleted on close")
	}
}

func TestUnknownSyscallIsFatal(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	defer func() {
		if recover() == nil {
			t.Fatalf("unknown syscall must fail noisily")
		}
	}()

	context.regs.(*testRegs).code = 99999
	context.ExecuteSyscall()
}

func TestExecuteSyscallWritesReturnRegister(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	regs := context.regs.(*testRegs)
	regs.code = int(SyscallCodeGetpid)
	context.ExecuteSyscall()

	if !regs.ret_set || regs.ret != int32(context.Pid()) {
		t.Fatalf("getpid return: got %d, want %d", regs.ret, context.Pid())
	}
}

func TestSetTidAddress(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	testSyscallArgs(context, 0x10800)
	if ret := context.sysSetTidAddress(); ret != int32(context.Pid()) {
		t.Fatalf("set_tid_address: got %d", ret)
	}
	if context.clear_child_tid != 0x10800 {
		t.Fatalf("clear_child_tid not recorded")
	}
}

func TestExitClearsChildTidAndWakesFutex(t *testing.T) {
	emu := newTestEmu()
	exiting := newTestContext(emu)
	waiter := newTestContext(emu)
	waiter.memory = exiting.memory

	tid_ptr := uint32(0x10900)
	exiting.memory.WriteWord(tid_ptr, uint32(exiting.Pid()))
	exiting.clear_child_tid = tid_ptr

	testSyscallArgs(waiter, tid_ptr, 0, uint32(exiting.Pid()))
	waiter.sysFutex()
	if !waiter.GetState(StateFutex) {
		t.Fatalf("waiter not parked on the tid futex")
	}

	exiting.Finish(0)

	value, _ := waiter.memory.ReadWord(tid_ptr)
	if value != 0 {
		t.Fatalf("clear_child_tid word not zeroed: %d", value)
	}
	if waiter.GetState(StateSuspended) {
		t.Fatalf("tid futex waiter not woken at exit")
	}
}

func TestGetrlimitKnownResources(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	rlim_ptr := uint32(0x10a00)
	testSyscallArgs(context, rlimitStack, rlim_ptr)
	if ret := context.sysGetrlimit(); ret != 0 {
		t.Fatalf("getrlimit(stack): got %d", ret)
	}
	cur, _ := context.memory.ReadWord(rlim_ptr)
	if cur != LoaderStackSize {
		t.Fatalf("stack rlimit: got 0x%x, want 0x%x", cur, uint32(LoaderStackSize))
	}

	testSyscallArgs(context, rlimitNofile, rlim_ptr)
	context.sysGetrlimit()
	cur, _ = context.memory.ReadWord(rlim_ptr)
	if cur != 0x400 {
		t.Fatalf("nofile rlimit: got 0x%x", cur)
	}
}

func TestMemWriteGoesToMirrorInSpecMode(t *testing.T) {
	emu := newTestEmu()
	context := newTestContext(emu)

	context.memory.WriteWord(0x10b00, 0x1111)

	context.EnterSpecMode()
	context.MemWrite(0x10b00, 4, []byte{0x44, 0x33, 0x22, 0x11})

	// The real image is untouched.
	value, _ := context.memory.ReadWord(0x10b00)
	if value != 0x1111 {
		t.Fatalf("speculative write reached the real image: 0x%x", value)
	}

	buf := make([]byte, 4)
	context.MemRead(0x10b00, 4, buf)
	if buf[0] != 0x44 {
		t.Fatalf("speculative read missed the mirrored write")
	}

	context.RecoverFromSpecMode()
	if context.SpecMem().PageCount() != 0 {
		t.Fatalf("recovery left speculative pages")
	}
}
