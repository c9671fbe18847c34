package kernel

import (
	"fmt"

	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// Context state bitmap. Exactly one of Running/Suspended/Zombie/Finished is
// set at any time; a suspended context additionally carries exactly one
// wakeup-cause bit.
const (
	StateRunning   = 0x00001
	StateSpecMode  = 0x00002
	StateSuspended = 0x00004
	StateFinished  = 0x00008
	StateZombie    = 0x00010
	StateHandler   = 0x00040
	StateNanosleep = 0x00100
	StateRead      = 0x00400
	StateWrite     = 0x00800
	StateWaitpid   = 0x01000
	StateFutex     = 0x04000
	StateCallback  = 0x10000
)

const wakeupCauseMask = StateNanosleep | StateRead | StateWrite |
	StateWaitpid | StateFutex

// Context is one guest thread: its own register file and signal masks, and
// possibly shared memory image, descriptor table, signal handlers and loader
// metadata.
type Context struct {
	emu *Emu

	pid   int
	state uint32

	memory   *mem.Memory
	spec_mem *mem.SpecMem

	regs Regs

	// Snapshot taken when entering speculative mode.
	spec_snapshot []byte

	file_table           *FileTable
	signal_handler_table *SignalHandlerTable
	signal_mask_table    SignalMaskTable
	loader               *Loader

	last_ip    uint32
	current_ip uint32
	target_ip  uint32

	effective_address uint32

	parent       *Context
	group_parent *Context
	exit_signal  int
	exit_code    int

	clear_child_tid  uint32
	robust_list_head uint32

	// Wakeup metadata, valid while the matching cause bit is set.
	wakeup_fd           int
	wakeup_events       int
	wakeup_buf_ptr      uint32
	wakeup_count        uint32
	wakeup_time         int64
	wakeup_futex        uint32
	wakeup_futex_bitset uint32
	wakeup_futex_sleep  uint64
	wakeup_pid          int

	// Signal frame location while a handler runs.
	signal_frame_addr uint32

	glibc_segment_base  uint32
	glibc_segment_limit uint32
}

func (this *Context) Pid() int {
	return this.pid
}

func (this *Context) Memory() *mem.Memory {
	return this.memory
}

func (this *Context) SpecMem() *mem.SpecMem {
	return this.spec_mem
}

func (this *Context) Regs() Regs {
	return this.regs
}

func (this *Context) FileTable() *FileTable {
	return this.file_table
}

func (this *Context) SignalHandlerTable() *SignalHandlerTable {
	return this.signal_handler_table
}

func (this *Context) SignalMaskTable() *SignalMaskTable {
	return &this.signal_mask_table
}

func (this *Context) Loader() *Loader {
	return this.loader
}

func (this *Context) ExitCode() int {
	return this.exit_code
}

func (this *Context) GlibcSegmentBase() uint32 {
	return this.glibc_segment_base
}

func (this *Context) GetState(state uint32) bool {
	return this.state&state != 0
}

func (this *Context) SetState(state uint32) {
	this.updateState(this.state | state)
}

func (this *Context) ClearState(state uint32) {
	this.updateState(this.state &^ state)
}

// updateState reconciles the state bitmap and the emulator lists: the
// highest-priority lifecycle bit picks the primary list, the rest are
// cleared so the one-primary-list invariant holds at every transition.
func (this *Context) updateState(state uint32) {
	if state&StateFinished != 0 {
		state &^= StateRunning | StateSuspended | StateZombie | wakeupCauseMask
	} else if state&StateZombie != 0 {
		state &^= StateRunning | StateSuspended | wakeupCauseMask
	} else if state&StateSuspended != 0 {
		state &^= StateRunning
	} else {
		state |= StateRunning
	}

	this.state = state
	this.emu.refreshLists(this)
}

// Execute runs one guest instruction.
func (this *Context) Execute() {
	this.last_ip = this.current_ip
	this.current_ip = this.regs.Pc()
	this.emu.arch.Execute(this)
	this.emu.instructions++
}

func (this *Context) SetTargetIp(target uint32) {
	this.target_ip = target
}

func (this *Context) TargetIp() uint32 {
	return this.target_ip
}

func (this *Context) EffectiveAddress() uint32 {
	return this.effective_address
}

// MemRead performs a data read for the executor, routing through the
// speculative mirror in spec mode and notifying the timing model.
func (this *Context) MemRead(addr uint32, size uint32, buf []byte) error {
	this.effective_address = addr
	this.emu.notifyMemAccess(this, addr, false)

	if this.GetState(StateSpecMode) {
		return this.spec_mem.Read(addr, size, buf)
	}
	return this.memory.Read(addr, size, buf)
}

// MemWrite performs a data write; in spec mode the write is buffered in the
// mirror and never reaches the real image.
func (this *Context) MemWrite(addr uint32, size uint32, buf []byte) error {
	this.effective_address = addr
	this.emu.notifyMemAccess(this, addr, true)

	if this.GetState(StateSpecMode) {
		return this.spec_mem.Write(addr, size, buf)
	}
	return this.memory.Write(addr, size, buf)
}

// EnterSpecMode snapshots architected state and begins buffering writes.
func (this *Context) EnterSpecMode() {
	if this.GetState(StateSpecMode) {
		return
	}
	this.spec_snapshot = this.regs.Snapshot()
	this.SetState(StateSpecMode)
}

// RecoverFromSpecMode discards the mirror and restores the snapshot.
func (this *Context) RecoverFromSpecMode() {
	if !this.GetState(StateSpecMode) {
		return
	}
	this.spec_mem.Clear()
	this.regs.Restore(this.spec_snapshot)
	this.spec_snapshot = nil
	this.ClearState(StateSpecMode)
}

// Suspend records a wakeup cause and parks the context; the per-tick poller
// owns it from here.
func (this *Context) Suspend(cause uint32) {
	if cause&wakeupCauseMask != cause || cause == 0 {
		panic(fmt.Errorf("context %d: bad suspend cause 0x%x", this.pid, cause))
	}
	this.SetState(StateSuspended | cause)
	this.emu.RequestProcessEvents()
}

// FatalFault posts sig to the context when the guest installed a handler
// for it, and otherwise terminates the context group with a diagnostic.
func (this *Context) FatalFault(sig int, format string, args ...interface{}) {
	handler := this.signal_handler_table.Handler(sig)
	if handler.handler != 0 {
		this.signal_mask_table.pending.Add(sig)
		this.emu.RequestProcessEvents()
		return
	}

	this.emu.debug_isa.Printf("context %d: %s (%s)\n",
		this.pid, fmt.Sprintf(format, args...), signal_map.MapValue(sig))
	this.FinishGroup(128 + sig)
}

// Finish moves the context to zombie until the group parent reaps it; a
// context with no parent has nobody to report to and finishes directly.
func (this *Context) Finish(status int) {
	if this.clear_child_tid != 0 {
		this.memory.WriteWord(this.clear_child_tid, 0)
		this.emu.FutexWake(this, this.clear_child_tid, 1, 0xffffffff)
		this.clear_child_tid = 0
	}

	this.exit_code = status

	// Threads (exit_signal 0 inside a group) have nothing to report and
	// finish directly; other children linger as zombies until reaped, and
	// their exit signal is posted to the parent.
	if this.parent == nil || (this.exit_signal == 0 && this.group_parent != nil) {
		this.SetState(StateFinished)
	} else {
		if this.exit_signal != 0 {
			this.parent.signal_mask_table.pending.Add(this.exit_signal)
		}
		this.SetState(StateZombie)
	}
	this.emu.RequestProcessEvents()
}

// FinishGroup terminates every context of this context's thread group.
func (this *Context) FinishGroup(status int) {
	leader := this.group_parent
	if leader == nil {
		leader = this
	}

	for _, context := range this.emu.contexts {
		if context == this {
			continue
		}
		context_leader := context.group_parent
		if context_leader == nil {
			context_leader = context
		}
		if context_leader != leader {
			continue
		}
		context.exit_code = status
		context.SetState(StateFinished)
	}

	this.Finish(status)
}

// getZombie finds a zombie child matching pid (-1 for any).
func (this *Context) getZombie(pid int) *Context {
	for _, context := range this.emu.zombie {
		if context.parent != this {
			continue
		}
		if pid == -1 || context.pid == pid {
			return context
		}
	}
	return nil
}

// canWakeup evaluates the wakeup predicate of a suspended context.
func (this *Context) canWakeup() bool {
	switch {

	case this.GetState(StateNanosleep):
		return this.emu.engine.RealTime() >= this.wakeup_time

	case this.GetState(StateRead):
		desc := this.file_table.FileDesc(this.wakeup_fd)
		if desc == nil {
			return true
		}
		if desc.flags&openNonblock != 0 {
			return true
		}
		return hostPollIn(desc.host_fd)

	case this.GetState(StateWrite):
		desc := this.file_table.FileDesc(this.wakeup_fd)
		if desc == nil {
			return true
		}
		return hostPollOut(desc.host_fd)

	case this.GetState(StateWaitpid):
		return this.getZombie(this.wakeup_pid) != nil

	case this.GetState(StateFutex):
		// Futex waiters are woken directly by FutexWake.
		return false
	}

	return false
}

// wakeup resumes a suspended context, completing the deferred half of its
// blocking system call and writing the final return value.
func (this *Context) wakeup() {
	switch {

	case this.GetState(StateNanosleep):
		this.regs.SetSyscallRet(0)
		this.ClearState(StateSuspended | StateNanosleep)

	case this.GetState(StateRead):
		this.regs.SetSyscallRet(this.completeRead())
		this.ClearState(StateSuspended | StateRead)

	case this.GetState(StateWrite):
		this.regs.SetSyscallRet(this.completeWrite())
		this.ClearState(StateSuspended | StateWrite)

	case this.GetState(StateWaitpid):
		child := this.getZombie(this.wakeup_pid)
		if child == nil {
			panic(fmt.Errorf("context %d: waitpid wakeup without zombie child", this.pid))
		}
		if this.wakeup_buf_ptr != 0 {
			this.memory.WriteWord(this.wakeup_buf_ptr, uint32(child.exit_code))
		}
		child.SetState(StateFinished)
		this.regs.SetSyscallRet(int32(child.pid))
		this.ClearState(StateSuspended | StateWaitpid)

	default:
		panic(fmt.Errorf("context %d: wakeup without cause", this.pid))
	}
}

// interruptible reports whether a pending signal may abort the current
// suspension with -EINTR.
func (this *Context) interruptible() bool {
	return this.GetState(StateNanosleep | StateRead | StateWrite | StateWaitpid)
}

// CheckSignalHandler delivers the lowest pending unblocked signal, if any.
// A suspended interruptible context is woken with -EINTR first.
func (this *Context) CheckSignalHandler() {
	deliverable := this.signal_mask_table.pending &^ this.signal_mask_table.blocked
	if !deliverable.Any() || this.GetState(StateHandler) {
		return
	}

	sig := 0
	for i := 1; i <= 64; i++ {
		if deliverable.IsMember(i) {
			sig = i
			break
		}
	}

	if this.GetState(StateSuspended) {
		if !this.interruptible() {
			return
		}
		this.regs.SetSyscallRet(-ErrnoEINTR)
		this.ClearState(StateSuspended | wakeupCauseMask)
	}

	this.signal_mask_table.pending.Remove(sig)

	handler := this.signal_handler_table.Handler(sig)
	if handler.handler == 0 {
		switch sig {
		case SigChld, SigUrg, SigWinch, SigCont:
			return
		default:
			this.emu.debug_signal.Printf("context %d: unhandled signal %s, finishing group\n",
				this.pid, signal_map.MapValue(sig))
			this.FinishGroup(128 + sig)
			return
		}
	}

	this.RunSignalHandler(sig, handler)
}

// RunSignalHandler builds the synthetic call frame: the architected-state
// record and the old blocked mask go onto the guest stack, the return
// linkage points at the sigreturn trampoline, and the handler mask is OR-ed
// into the blocked set.
func (this *Context) RunSignalHandler(sig int, handler *SignalHandler) {
	this.emu.debug_signal.Printf("context %d: signal %s handler at 0x%x\n",
		this.pid, signal_map.MapValue(sig), handler.handler)

	snapshot := this.regs.Snapshot()

	frame := make([]byte, 0, len(snapshot)+8)
	frame = append(frame, snapshot...)
	blocked := uint64(this.signal_mask_table.blocked)
	for i := 0; i < 8; i++ {
		frame = append(frame, byte(blocked>>(8*uint(i))))
	}

	frame_addr := (this.regs.Sp() - uint32(len(frame))) &^ 7
	if err := this.memory.Write(frame_addr, uint32(len(frame)), frame); err != nil {
		panic(fmt.Errorf("context %d: cannot push signal frame: %v", this.pid, err))
	}

	this.signal_frame_addr = frame_addr
	this.signal_mask_table.blocked |= handler.mask
	this.signal_mask_table.blocked.Add(sig)

	this.regs.StartSignal(sig, handler.handler, this.loader.signal_trampoline,
		frame_addr, this.memory)
	this.SetState(StateHandler)
}

// ReturnFromSignalHandler implements sigreturn: restore the frame pushed by
// RunSignalHandler register-for-register, including the old blocked mask.
func (this *Context) ReturnFromSignalHandler() {
	if !this.GetState(StateHandler) {
		panic(fmt.Errorf("context %d: sigreturn outside signal handler", this.pid))
	}

	snapshot_size := len(this.regs.Snapshot())
	frame := make([]byte, snapshot_size+8)
	if err := this.memory.Read(this.signal_frame_addr, uint32(len(frame)), frame); err != nil {
		panic(fmt.Errorf("context %d: cannot read signal frame: %v", this.pid, err))
	}

	this.regs.Restore(frame[:snapshot_size])
	blocked := uint64(0)
	for i := 0; i < 8; i++ {
		blocked |= uint64(frame[snapshot_size+i]) << (8 * uint(i))
	}
	this.signal_mask_table.blocked = SignalSet(blocked)
	this.signal_frame_addr = 0
	this.ClearState(StateHandler)

	this.emu.debug_signal.Printf("context %d: return from signal handler\n", this.pid)
}

// Clone initializes this context as a CLONE_VM sibling of parent: memory,
// descriptor table, signal handlers and loader are shared.
func (this *Context) Clone(parent *Context) {
	this.memory = parent.memory
	this.spec_mem = new(mem.SpecMem)
	this.spec_mem.Init(this.memory)
	this.file_table = parent.file_table
	this.signal_handler_table = parent.signal_handler_table
	this.loader = parent.loader
	this.regs = parent.regs.Clone()
	this.signal_mask_table.blocked = parent.signal_mask_table.blocked
	this.parent = parent
}

// Fork initializes this context as a fork child: the memory image and
// descriptor table are copied, signal handlers are copied.
func (this *Context) Fork(parent *Context) {
	this.memory = parent.memory.Clone()
	this.spec_mem = new(mem.SpecMem)
	this.spec_mem.Init(this.memory)
	this.file_table = parent.file_table.Clone()
	this.signal_handler_table = parent.signal_handler_table.Clone()
	this.loader = parent.loader
	this.regs = parent.regs.Clone()
	this.signal_mask_table.blocked = parent.signal_mask_table.blocked
	this.parent = parent
}
