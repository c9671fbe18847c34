package kernel

import (
	"fmt"
	"sort"

	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/misc"
)

// MemAccessFunc lets a timing model observe every data reference the
// executors make. The functional image is always served from the memory
// package; the hook only drives the coherence engine.
type MemAccessFunc func(ctx *Context, addr uint32, write bool)

// Emu is the guest-process emulator: the context lists, the pid and futex
// counters, and the per-tick machinery that advances running contexts and
// polls suspended ones. All state is owned by the single simulation thread.
type Emu struct {
	engine *esim.Engine
	arch   Arch

	contexts  []*Context
	running   []*Context
	suspended []*Context
	zombie    []*Context
	finished  []*Context

	current_pid       int
	futex_sleep_count uint64

	instructions     uint64
	max_instructions uint64

	process_events_force bool

	// First loaded context; its exit status is the simulator's.
	root *Context

	mem_access MemAccessFunc

	debug_syscall *misc.Debug
	debug_loader  *misc.Debug
	debug_signal  *misc.Debug
	debug_isa     *misc.Debug
}

func (this *Emu) Init(engine *esim.Engine, arch Arch) {
	this.engine = engine
	this.arch = arch
	this.contexts = make([]*Context, 0)
	this.running = make([]*Context, 0)
	this.suspended = make([]*Context, 0)
	this.zombie = make([]*Context, 0)
	this.finished = make([]*Context, 0)
	this.current_pid = 100

	this.debug_syscall = new(misc.Debug)
	this.debug_syscall.Init(false)
	this.debug_loader = new(misc.Debug)
	this.debug_loader.Init(false)
	this.debug_signal = new(misc.Debug)
	this.debug_signal.Init(false)
	this.debug_isa = new(misc.Debug)
	this.debug_isa.Init(false)

	engine.AddTickHandler(this.ProcessEvents)
}

func (this *Emu) Engine() *esim.Engine {
	return this.engine
}

func (this *Emu) Arch() Arch {
	return this.arch
}

func (this *Emu) SyscallDebug() *misc.Debug {
	return this.debug_syscall
}

func (this *Emu) LoaderDebug() *misc.Debug {
	return this.debug_loader
}

func (this *Emu) SignalDebug() *misc.Debug {
	return this.debug_signal
}

func (this *Emu) IsaDebug() *misc.Debug {
	return this.debug_isa
}

func (this *Emu) Instructions() uint64 {
	return this.instructions
}

func (this *Emu) SetMaxInstructions(max_instructions uint64) {
	this.max_instructions = max_instructions
}

func (this *Emu) SetMemAccessFunc(mem_access MemAccessFunc) {
	this.mem_access = mem_access
}

func (this *Emu) notifyMemAccess(ctx *Context, addr uint32, write bool) {
	if this.mem_access != nil {
		this.mem_access(ctx, addr, write)
	}
}

// NewContext allocates a context with a fresh pid, present in no list until
// its state is first set.
func (this *Emu) NewContext() *Context {
	this.current_pid++

	context := new(Context)
	context.emu = this
	context.pid = this.current_pid
	this.contexts = append(this.contexts, context)

	return context
}

func (this *Emu) Contexts() []*Context {
	return this.contexts
}

func (this *Emu) RunningContexts() []*Context {
	return this.running
}

func (this *Emu) SuspendedContexts() []*Context {
	return this.suspended
}

func (this *Emu) IncFutexSleepCount() uint64 {
	this.futex_sleep_count++
	return this.futex_sleep_count
}

// RequestProcessEvents forces a suspended-context poll on the next tick
// even when no context is suspended right now.
func (this *Emu) RequestProcessEvents() {
	this.process_events_force = true
}

// refreshLists reconciles the four primary lists with a context's state
// bitmap. Transitions are atomic with respect to the per-tick poller since
// everything runs on the simulation thread.
func (this *Emu) refreshLists(context *Context) {
	this.running = removeContext(this.running, context)
	this.suspended = removeContext(this.suspended, context)
	this.zombie = removeContext(this.zombie, context)
	this.finished = removeContext(this.finished, context)

	switch {
	case context.GetState(StateFinished):
		this.finished = append(this.finished, context)
	case context.GetState(StateZombie):
		this.zombie = append(this.zombie, context)
	case context.GetState(StateSuspended):
		this.suspended = append(this.suspended, context)
	case context.GetState(StateRunning):
		this.running = append(this.running, context)
	}
}

func removeContext(list []*Context, context *Context) []*Context {
	for i, c := range list {
		if c == context {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Run advances the simulation by one tick: every running context executes
// one instruction, then the event engine dispatches the tick, which also
// polls suspended contexts through the registered tick handler.
func (this *Emu) Run() {
	running := make([]*Context, len(this.running))
	copy(running, this.running)
	for _, context := range running {
		if context.GetState(StateRunning) {
			context.Execute()
		}
		if this.max_instructions != 0 && this.instructions >= this.max_instructions {
			panic(fmt.Errorf("emu: maximum of %d instructions reached", this.max_instructions))
		}
	}

	this.engine.ProcessEvents()

	this.reapFinished()
}

func (this *Emu) IsFinished() bool {
	return len(this.running) == 0 && len(this.suspended) == 0
}

// ExitCode is the exit status of the root context once the run finished.
func (this *Emu) ExitCode() int {
	if this.root == nil {
		return 0
	}
	return this.root.exit_code
}

// ProcessEvents polls every suspended context's wakeup predicate and
// delivers pending signals. It runs once per tick as the engine's tick
// handler and returns early on a tick with no suspended context, unless a
// syscall has requested a poll.
func (this *Emu) ProcessEvents() {
	if !this.process_events_force && len(this.suspended) == 0 {
		return
	}
	this.process_events_force = false

	suspended := make([]*Context, len(this.suspended))
	copy(suspended, this.suspended)
	for _, context := range suspended {
		if !context.GetState(StateSuspended) {
			continue
		}
		if context.canWakeup() {
			context.wakeup()
		}
	}

	// Signal delivery pre-empts any other wakeup cause.
	all := make([]*Context, len(this.contexts))
	copy(all, this.contexts)
	for _, context := range all {
		if context.GetState(StateFinished | StateZombie) {
			continue
		}
		context.CheckSignalHandler()
	}
}

// reapFinished drops finished contexts from the main list, releasing their
// shared resources.
func (this *Emu) reapFinished() {
	if len(this.finished) == 0 {
		return
	}

	for _, context := range this.finished {
		this.contexts = removeContext(this.contexts, context)
		context.memory = nil
		context.spec_mem = nil
		context.file_table = nil
		context.signal_handler_table = nil
	}
	this.finished = this.finished[:0]
}

// FutexWake wakes up to count contexts suspended on the futex at addr whose
// wait bitset intersects bitset, earliest sleepers first. Returns the
// number woken.
func (this *Emu) FutexWake(caller *Context, addr uint32, count int, bitset uint32) int {
	waiters := make([]*Context, 0)
	for _, context := range this.suspended {
		if context.GetState(StateFutex) &&
			context.wakeup_futex == addr &&
			context.wakeup_futex_bitset&bitset != 0 {
			waiters = append(waiters, context)
		}
	}

	sort.Slice(waiters, func(i int, j int) bool {
		return waiters[i].wakeup_futex_sleep < waiters[j].wakeup_futex_sleep
	})

	woken := 0
	for _, context := range waiters {
		if woken >= count {
			break
		}
		context.regs.SetSyscallRet(0)
		context.ClearState(StateSuspended | StateFutex)
		woken++
	}

	return woken
}

// FutexRequeue moves every remaining waiter on addr to addr2. Returns the
// number requeued.
func (this *Emu) FutexRequeue(addr uint32, addr2 uint32) int {
	requeued := 0
	for _, context := range this.suspended {
		if context.GetState(StateFutex) && context.wakeup_futex == addr {
			context.wakeup_futex = addr2
			requeued++
		}
	}
	return requeued
}
