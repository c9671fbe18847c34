package kernel

import (
	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// Regs is the architected register state of one context. Each ISA package
// provides its own implementation; the kernel only manipulates registers
// through the ABI operations below.
type Regs interface {
	Pc() uint32
	SetPc(pc uint32)
	Sp() uint32
	SetSp(sp uint32)

	// Raw system-call number from the ABI-defined register.
	SyscallCode() int

	// Zero-based system-call argument; ABIs that pass late arguments on the
	// stack read them through memory.
	SyscallArg(index int, memory *mem.Memory) uint32

	// Write the ABI return register, folding in any error-flag convention.
	SetSyscallRet(value int32)

	// Architected-state snapshot, used by signal frames and speculative
	// recovery. Restore accepts exactly what Snapshot produced.
	Snapshot() []byte
	Restore(data []byte)

	Clone() Regs

	// Enter a signal handler whose saved-state frame lives at frame_addr:
	// point the return linkage at the sigreturn trampoline, pass sig as the
	// handler argument, move SP below the frame, jump to handler.
	StartSignal(sig int, handler uint32, trampoline uint32, frame_addr uint32, memory *mem.Memory)
}

// Arch is one guest instruction-set architecture.
type Arch interface {
	Name() string
	NewRegs() Regs

	// Execute advances ctx by one guest instruction.
	Execute(ctx *Context)

	// MapSyscall translates the raw ABI syscall number into the kernel's
	// syscall code.
	MapSyscall(raw int) (SyscallCode, bool)

	// SignalReturnCode is the machine code of the sigreturn trampoline the
	// loader plants in guest memory.
	SignalReturnCode() []byte
}
