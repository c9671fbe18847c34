package mips

import (
	"encoding/binary"

	"github.com/ApoorvaMN/SWLTP/src/kernel"
	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// Conventional register indices.
const (
	regZero = 0
	regV0   = 2
	regV1   = 3
	regA0   = 4
	regA3   = 7
	regT9   = 25
	regGp   = 28
	regSp   = 29
	regFp   = 30
	regRa   = 31
)

// Regs is the MIPS32 architected state. npc is the address of the next
// instruction to issue, which carries branch-delay-slot semantics: a taken
// branch rewrites npc while the delay slot at pc executes.
type Regs struct {
	gpr [32]uint32
	hi  uint32
	lo  uint32
	pc  uint32
	npc uint32
}

func (this *Regs) Gpr(index int) uint32 {
	return this.gpr[index]
}

func (this *Regs) SetGpr(index int, value uint32) {
	if index != regZero {
		this.gpr[index] = value
	}
}

func (this *Regs) Pc() uint32 {
	return this.pc
}

func (this *Regs) SetPc(pc uint32) {
	this.pc = pc
	this.npc = pc + 4
}

func (this *Regs) Npc() uint32 {
	return this.npc
}

func (this *Regs) SetNpc(npc uint32) {
	this.npc = npc
}

func (this *Regs) Sp() uint32 {
	return this.gpr[regSp]
}

func (this *Regs) SetSp(sp uint32) {
	this.gpr[regSp] = sp
}

// SyscallCode returns the raw O32 syscall number from v0.
func (this *Regs) SyscallCode() int {
	return int(this.gpr[regV0])
}

// SyscallArg reads argument index: a0-a3 from registers, later arguments
// from the caller's stack at 16(sp) onward, per the O32 convention.
func (this *Regs) SyscallArg(index int, memory *mem.Memory) uint32 {
	if index < 4 {
		return this.gpr[regA0+index]
	}

	value, err := memory.ReadWord(this.gpr[regSp] + uint32(16+4*(index-4)))
	if err != nil {
		return 0
	}
	return value
}

// SetSyscallRet applies the O32 kernel return convention: a3 is the error
// flag, v0 carries the value or the positive errno.
func (this *Regs) SetSyscallRet(value int32) {
	if value < 0 && value >= -kernel.ErrnoMax {
		this.gpr[regA3] = 1
		this.gpr[regV0] = uint32(-value)
		return
	}
	this.gpr[regA3] = 0
	this.gpr[regV0] = uint32(value)
}

const snapshotWords = 32 + 4

func (this *Regs) Snapshot() []byte {
	data := make([]byte, snapshotWords*4)
	le := binary.LittleEndian
	for i, value := range this.gpr {
		le.PutUint32(data[i*4:], value)
	}
	le.PutUint32(data[32*4:], this.hi)
	le.PutUint32(data[33*4:], this.lo)
	le.PutUint32(data[34*4:], this.pc)
	le.PutUint32(data[35*4:], this.npc)

	return data
}

func (this *Regs) Restore(data []byte) {
	le := binary.LittleEndian
	for i := range this.gpr {
		this.gpr[i] = le.Uint32(data[i*4:])
	}
	this.hi = le.Uint32(data[32*4:])
	this.lo = le.Uint32(data[33*4:])
	this.pc = le.Uint32(data[34*4:])
	this.npc = le.Uint32(data[35*4:])
}

func (this *Regs) Clone() kernel.Regs {
	copy_ := new(Regs)
	*copy_ = *this

	return copy_
}

// StartSignal enters a signal handler: sig in a0, return linkage through
// the sigreturn trampoline in ra, callee address in t9 for PIC handlers,
// stack below the saved frame.
func (this *Regs) StartSignal(
	sig int,
	handler uint32,
	trampoline uint32,
	frame_addr uint32,
	memory *mem.Memory,
) {
	this.gpr[regA0] = uint32(sig)
	this.gpr[regRa] = trampoline
	this.gpr[regT9] = handler
	this.gpr[regSp] = (frame_addr - 16) &^ 7
	this.SetPc(handler)
}
