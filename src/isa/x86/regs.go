package x86

import (
	"encoding/binary"

	"github.com/ApoorvaMN/SWLTP/src/kernel"
	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// General-purpose register indices, i386 encoding order.
const (
	regEax = 0
	regEcx = 1
	regEdx = 2
	regEbx = 3
	regEsp = 4
	regEbp = 5
	regEsi = 6
	regEdi = 7
)

// Regs is the i386 architected state used by the emulator: the eight
// general-purpose registers, the instruction pointer and the arithmetic
// flags.
type Regs struct {
	gpr [8]uint32
	eip uint32

	cf bool
	zf bool
	sf bool
	of bool
	pf bool
}

func (this *Regs) Gpr(index int) uint32 {
	return this.gpr[index]
}

func (this *Regs) SetGpr(index int, value uint32) {
	this.gpr[index] = value
}

func (this *Regs) Pc() uint32 {
	return this.eip
}

func (this *Regs) SetPc(pc uint32) {
	this.eip = pc
}

func (this *Regs) Sp() uint32 {
	return this.gpr[regEsp]
}

func (this *Regs) SetSp(sp uint32) {
	this.gpr[regEsp] = sp
}

// SyscallCode: int 0x80 convention, number in eax.
func (this *Regs) SyscallCode() int {
	return int(this.gpr[regEax])
}

// SyscallArg order for int 0x80: ebx, ecx, edx, esi, edi, ebp.
func (this *Regs) SyscallArg(index int, memory *mem.Memory) uint32 {
	switch index {
	case 0:
		return this.gpr[regEbx]
	case 1:
		return this.gpr[regEcx]
	case 2:
		return this.gpr[regEdx]
	case 3:
		return this.gpr[regEsi]
	case 4:
		return this.gpr[regEdi]
	case 5:
		return this.gpr[regEbp]
	}
	return 0
}

func (this *Regs) SetSyscallRet(value int32) {
	this.gpr[regEax] = uint32(value)
}

func (this *Regs) flagsWord() uint32 {
	flags := uint32(0)
	if this.cf {
		flags |= 1 << 0
	}
	if this.pf {
		flags |= 1 << 2
	}
	if this.zf {
		flags |= 1 << 6
	}
	if this.sf {
		flags |= 1 << 7
	}
	if this.of {
		flags |= 1 << 11
	}
	return flags
}

func (this *Regs) setFlagsWord(flags uint32) {
	this.cf = flags&(1<<0) != 0
	this.pf = flags&(1<<2) != 0
	this.zf = flags&(1<<6) != 0
	this.sf = flags&(1<<7) != 0
	this.of = flags&(1<<11) != 0
}

func (this *Regs) Snapshot() []byte {
	data := make([]byte, 10*4)
	le := binary.LittleEndian
	for i, value := range this.gpr {
		le.PutUint32(data[i*4:], value)
	}
	le.PutUint32(data[8*4:], this.eip)
	le.PutUint32(data[9*4:], this.flagsWord())

	return data
}

func (this *Regs) Restore(data []byte) {
	le := binary.LittleEndian
	for i := range this.gpr {
		this.gpr[i] = le.Uint32(data[i*4:])
	}
	this.eip = le.Uint32(data[8*4:])
	this.setFlagsWord(le.Uint32(data[9*4:]))
}

func (this *Regs) Clone() kernel.Regs {
	copy_ := new(Regs)
	*copy_ = *this

	return copy_
}

// StartSignal pushes the handler argument and the trampoline return
// address, i386 signal-frame style.
func (this *Regs) StartSignal(
	sig int,
	handler uint32,
	trampoline uint32,
	frame_addr uint32,
	memory *mem.Memory,
) {
	sp := frame_addr
	sp -= 4
	memory.WriteWord(sp, uint32(sig))
	sp -= 4
	memory.WriteWord(sp, trampoline)

	this.gpr[regEsp] = sp
	this.eip = handler
}
