package kernel

import (
	"encoding/binary"

	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// testRegs is a minimal register file for exercising the kernel without a
// real ISA: syscall arguments are plain slots and the return value is
// recorded for inspection.
type testRegs struct {
	pc   uint32
	sp   uint32
	code int
	args [6]uint32

	ret     int32
	ret_set bool
}

func (this *testRegs) Pc() uint32      { return this.pc }
func (this *testRegs) SetPc(pc uint32) { this.pc = pc }
func (this *testRegs) Sp() uint32      { return this.sp }
func (this *testRegs) SetSp(sp uint32) { this.sp = sp }

func (this *testRegs) SyscallCode() int {
	return this.code
}

func (this *testRegs) SyscallArg(index int, memory *mem.Memory) uint32 {
	return this.args[index]
}

func (this *testRegs) SetSyscallRet(value int32) {
	this.ret = value
	this.ret_set = true
}

func (this *testRegs) Snapshot() []byte {
	data := make([]byte, (2+6)*4)
	le := binary.LittleEndian
	le.PutUint32(data[0:], this.pc)
	le.PutUint32(data[4:], this.sp)
	for i, arg := range this.args {
		le.PutUint32(data[8+i*4:], arg)
	}
	return data
}

func (this *testRegs) Restore(data []byte) {
	le := binary.LittleEndian
	this.pc = le.Uint32(data[0:])
	this.sp = le.Uint32(data[4:])
	for i := range this.args {
		this.args[i] = le.Uint32(data[8+i*4:])
	}
}

func (this *testRegs) Clone() Regs {
	copy_ := new(testRegs)
	*copy_ = *this
	return copy_
}

func (this *testRegs) StartSignal(
	sig int,
	handler uint32,
	trampoline uint32,
	frame_addr uint32,
	memory *mem.Memory,
) {
	this.args[0] = uint32(sig)
	this.sp = frame_addr - 16
	this.pc = handler
}

type testArch struct {
}

func (this *testArch) Name() string   { return "test" }
func (this *testArch) NewRegs() Regs  { return new(testRegs) }
func (this *testArch) Execute(ctx *Context) {
}

func (this *testArch) MapSyscall(raw int) (SyscallCode, bool) {
	code := SyscallCode(raw)
	if code <= SyscallCodeInvalid || code >= SyscallCodeCount {
		return SyscallCodeInvalid, false
	}
	return code, true
}

func (this *testArch) SignalReturnCode() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00}
}

func newTestEmu() *Emu {
	engine := new(esim.Engine)
	engine.Init()

	emu := new(Emu)
	emu.Init(engine, new(testArch))

	return emu
}

// newTestContext builds a bare context with a mapped scratch region at
// 0x10000 and a small stack.
func newTestContext(emu *Emu) *Context {
	context := emu.NewContext()

	context.memory = new(mem.Memory)
	context.memory.Init()
	context.memory.Map(0x10000, 16*mem.PageSize, mem.AccessRead|mem.AccessWrite)

	context.spec_mem = new(mem.SpecMem)
	context.spec_mem.Init(context.memory)

	context.file_table = new(FileTable)
	context.file_table.Init()

	context.signal_handler_table = new(SignalHandlerTable)
	context.signal_handler_table.Init()

	context.loader = &Loader{
		cwd:               "/",
		stack_size:        LoaderStackSize,
		signal_trampoline: LoaderTrampolineAddr,
	}

	context.regs = emu.arch.NewRegs()
	regs := context.regs.(*testRegs)
	regs.sp = 0x10000 + 15*mem.PageSize

	context.SetState(StateRunning)

	return context
}

func testSyscallArgs(context *Context, args ...uint32) *testRegs {
	regs := context.regs.(*testRegs)
	for i := range regs.args {
		regs.args[i] = 0
	}
	copy(regs.args[:], args)
	regs.ret = 0
	regs.ret_set = false
	return regs
}
