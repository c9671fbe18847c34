package mips

import (
	"encoding/binary"

	"github.com/ApoorvaMN/SWLTP/src/kernel"
)

// Arch is the MIPS32 little-endian instruction-set implementation.
type Arch struct {
}

func (this *Arch) Init() {
}

func (this *Arch) Name() string {
	return "mips"
}

func (this *Arch) NewRegs() kernel.Regs {
	return new(Regs)
}

// Execute fetches, decodes and runs one instruction. The PC pair advances
// before dispatch so that branches rewrite the post-delay-slot address.
func (this *Arch) Execute(ctx *kernel.Context) {
	regs := ctx.Regs().(*Regs)

	var word [4]byte
	if err := ctx.Memory().ReadExec(regs.pc, 4, word[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid instruction fetch at 0x%x", regs.pc)
		return
	}
	raw := binary.LittleEndian.Uint32(word[:])
	inst := Decode(regs.pc, raw)

	regs.pc = regs.npc
	regs.npc = regs.pc + 4

	fn := execute_fn[inst.opcode]
	if inst.opcode == OpcodeInvalid || fn == nil {
		ctx.FatalFault(kernel.SigIll, "illegal instruction 0x%08x at 0x%x", raw, inst.addr)
		return
	}

	fn(ctx, regs, &inst)
}

// O32 ABI syscall numbers.
var syscall_code_map = map[int]kernel.SyscallCode{
	4001: kernel.SyscallCodeExit,
	4003: kernel.SyscallCodeRead,
	4004: kernel.SyscallCodeWrite,
	4005: kernel.SyscallCodeOpen,
	4006: kernel.SyscallCodeClose,
	4007: kernel.SyscallCodeWaitpid,
	4010: kernel.SyscallCodeUnlink,
	4013: kernel.SyscallCodeTime,
	4020: kernel.SyscallCodeGetpid,
	4024: kernel.SyscallCodeGetuid,
	4033: kernel.SyscallCodeAccess,
	4045: kernel.SyscallCodeBrk,
	4047: kernel.SyscallCodeGetgid,
	4049: kernel.SyscallCodeGeteuid,
	4050: kernel.SyscallCodeGetegid,
	4076: kernel.SyscallCodeGetrlimit,
	4078: kernel.SyscallCodeGettimeofday,
	4090: kernel.SyscallCodeMmap,
	4091: kernel.SyscallCodeMunmap,
	4119: kernel.SyscallCodeSigreturn,
	4120: kernel.SyscallCodeClone,
	4122: kernel.SyscallCodeUname,
	4125: kernel.SyscallCodeMprotect,
	4140: kernel.SyscallCodeLlseek,
	4146: kernel.SyscallCodeWritev,
	4166: kernel.SyscallCodeNanosleep,
	4193: kernel.SyscallCodeSigreturn,
	4194: kernel.SyscallCodeRtSigaction,
	4195: kernel.SyscallCodeRtSigprocmask,
	4210: kernel.SyscallCodeMmap2,
	4215: kernel.SyscallCodeFstat64,
	4238: kernel.SyscallCodeFutex,
	4246: kernel.SyscallCodeExitGroup,
	4252: kernel.SyscallCodeSetTidAddress,
	4283: kernel.SyscallCodeSetThreadArea,
	4309: kernel.SyscallCodeSetRobustList,
}

func (this *Arch) MapSyscall(raw int) (kernel.SyscallCode, bool) {
	code, found := syscall_code_map[raw]
	return code, found
}

// SignalReturnCode: li v0, rt_sigreturn; syscall.
func (this *Arch) SignalReturnCode() []byte {
	return []byte{
		0x61, 0x10, 0x02, 0x24, // addiu v0, zero, 4193
		0x0c, 0x00, 0x00, 0x00, // syscall
	}
}
