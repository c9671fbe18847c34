package x86

import (
	"github.com/ApoorvaMN/SWLTP/src/kernel"
)

// Arch is the 32-bit x86 instruction-set implementation. It covers the
// integer core of the ISA; anything outside the supported subset surfaces
// as an illegal-instruction fault.
type Arch struct {
}

func (this *Arch) Init() {
}

func (this *Arch) Name() string {
	return "x86"
}

func (this *Arch) NewRegs() kernel.Regs {
	return new(Regs)
}

const maxInstBytes = 15

func (this *Arch) Execute(ctx *kernel.Context) {
	regs := ctx.Regs().(*Regs)

	// Fetch up to the maximum instruction length, stopping at the first
	// unreadable byte; decode tells us how much it actually needed.
	code := make([]byte, 0, maxInstBytes)
	var buf [1]byte
	for i := uint32(0); i < maxInstBytes; i++ {
		if err := ctx.Memory().ReadExec(regs.eip+i, 1, buf[:]); err != nil {
			break
		}
		code = append(code, buf[0])
	}
	if len(code) == 0 {
		ctx.FatalFault(kernel.SigSegv, "invalid instruction fetch at 0x%x", regs.eip)
		return
	}

	inst := Decode(regs.eip, code)
	fn := execute_fn[inst.opcode]
	if inst.opcode == OpcodeInvalid || fn == nil {
		ctx.FatalFault(kernel.SigIll, "illegal instruction 0x%02x at 0x%x", code[0], regs.eip)
		return
	}

	regs.eip += inst.size
	fn(ctx, regs, &inst)
}

// i386 ABI syscall numbers.
var syscall_code_map = map[int]kernel.SyscallCode{
	1:   kernel.SyscallCodeExit,
	3:   kernel.SyscallCodeRead,
	4:   kernel.SyscallCodeWrite,
	5:   kernel.SyscallCodeOpen,
	6:   kernel.SyscallCodeClose,
	7:   kernel.SyscallCodeWaitpid,
	10:  kernel.SyscallCodeUnlink,
	13:  kernel.SyscallCodeTime,
	20:  kernel.SyscallCodeGetpid,
	24:  kernel.SyscallCodeGetuid,
	33:  kernel.SyscallCodeAccess,
	45:  kernel.SyscallCodeBrk,
	47:  kernel.SyscallCodeGetgid,
	49:  kernel.SyscallCodeGeteuid,
	50:  kernel.SyscallCodeGetegid,
	76:  kernel.SyscallCodeGetrlimit,
	78:  kernel.SyscallCodeGettimeofday,
	90:  kernel.SyscallCodeMmap,
	91:  kernel.SyscallCodeMunmap,
	119: kernel.SyscallCodeSigreturn,
	120: kernel.SyscallCodeClone,
	122: kernel.SyscallCodeUname,
	125: kernel.SyscallCodeMprotect,
	140: kernel.SyscallCodeLlseek,
	146: kernel.SyscallCodeWritev,
	162: kernel.SyscallCodeNanosleep,
	173: kernel.SyscallCodeSigreturn, // rt_sigreturn
	174: kernel.SyscallCodeRtSigaction,
	175: kernel.SyscallCodeRtSigprocmask,
	191: kernel.SyscallCodeGetrlimit, // ugetrlimit
	192: kernel.SyscallCodeMmap2,
	197: kernel.SyscallCodeFstat64,
	199: kernel.SyscallCodeGetuid,  // getuid32
	200: kernel.SyscallCodeGetgid,  // getgid32
	201: kernel.SyscallCodeGeteuid, // geteuid32
	202: kernel.SyscallCodeGetegid, // getegid32
	240: kernel.SyscallCodeFutex,
	243: kernel.SyscallCodeSetThreadArea,
	252: kernel.SyscallCodeExitGroup,
	258: kernel.SyscallCodeSetTidAddress,
	311: kernel.SyscallCodeSetRobustList,
}

func (this *Arch) MapSyscall(raw int) (kernel.SyscallCode, bool) {
	code, found := syscall_code_map[raw]
	return code, found
}

// SignalReturnCode: mov eax, sigreturn; int 0x80.
func (this *Arch) SignalReturnCode() []byte {
	return []byte{
		0xb8, 0x77, 0x00, 0x00, 0x00, // mov eax, 119
		0xcd, 0x80, // int 0x80
	}
}
