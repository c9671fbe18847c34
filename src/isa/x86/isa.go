package x86

import (
	"encoding/binary"

	"github.com/ApoorvaMN/SWLTP/src/kernel"
)

// ExecuteFn runs one decoded instruction against a context.
type ExecuteFn func(ctx *kernel.Context, regs *Regs, inst *Inst)

var execute_fn = [OpcodeCount]ExecuteFn{
	OpcodeMovRegImm:   executeMovRegImm,
	OpcodeMovRmReg:    executeMovRmReg,
	OpcodeMovRegRm:    executeMovRegRm,
	OpcodeMovRmImm:    executeMovRmImm,
	OpcodeMovRm8Reg8:  executeMovRm8Reg8,
	OpcodeMovReg8Rm8:  executeMovReg8Rm8,
	OpcodeMovzxRm8:    executeMovzxRm8,
	OpcodeMovzxRm16:   executeMovzxRm16,
	OpcodeMovsxRm8:    executeMovsxRm8,
	OpcodeMovsxRm16:   executeMovsxRm16,
	OpcodeLea:         executeLea,
	OpcodeAluRmReg:    executeAluRmReg,
	OpcodeAluRegRm:    executeAluRegRm,
	OpcodeAluEaxImm:   executeAluEaxImm,
	OpcodeAluRmImm:    executeAluRmImm,
	OpcodeTestRmReg:   executeTestRmReg,
	OpcodeTestEaxImm:  executeTestEaxImm,
	OpcodeXchgRmReg:   executeXchgRmReg,
	OpcodeIncReg:      executeIncReg,
	OpcodeDecReg:      executeDecReg,
	OpcodePushReg:     executePushReg,
	OpcodePopReg:      executePopReg,
	OpcodePushImm:     executePushImm,
	OpcodeCallRel:     executeCallRel,
	OpcodeRet:         executeRet,
	OpcodeRetImm:      executeRetImm,
	OpcodeJmpRel:      executeJmpRel,
	OpcodeJcc:         executeJcc,
	OpcodeGroupFF:     executeGroupFF,
	OpcodeGroupF7:     executeGroupF7,
	OpcodeShiftGrp:    executeShiftGrp,
	OpcodeImul:        executeImul,
	OpcodeXadd:        executeXadd,
	OpcodeCmpxchg:     executeCmpxchg,
	OpcodeSetcc:       executeSetcc,
	OpcodeCdq:         executeCdq,
	OpcodeLeave:       executeLeave,
	OpcodeNop:         executeNop,
	OpcodeInt:         executeInt,
	OpcodeHlt:         executeHlt,
	OpcodeMovEaxMoffs: executeMovEaxMoffs,
	OpcodeMovMoffsEax: executeMovMoffsEax,
}

//
// Effective address and r/m access
//

func effAddr(regs *Regs, inst *Inst) uint32 {
	if !inst.has_sib {
		if inst.mod == 0 && inst.rm == 5 {
			return uint32(inst.disp)
		}
		return regs.gpr[inst.rm] + uint32(inst.disp)
	}

	addr := uint32(inst.disp)
	if !(inst.mod == 0 && inst.base == 5) {
		addr += regs.gpr[inst.base]
	}
	if inst.index != 4 {
		addr += regs.gpr[inst.index] << uint(inst.scale)
	}
	return addr
}

func rmRead32(ctx *kernel.Context, regs *Regs, inst *Inst) (uint32, bool) {
	if inst.mod == 3 {
		return regs.gpr[inst.rm], true
	}
	var buf [4]byte
	addr := effAddr(regs, inst)
	if err := ctx.MemRead(addr, 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

func rmWrite32(ctx *kernel.Context, regs *Regs, inst *Inst, value uint32) bool {
	if inst.mod == 3 {
		regs.gpr[inst.rm] = value
		return true
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	addr := effAddr(regs, inst)
	if err := ctx.MemWrite(addr, 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", addr)
		return false
	}
	return true
}

func rmRead16(ctx *kernel.Context, regs *Regs, inst *Inst) (uint16, bool) {
	if inst.mod == 3 {
		return uint16(regs.gpr[inst.rm]), true
	}
	var buf [2]byte
	addr := effAddr(regs, inst)
	if err := ctx.MemRead(addr, 2, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return 0, false
	}
	return binary.LittleEndian.Uint16(buf[:]), true
}

// 8-bit register access: indices 0-3 are al..bl, 4-7 are ah..bh.
func reg8Read(regs *Regs, index int) uint8 {
	if index < 4 {
		return uint8(regs.gpr[index])
	}
	return uint8(regs.gpr[index-4] >> 8)
}

func reg8Write(regs *Regs, index int, value uint8) {
	if index < 4 {
		regs.gpr[index] = regs.gpr[index]&^0xff | uint32(value)
		return
	}
	regs.gpr[index-4] = regs.gpr[index-4]&^0xff00 | uint32(value)<<8
}

func rm8Read(ctx *kernel.Context, regs *Regs, inst *Inst) (uint8, bool) {
	if inst.mod == 3 {
		return reg8Read(regs, inst.rm), true
	}
	var buf [1]byte
	addr := effAddr(regs, inst)
	if err := ctx.MemRead(addr, 1, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return 0, false
	}
	return buf[0], true
}

func rm8Write(ctx *kernel.Context, regs *Regs, inst *Inst, value uint8) bool {
	if inst.mod == 3 {
		reg8Write(regs, inst.rm, value)
		return true
	}
	buf := [1]byte{value}
	addr := effAddr(regs, inst)
	if err := ctx.MemWrite(addr, 1, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", addr)
		return false
	}
	return true
}

//
// Stack and flags helpers
//

func push32(ctx *kernel.Context, regs *Regs, value uint32) bool {
	regs.gpr[regEsp] -= 4
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := ctx.MemWrite(regs.gpr[regEsp], 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", regs.gpr[regEsp])
		return false
	}
	return true
}

func pop32(ctx *kernel.Context, regs *Regs) (uint32, bool) {
	var buf [4]byte
	if err := ctx.MemRead(regs.gpr[regEsp], 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", regs.gpr[regEsp])
		return 0, false
	}
	regs.gpr[regEsp] += 4
	return binary.LittleEndian.Uint32(buf[:]), true
}

func parity(value uint8) bool {
	count := 0
	for i := 0; i < 8; i++ {
		if value&(1<<uint(i)) != 0 {
			count++
		}
	}
	return count%2 == 0
}

func setLogicFlags(regs *Regs, result uint32) {
	regs.cf = false
	regs.of = false
	regs.zf = result == 0
	regs.sf = int32(result) < 0
	regs.pf = parity(uint8(result))
}

func setAddFlags(regs *Regs, a uint32, b uint32, result uint32) {
	regs.cf = result < a
	regs.zf = result == 0
	regs.sf = int32(result) < 0
	regs.of = (a^result)&(b^result)&0x80000000 != 0
	regs.pf = parity(uint8(result))
}

func setSubFlags(regs *Regs, a uint32, b uint32, result uint32) {
	regs.cf = a < b
	regs.zf = result == 0
	regs.sf = int32(result) < 0
	regs.of = (a^b)&(a^result)&0x80000000 != 0
	regs.pf = parity(uint8(result))
}

// alu applies sub-operation op and returns the result plus whether it is
// written back (cmp only sets flags).
func alu(regs *Regs, op int, a uint32, b uint32) (uint32, bool) {
	switch op {
	case aluAdd:
		result := a + b
		setAddFlags(regs, a, b, result)
		return result, true
	case aluOr:
		result := a | b
		setLogicFlags(regs, result)
		return result, true
	case aluAdc:
		carry := uint32(0)
		if regs.cf {
			carry = 1
		}
		result := a + b + carry
		setAddFlags(regs, a, b, result)
		return result, true
	case aluSbb:
		borrow := uint32(0)
		if regs.cf {
			borrow = 1
		}
		result := a - b - borrow
		setSubFlags(regs, a, b, result)
		return result, true
	case aluAnd:
		result := a & b
		setLogicFlags(regs, result)
		return result, true
	case aluSub:
		result := a - b
		setSubFlags(regs, a, b, result)
		return result, true
	case aluXor:
		result := a ^ b
		setLogicFlags(regs, result)
		return result, true
	default: // cmp
		result := a - b
		setSubFlags(regs, a, b, result)
		return result, false
	}
}

func condition(regs *Regs, cc int) bool {
	switch cc {
	case 0x0:
		return regs.of
	case 0x1:
		return !regs.of
	case 0x2:
		return regs.cf
	case 0x3:
		return !regs.cf
	case 0x4:
		return regs.zf
	case 0x5:
		return !regs.zf
	case 0x6:
		return regs.cf || regs.zf
	case 0x7:
		return !regs.cf && !regs.zf
	case 0x8:
		return regs.sf
	case 0x9:
		return !regs.sf
	case 0xa:
		return regs.pf
	case 0xb:
		return !regs.pf
	case 0xc:
		return regs.sf != regs.of
	case 0xd:
		return regs.sf == regs.of
	case 0xe:
		return regs.zf || regs.sf != regs.of
	default:
		return !regs.zf && regs.sf == regs.of
	}
}

//
// Data movement
//

func executeMovRegImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.gpr[inst.reg] = uint32(inst.imm)
}

func executeMovRmReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	rmWrite32(ctx, regs, inst, regs.gpr[inst.reg])
}

func executeMovRegRm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := rmRead32(ctx, regs, inst); ok {
		regs.gpr[inst.reg] = value
	}
}

func executeMovRmImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	rmWrite32(ctx, regs, inst, uint32(inst.imm))
}

func executeMovRm8Reg8(ctx *kernel.Context, regs *Regs, inst *Inst) {
	rm8Write(ctx, regs, inst, reg8Read(regs, inst.reg))
}

func executeMovReg8Rm8(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := rm8Read(ctx, regs, inst); ok {
		reg8Write(regs, inst.reg, value)
	}
}

func executeMovzxRm8(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := rm8Read(ctx, regs, inst); ok {
		regs.gpr[inst.reg] = uint32(value)
	}
}

func executeMovzxRm16(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := rmRead16(ctx, regs, inst); ok {
		regs.gpr[inst.reg] = uint32(value)
	}
}

func executeMovsxRm8(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := rm8Read(ctx, regs, inst); ok {
		regs.gpr[inst.reg] = uint32(int32(int8(value)))
	}
}

func executeMovsxRm16(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := rmRead16(ctx, regs, inst); ok {
		regs.gpr[inst.reg] = uint32(int32(int16(value)))
	}
}

func executeLea(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.gpr[inst.reg] = effAddr(regs, inst)
}

func executeMovEaxMoffs(ctx *kernel.Context, regs *Regs, inst *Inst) {
	var buf [4]byte
	addr := uint32(inst.disp)
	if err := ctx.MemRead(addr, 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return
	}
	regs.gpr[regEax] = binary.LittleEndian.Uint32(buf[:])
}

func executeMovMoffsEax(ctx *kernel.Context, regs *Regs, inst *Inst) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], regs.gpr[regEax])
	addr := uint32(inst.disp)
	if err := ctx.MemWrite(addr, 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", addr)
	}
}

//
// Arithmetic
//

func executeAluRmReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	result, writeback := alu(regs, inst.sub, a, regs.gpr[inst.reg])
	if writeback {
		rmWrite32(ctx, regs, inst, result)
	}
}

func executeAluRegRm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	b, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	result, writeback := alu(regs, inst.sub, regs.gpr[inst.reg], b)
	if writeback {
		regs.gpr[inst.reg] = result
	}
}

func executeAluEaxImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	result, writeback := alu(regs, inst.sub, regs.gpr[regEax], uint32(inst.imm))
	if writeback {
		regs.gpr[regEax] = result
	}
}

func executeAluRmImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	result, writeback := alu(regs, inst.sub, a, uint32(inst.imm))
	if writeback {
		rmWrite32(ctx, regs, inst, result)
	}
}

func executeTestRmReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	setLogicFlags(regs, a&regs.gpr[inst.reg])
}

func executeTestEaxImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	setLogicFlags(regs, regs.gpr[regEax]&uint32(inst.imm))
}

func executeXchgRmReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	if rmWrite32(ctx, regs, inst, regs.gpr[inst.reg]) {
		regs.gpr[inst.reg] = a
	}
}

func executeIncReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a := regs.gpr[inst.reg]
	result := a + 1
	carry := regs.cf
	setAddFlags(regs, a, 1, result)
	regs.cf = carry // inc does not touch CF
	regs.gpr[inst.reg] = result
}

func executeDecReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a := regs.gpr[inst.reg]
	result := a - 1
	carry := regs.cf
	setSubFlags(regs, a, 1, result)
	regs.cf = carry // dec does not touch CF
	regs.gpr[inst.reg] = result
}

func executeImul(ctx *kernel.Context, regs *Regs, inst *Inst) {
	b, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	product := int64(int32(regs.gpr[inst.reg])) * int64(int32(b))
	regs.gpr[inst.reg] = uint32(product)
	regs.cf = product != int64(int32(product))
	regs.of = regs.cf
}

func executeXadd(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	sum := a + regs.gpr[inst.reg]
	setAddFlags(regs, a, regs.gpr[inst.reg], sum)
	if rmWrite32(ctx, regs, inst, sum) {
		regs.gpr[inst.reg] = a
	}
}

func executeCmpxchg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}
	if regs.gpr[regEax] == a {
		regs.zf = true
		rmWrite32(ctx, regs, inst, regs.gpr[inst.reg])
	} else {
		regs.zf = false
		regs.gpr[regEax] = a
	}
}

func executeSetcc(ctx *kernel.Context, regs *Regs, inst *Inst) {
	value := uint8(0)
	if condition(regs, inst.sub) {
		value = 1
	}
	rm8Write(ctx, regs, inst, value)
}

func executeCdq(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if int32(regs.gpr[regEax]) < 0 {
		regs.gpr[regEdx] = 0xffffffff
	} else {
		regs.gpr[regEdx] = 0
	}
}

func executeGroupF7(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}

	switch inst.sub {
	case 0: // test
		setLogicFlags(regs, a&uint32(inst.imm))
	case 2: // not
		rmWrite32(ctx, regs, inst, ^a)
	case 3: // neg
		result := -a
		setSubFlags(regs, 0, a, result)
		regs.cf = a != 0
		rmWrite32(ctx, regs, inst, result)
	case 4: // mul
		product := uint64(regs.gpr[regEax]) * uint64(a)
		regs.gpr[regEax] = uint32(product)
		regs.gpr[regEdx] = uint32(product >> 32)
		regs.cf = regs.gpr[regEdx] != 0
		regs.of = regs.cf
	case 5: // imul
		product := int64(int32(regs.gpr[regEax])) * int64(int32(a))
		regs.gpr[regEax] = uint32(product)
		regs.gpr[regEdx] = uint32(uint64(product) >> 32)
		regs.cf = product != int64(int32(product))
		regs.of = regs.cf
	case 6: // div
		if a == 0 {
			ctx.FatalFault(kernel.SigFpe, "divide error at 0x%x", inst.addr)
			return
		}
		dividend := uint64(regs.gpr[regEdx])<<32 | uint64(regs.gpr[regEax])
		regs.gpr[regEax] = uint32(dividend / uint64(a))
		regs.gpr[regEdx] = uint32(dividend % uint64(a))
	case 7: // idiv
		if a == 0 {
			ctx.FatalFault(kernel.SigFpe, "divide error at 0x%x", inst.addr)
			return
		}
		dividend := int64(uint64(regs.gpr[regEdx])<<32 | uint64(regs.gpr[regEax]))
		regs.gpr[regEax] = uint32(dividend / int64(int32(a)))
		regs.gpr[regEdx] = uint32(dividend % int64(int32(a)))
	default:
		ctx.FatalFault(kernel.SigIll, "illegal group f7 digit %d at 0x%x", inst.sub, inst.addr)
	}
}

func executeShiftGrp(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a, ok := rmRead32(ctx, regs, inst)
	if !ok {
		return
	}

	count := uint32(inst.imm)
	if inst.imm == -1 {
		count = regs.gpr[regEcx]
	}
	count &= 0x1f
	if count == 0 {
		return
	}

	var result uint32
	switch inst.sub {
	case 4: // shl
		regs.cf = a<<(count-1)&0x80000000 != 0
		result = a << count
	case 5: // shr
		regs.cf = a>>(count-1)&1 != 0
		result = a >> count
	case 7: // sar
		regs.cf = int32(a)>>(count-1)&1 != 0
		result = uint32(int32(a) >> count)
	default:
		ctx.FatalFault(kernel.SigIll, "illegal shift digit %d at 0x%x", inst.sub, inst.addr)
		return
	}

	regs.zf = result == 0
	regs.sf = int32(result) < 0
	regs.pf = parity(uint8(result))
	rmWrite32(ctx, regs, inst, result)
}

//
// Stack
//

func executePushReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	push32(ctx, regs, regs.gpr[inst.reg])
}

func executePopReg(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := pop32(ctx, regs); ok {
		regs.gpr[inst.reg] = value
	}
}

func executePushImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	push32(ctx, regs, uint32(inst.imm))
}

func executeLeave(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.gpr[regEsp] = regs.gpr[regEbp]
	if value, ok := pop32(ctx, regs); ok {
		regs.gpr[regEbp] = value
	}
}

//
// Control transfer
//

func executeCallRel(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := regs.eip + uint32(inst.imm)
	ctx.SetTargetIp(target)
	if push32(ctx, regs, regs.eip) {
		regs.eip = target
	}
}

func executeRet(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := pop32(ctx, regs); ok {
		ctx.SetTargetIp(value)
		regs.eip = value
	}
}

func executeRetImm(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if value, ok := pop32(ctx, regs); ok {
		ctx.SetTargetIp(value)
		regs.eip = value
		regs.gpr[regEsp] += uint32(inst.imm)
	}
}

func executeJmpRel(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := regs.eip + uint32(inst.imm)
	ctx.SetTargetIp(target)
	regs.eip = target
}

func executeJcc(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := regs.eip + uint32(inst.imm)
	ctx.SetTargetIp(target)
	if condition(regs, inst.sub) {
		regs.eip = target
	}
}

func executeGroupFF(ctx *kernel.Context, regs *Regs, inst *Inst) {
	switch inst.sub {
	case 0: // inc
		a, ok := rmRead32(ctx, regs, inst)
		if !ok {
			return
		}
		result := a + 1
		carry := regs.cf
		setAddFlags(regs, a, 1, result)
		regs.cf = carry
		rmWrite32(ctx, regs, inst, result)
	case 1: // dec
		a, ok := rmRead32(ctx, regs, inst)
		if !ok {
			return
		}
		result := a - 1
		carry := regs.cf
		setSubFlags(regs, a, 1, result)
		regs.cf = carry
		rmWrite32(ctx, regs, inst, result)
	case 2: // call
		target, ok := rmRead32(ctx, regs, inst)
		if !ok {
			return
		}
		ctx.SetTargetIp(target)
		if push32(ctx, regs, regs.eip) {
			regs.eip = target
		}
	case 4: // jmp
		target, ok := rmRead32(ctx, regs, inst)
		if !ok {
			return
		}
		ctx.SetTargetIp(target)
		regs.eip = target
	case 6: // push
		a, ok := rmRead32(ctx, regs, inst)
		if !ok {
			return
		}
		push32(ctx, regs, a)
	default:
		ctx.FatalFault(kernel.SigIll, "illegal group ff digit %d at 0x%x", inst.sub, inst.addr)
	}
}

//
// System
//

func executeNop(ctx *kernel.Context, regs *Regs, inst *Inst) {
}

func executeInt(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if inst.imm != 0x80 {
		ctx.FatalFault(kernel.SigIll, "unsupported software interrupt 0x%x at 0x%x",
			inst.imm, inst.addr)
		return
	}
	ctx.ExecuteSyscall()
}

func executeHlt(ctx *kernel.Context, regs *Regs, inst *Inst) {
	ctx.FatalFault(kernel.SigIll, "hlt in user mode at 0x%x", inst.addr)
}
