package mips

import (
	"encoding/binary"
	"math/bits"

	"github.com/ApoorvaMN/SWLTP/src/kernel"
)

// ExecuteFn runs one decoded instruction against a context.
type ExecuteFn func(ctx *kernel.Context, regs *Regs, inst *Inst)

// execute_fn is the flat per-opcode dispatch table.
var execute_fn = [OpcodeCount]ExecuteFn{
	OpcodeSll:     executeSll,
	OpcodeSrl:     executeSrl,
	OpcodeSra:     executeSra,
	OpcodeSllv:    executeSllv,
	OpcodeSrlv:    executeSrlv,
	OpcodeSrav:    executeSrav,
	OpcodeJr:      executeJr,
	OpcodeJalr:    executeJalr,
	OpcodeMovz:    executeMovz,
	OpcodeMovn:    executeMovn,
	OpcodeSyscall: executeSyscall,
	OpcodeBreak:   executeBreak,
	OpcodeSync:    executeSync,
	OpcodeMfhi:    executeMfhi,
	OpcodeMthi:    executeMthi,
	OpcodeMflo:    executeMflo,
	OpcodeMtlo:    executeMtlo,
	OpcodeMult:    executeMult,
	OpcodeMultu:   executeMultu,
	OpcodeDiv:     executeDiv,
	OpcodeDivu:    executeDivu,
	OpcodeAdd:     executeAdd,
	OpcodeAddu:    executeAddu,
	OpcodeSub:     executeSub,
	OpcodeSubu:    executeSubu,
	OpcodeAnd:     executeAnd,
	OpcodeOr:      executeOr,
	OpcodeXor:     executeXor,
	OpcodeNor:     executeNor,
	OpcodeSlt:     executeSlt,
	OpcodeSltu:    executeSltu,
	OpcodeTeq:     executeTeq,
	OpcodeBltz:    executeBltz,
	OpcodeBgez:    executeBgez,
	OpcodeBltzal:  executeBltzal,
	OpcodeBgezal:  executeBgezal,
	OpcodeJ:       executeJ,
	OpcodeJal:     executeJal,
	OpcodeBeq:     executeBeq,
	OpcodeBne:     executeBne,
	OpcodeBlez:    executeBlez,
	OpcodeBgtz:    executeBgtz,
	OpcodeAddi:    executeAddi,
	OpcodeAddiu:   executeAddiu,
	OpcodeSlti:    executeSlti,
	OpcodeSltiu:   executeSltiu,
	OpcodeAndi:    executeAndi,
	OpcodeOri:     executeOri,
	OpcodeXori:    executeXori,
	OpcodeLui:     executeLui,
	OpcodeMul:     executeMul,
	OpcodeClz:     executeClz,
	OpcodeClo:     executeClo,
	OpcodeExt:     executeExt,
	OpcodeIns:     executeIns,
	OpcodeSeb:     executeSeb,
	OpcodeSeh:     executeSeh,
	OpcodeRdhwr:   executeRdhwr,
	OpcodeLb:      executeLb,
	OpcodeLh:      executeLh,
	OpcodeLwl:     executeLwl,
	OpcodeLw:      executeLw,
	OpcodeLbu:     executeLbu,
	OpcodeLhu:     executeLhu,
	OpcodeLwr:     executeLwr,
	OpcodeSb:      executeSb,
	OpcodeSh:      executeSh,
	OpcodeSwl:     executeSwl,
	OpcodeSw:      executeSw,
	OpcodeSwr:     executeSwr,
	OpcodeLl:      executeLl,
	OpcodeSc:      executeSc,
	OpcodePref:    executePref,
}

// branchTarget is the PC-relative branch destination of inst.
func branchTarget(inst *Inst) uint32 {
	return inst.addr + 4 + uint32(inst.simm<<2)
}

// branch records the target for divergence tracking and redirects the
// post-delay-slot PC when taken.
func branch(ctx *kernel.Context, regs *Regs, inst *Inst, taken bool) {
	target := branchTarget(inst)
	ctx.SetTargetIp(target)
	if taken {
		regs.npc = target
	}
}

func jumpTarget(inst *Inst) uint32 {
	return (inst.addr+4)&0xf0000000 | inst.target<<2
}

//
// Arithmetic and logic
//

func executeSll(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rt]<<uint(inst.shamt))
}

func executeSrl(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rt]>>uint(inst.shamt))
}

func executeSra(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(int32(regs.gpr[inst.rt])>>uint(inst.shamt)))
}

func executeSllv(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rt]<<uint(regs.gpr[inst.rs]&0x1f))
}

func executeSrlv(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rt]>>uint(regs.gpr[inst.rs]&0x1f))
}

func executeSrav(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(int32(regs.gpr[inst.rt])>>uint(regs.gpr[inst.rs]&0x1f)))
}

func executeAdd(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a := int32(regs.gpr[inst.rs])
	b := int32(regs.gpr[inst.rt])
	result := a + b
	if (a > 0 && b > 0 && result < 0) || (a < 0 && b < 0 && result >= 0) {
		ctx.FatalFault(kernel.SigFpe, "integer overflow at 0x%x", inst.addr)
		return
	}
	regs.SetGpr(inst.rd, uint32(result))
}

func executeAddu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rs]+regs.gpr[inst.rt])
}

func executeSub(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a := int32(regs.gpr[inst.rs])
	b := int32(regs.gpr[inst.rt])
	result := a - b
	if (a >= 0 && b < 0 && result < 0) || (a < 0 && b > 0 && result >= 0) {
		ctx.FatalFault(kernel.SigFpe, "integer overflow at 0x%x", inst.addr)
		return
	}
	regs.SetGpr(inst.rd, uint32(result))
}

func executeSubu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rs]-regs.gpr[inst.rt])
}

func executeAnd(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rs]&regs.gpr[inst.rt])
}

func executeOr(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rs]|regs.gpr[inst.rt])
}

func executeXor(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.gpr[inst.rs]^regs.gpr[inst.rt])
}

func executeNor(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, ^(regs.gpr[inst.rs] | regs.gpr[inst.rt]))
}

func executeSlt(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if int32(regs.gpr[inst.rs]) < int32(regs.gpr[inst.rt]) {
		regs.SetGpr(inst.rd, 1)
	} else {
		regs.SetGpr(inst.rd, 0)
	}
}

func executeSltu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if regs.gpr[inst.rs] < regs.gpr[inst.rt] {
		regs.SetGpr(inst.rd, 1)
	} else {
		regs.SetGpr(inst.rd, 0)
	}
}

func executeMovz(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if regs.gpr[inst.rt] == 0 {
		regs.SetGpr(inst.rd, regs.gpr[inst.rs])
	}
}

func executeMovn(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if regs.gpr[inst.rt] != 0 {
		regs.SetGpr(inst.rd, regs.gpr[inst.rs])
	}
}

func executeAddi(ctx *kernel.Context, regs *Regs, inst *Inst) {
	a := int32(regs.gpr[inst.rs])
	result := a + inst.simm
	if (a > 0 && inst.simm > 0 && result < 0) || (a < 0 && inst.simm < 0 && result >= 0) {
		ctx.FatalFault(kernel.SigFpe, "integer overflow at 0x%x", inst.addr)
		return
	}
	regs.SetGpr(inst.rt, uint32(result))
}

func executeAddiu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rt, regs.gpr[inst.rs]+uint32(inst.simm))
}

func executeSlti(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if int32(regs.gpr[inst.rs]) < inst.simm {
		regs.SetGpr(inst.rt, 1)
	} else {
		regs.SetGpr(inst.rt, 0)
	}
}

func executeSltiu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if regs.gpr[inst.rs] < uint32(inst.simm) {
		regs.SetGpr(inst.rt, 1)
	} else {
		regs.SetGpr(inst.rt, 0)
	}
}

func executeAndi(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rt, regs.gpr[inst.rs]&uint32(inst.imm))
}

func executeOri(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rt, regs.gpr[inst.rs]|uint32(inst.imm))
}

func executeXori(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rt, regs.gpr[inst.rs]^uint32(inst.imm))
}

func executeLui(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rt, uint32(inst.imm)<<16)
}

//
// Hi/lo, multiply, divide
//

func executeMfhi(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.hi)
}

func executeMthi(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.hi = regs.gpr[inst.rs]
}

func executeMflo(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, regs.lo)
}

func executeMtlo(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.lo = regs.gpr[inst.rs]
}

func executeMult(ctx *kernel.Context, regs *Regs, inst *Inst) {
	product := int64(int32(regs.gpr[inst.rs])) * int64(int32(regs.gpr[inst.rt]))
	regs.lo = uint32(product)
	regs.hi = uint32(uint64(product) >> 32)
}

func executeMultu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	product := uint64(regs.gpr[inst.rs]) * uint64(regs.gpr[inst.rt])
	regs.lo = uint32(product)
	regs.hi = uint32(product >> 32)
}

func executeDiv(ctx *kernel.Context, regs *Regs, inst *Inst) {
	divisor := int32(regs.gpr[inst.rt])
	if divisor == 0 {
		regs.lo = 0
		regs.hi = 0
		return
	}
	dividend := int32(regs.gpr[inst.rs])
	regs.lo = uint32(dividend / divisor)
	regs.hi = uint32(dividend % divisor)
}

func executeDivu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	divisor := regs.gpr[inst.rt]
	if divisor == 0 {
		regs.lo = 0
		regs.hi = 0
		return
	}
	dividend := regs.gpr[inst.rs]
	regs.lo = dividend / divisor
	regs.hi = dividend % divisor
}

func executeMul(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(int32(regs.gpr[inst.rs])*int32(regs.gpr[inst.rt])))
}

func executeClz(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(bits.LeadingZeros32(regs.gpr[inst.rs])))
}

func executeClo(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(bits.LeadingZeros32(^regs.gpr[inst.rs])))
}

//
// Bitfield and sign extension
//

func executeExt(ctx *kernel.Context, regs *Regs, inst *Inst) {
	lsb := uint(inst.shamt)
	size := uint(inst.rd) + 1
	mask := uint32(1)<<size - 1
	regs.SetGpr(inst.rt, regs.gpr[inst.rs]>>lsb&mask)
}

func executeIns(ctx *kernel.Context, regs *Regs, inst *Inst) {
	lsb := uint(inst.shamt)
	msb := uint(inst.rd)
	size := msb - lsb + 1
	mask := uint32(1)<<size - 1
	value := regs.gpr[inst.rt]&^(mask<<lsb) | (regs.gpr[inst.rs]&mask)<<lsb
	regs.SetGpr(inst.rt, value)
}

func executeSeb(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(int32(int8(regs.gpr[inst.rt]))))
}

func executeSeh(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(inst.rd, uint32(int32(int16(regs.gpr[inst.rt]))))
}

// rdhwr: register 29 is the userlocal TLS pointer glibc reads.
func executeRdhwr(ctx *kernel.Context, regs *Regs, inst *Inst) {
	switch inst.rd {
	case 29:
		regs.SetGpr(inst.rt, ctx.GlibcSegmentBase())
	default:
		regs.SetGpr(inst.rt, 0)
	}
}

//
// Control transfer
//

func executeJr(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := regs.gpr[inst.rs]
	ctx.SetTargetIp(target)
	regs.npc = target
}

func executeJalr(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := regs.gpr[inst.rs]
	regs.SetGpr(inst.rd, inst.addr+8)
	ctx.SetTargetIp(target)
	regs.npc = target
}

func executeJ(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := jumpTarget(inst)
	ctx.SetTargetIp(target)
	regs.npc = target
}

func executeJal(ctx *kernel.Context, regs *Regs, inst *Inst) {
	target := jumpTarget(inst)
	regs.SetGpr(regRa, inst.addr+8)
	ctx.SetTargetIp(target)
	regs.npc = target
}

func executeBeq(ctx *kernel.Context, regs *Regs, inst *Inst) {
	branch(ctx, regs, inst, regs.gpr[inst.rs] == regs.gpr[inst.rt])
}

func executeBne(ctx *kernel.Context, regs *Regs, inst *Inst) {
	branch(ctx, regs, inst, regs.gpr[inst.rs] != regs.gpr[inst.rt])
}

func executeBlez(ctx *kernel.Context, regs *Regs, inst *Inst) {
	branch(ctx, regs, inst, int32(regs.gpr[inst.rs]) <= 0)
}

func executeBgtz(ctx *kernel.Context, regs *Regs, inst *Inst) {
	branch(ctx, regs, inst, int32(regs.gpr[inst.rs]) > 0)
}

func executeBltz(ctx *kernel.Context, regs *Regs, inst *Inst) {
	branch(ctx, regs, inst, int32(regs.gpr[inst.rs]) < 0)
}

func executeBgez(ctx *kernel.Context, regs *Regs, inst *Inst) {
	branch(ctx, regs, inst, int32(regs.gpr[inst.rs]) >= 0)
}

func executeBltzal(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(regRa, inst.addr+8)
	branch(ctx, regs, inst, int32(regs.gpr[inst.rs]) < 0)
}

func executeBgezal(ctx *kernel.Context, regs *Regs, inst *Inst) {
	regs.SetGpr(regRa, inst.addr+8)
	branch(ctx, regs, inst, int32(regs.gpr[inst.rs]) >= 0)
}

//
// Traps and system
//

func executeSyscall(ctx *kernel.Context, regs *Regs, inst *Inst) {
	ctx.ExecuteSyscall()
}

func executeBreak(ctx *kernel.Context, regs *Regs, inst *Inst) {
	ctx.FatalFault(5, "break at 0x%x", inst.addr)
}

func executeTeq(ctx *kernel.Context, regs *Regs, inst *Inst) {
	if regs.gpr[inst.rs] == regs.gpr[inst.rt] {
		ctx.FatalFault(kernel.SigFpe, "trap at 0x%x", inst.addr)
	}
}

func executeSync(ctx *kernel.Context, regs *Regs, inst *Inst) {
}

func executePref(ctx *kernel.Context, regs *Regs, inst *Inst) {
}

//
// Loads and stores
//

func effAddr(regs *Regs, inst *Inst) uint32 {
	return regs.gpr[inst.rs] + uint32(inst.simm)
}

func loadWord(ctx *kernel.Context, addr uint32) (uint32, bool) {
	var buf [4]byte
	if err := ctx.MemRead(addr, 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

func storeWord(ctx *kernel.Context, addr uint32, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := ctx.MemWrite(addr, 4, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", addr)
	}
}

func executeLw(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	if addr&3 != 0 {
		ctx.FatalFault(kernel.SigBus, "unaligned load at 0x%x", addr)
		return
	}
	if value, ok := loadWord(ctx, addr); ok {
		regs.SetGpr(inst.rt, value)
	}
}

func executeLl(ctx *kernel.Context, regs *Regs, inst *Inst) {
	// With a single cooperative simulation thread there is nothing to race
	// with: ll is a plain load and the paired sc always succeeds.
	executeLw(ctx, regs, inst)
}

func executeLb(ctx *kernel.Context, regs *Regs, inst *Inst) {
	var buf [1]byte
	addr := effAddr(regs, inst)
	if err := ctx.MemRead(addr, 1, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return
	}
	regs.SetGpr(inst.rt, uint32(int32(int8(buf[0]))))
}

func executeLbu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	var buf [1]byte
	addr := effAddr(regs, inst)
	if err := ctx.MemRead(addr, 1, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return
	}
	regs.SetGpr(inst.rt, uint32(buf[0]))
}

func executeLh(ctx *kernel.Context, regs *Regs, inst *Inst) {
	var buf [2]byte
	addr := effAddr(regs, inst)
	if addr&1 != 0 {
		ctx.FatalFault(kernel.SigBus, "unaligned load at 0x%x", addr)
		return
	}
	if err := ctx.MemRead(addr, 2, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return
	}
	regs.SetGpr(inst.rt, uint32(int32(int16(binary.LittleEndian.Uint16(buf[:])))))
}

func executeLhu(ctx *kernel.Context, regs *Regs, inst *Inst) {
	var buf [2]byte
	addr := effAddr(regs, inst)
	if addr&1 != 0 {
		ctx.FatalFault(kernel.SigBus, "unaligned load at 0x%x", addr)
		return
	}
	if err := ctx.MemRead(addr, 2, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid load at 0x%x", addr)
		return
	}
	regs.SetGpr(inst.rt, uint32(binary.LittleEndian.Uint16(buf[:])))
}

func executeLwl(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	b := addr & 3
	word, ok := loadWord(ctx, addr&^3)
	if !ok {
		return
	}
	value := regs.gpr[inst.rt]&(0x00ffffff>>(8*b)) | word<<(8*(3-b))
	regs.SetGpr(inst.rt, value)
}

func executeLwr(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	b := addr & 3
	word, ok := loadWord(ctx, addr&^3)
	if !ok {
		return
	}
	value := regs.gpr[inst.rt]&^(0xffffffff>>(8*b)) | word>>(8*b)
	regs.SetGpr(inst.rt, value)
}

func executeSw(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	if addr&3 != 0 {
		ctx.FatalFault(kernel.SigBus, "unaligned store at 0x%x", addr)
		return
	}
	storeWord(ctx, addr, regs.gpr[inst.rt])
}

func executeSc(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	if addr&3 != 0 {
		ctx.FatalFault(kernel.SigBus, "unaligned store at 0x%x", addr)
		return
	}
	storeWord(ctx, addr, regs.gpr[inst.rt])
	regs.SetGpr(inst.rt, 1)
}

func executeSb(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	buf := [1]byte{byte(regs.gpr[inst.rt])}
	if err := ctx.MemWrite(addr, 1, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", addr)
	}
}

func executeSh(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	if addr&1 != 0 {
		ctx.FatalFault(kernel.SigBus, "unaligned store at 0x%x", addr)
		return
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(regs.gpr[inst.rt]))
	if err := ctx.MemWrite(addr, 2, buf[:]); err != nil {
		ctx.FatalFault(kernel.SigSegv, "invalid store at 0x%x", addr)
	}
}

func executeSwl(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	b := addr & 3
	word, ok := loadWord(ctx, addr&^3)
	if !ok {
		return
	}
	value := word&^(0xffffffff>>(8*(3-b))) | regs.gpr[inst.rt]>>(8*(3-b))
	storeWord(ctx, addr&^3, value)
}

func executeSwr(ctx *kernel.Context, regs *Regs, inst *Inst) {
	addr := effAddr(regs, inst)
	b := addr & 3
	word, ok := loadWord(ctx, addr&^3)
	if !ok {
		return
	}
	value := word&(0xffffffff>>(8*(4-b))) | regs.gpr[inst.rt]<<(8*b)
	storeWord(ctx, addr&^3, value)
}
