package mips

// Opcode identifies one decoded MIPS32 instruction.
type Opcode int

const (
	OpcodeInvalid Opcode = iota

	OpcodeSll
	OpcodeSrl
	OpcodeSra
	OpcodeSllv
	OpcodeSrlv
	OpcodeSrav
	OpcodeJr
	OpcodeJalr
	OpcodeMovz
	OpcodeMovn
	OpcodeSyscall
	OpcodeBreak
	OpcodeSync
	OpcodeMfhi
	OpcodeMthi
	OpcodeMflo
	OpcodeMtlo
	OpcodeMult
	OpcodeMultu
	OpcodeDiv
	OpcodeDivu
	OpcodeAdd
	OpcodeAddu
	OpcodeSub
	OpcodeSubu
	OpcodeAnd
	OpcodeOr
	OpcodeXor
	OpcodeNor
	OpcodeSlt
	OpcodeSltu
	OpcodeTeq

	OpcodeBltz
	OpcodeBgez
	OpcodeBltzal
	OpcodeBgezal

	OpcodeJ
	OpcodeJal
	OpcodeBeq
	OpcodeBne
	OpcodeBlez
	OpcodeBgtz
	OpcodeAddi
	OpcodeAddiu
	OpcodeSlti
	OpcodeSltiu
	OpcodeAndi
	OpcodeOri
	OpcodeXori
	OpcodeLui

	OpcodeMul
	OpcodeClz
	OpcodeClo

	OpcodeExt
	OpcodeIns
	OpcodeSeb
	OpcodeSeh
	OpcodeRdhwr

	OpcodeLb
	OpcodeLh
	OpcodeLwl
	OpcodeLw
	OpcodeLbu
	OpcodeLhu
	OpcodeLwr
	OpcodeSb
	OpcodeSh
	OpcodeSwl
	OpcodeSw
	OpcodeSwr
	OpcodeLl
	OpcodeSc
	OpcodePref

	OpcodeCount
)

// Inst is one decoded instruction.
type Inst struct {
	raw    uint32
	addr   uint32
	opcode Opcode

	rs    int
	rt    int
	rd    int
	shamt int
	funct int

	imm    uint16
	simm   int32
	target uint32
}

func (this *Inst) Opcode() Opcode {
	return this.opcode
}

func (this *Inst) Addr() uint32 {
	return this.addr
}

var special_funct_map = map[int]Opcode{
	0x00: OpcodeSll,
	0x02: OpcodeSrl,
	0x03: OpcodeSra,
	0x04: OpcodeSllv,
	0x06: OpcodeSrlv,
	0x07: OpcodeSrav,
	0x08: OpcodeJr,
	0x09: OpcodeJalr,
	0x0a: OpcodeMovz,
	0x0b: OpcodeMovn,
	0x0c: OpcodeSyscall,
	0x0d: OpcodeBreak,
	0x0f: OpcodeSync,
	0x10: OpcodeMfhi,
	0x11: OpcodeMthi,
	0x12: OpcodeMflo,
	0x13: OpcodeMtlo,
	0x18: OpcodeMult,
	0x19: OpcodeMultu,
	0x1a: OpcodeDiv,
	0x1b: OpcodeDivu,
	0x20: OpcodeAdd,
	0x21: OpcodeAddu,
	0x22: OpcodeSub,
	0x23: OpcodeSubu,
	0x24: OpcodeAnd,
	0x25: OpcodeOr,
	0x26: OpcodeXor,
	0x27: OpcodeNor,
	0x2a: OpcodeSlt,
	0x2b: OpcodeSltu,
	0x34: OpcodeTeq,
}

var regimm_rt_map = map[int]Opcode{
	0x00: OpcodeBltz,
	0x01: OpcodeBgez,
	0x10: OpcodeBltzal,
	0x11: OpcodeBgezal,
}

var major_opcode_map = map[int]Opcode{
	0x02: OpcodeJ,
	0x03: OpcodeJal,
	0x04: OpcodeBeq,
	0x05: OpcodeBne,
	0x06: OpcodeBlez,
	0x07: OpcodeBgtz,
	0x08: OpcodeAddi,
	0x09: OpcodeAddiu,
	0x0a: OpcodeSlti,
	0x0b: OpcodeSltiu,
	0x0c: OpcodeAndi,
	0x0d: OpcodeOri,
	0x0e: OpcodeXori,
	0x0f: OpcodeLui,
	0x20: OpcodeLb,
	0x21: OpcodeLh,
	0x22: OpcodeLwl,
	0x23: OpcodeLw,
	0x24: OpcodeLbu,
	0x25: OpcodeLhu,
	0x26: OpcodeLwr,
	0x28: OpcodeSb,
	0x29: OpcodeSh,
	0x2a: OpcodeSwl,
	0x2b: OpcodeSw,
	0x2e: OpcodeSwr,
	0x30: OpcodeLl,
	0x33: OpcodePref,
	0x38: OpcodeSc,
}

var special2_funct_map = map[int]Opcode{
	0x02: OpcodeMul,
	0x20: OpcodeClz,
	0x21: OpcodeClo,
}

// Decode fills an Inst from one instruction word.
func Decode(addr uint32, raw uint32) Inst {
	inst := Inst{
		raw:   raw,
		addr:  addr,
		rs:    int(raw >> 21 & 0x1f),
		rt:    int(raw >> 16 & 0x1f),
		rd:    int(raw >> 11 & 0x1f),
		shamt: int(raw >> 6 & 0x1f),
		funct: int(raw & 0x3f),
		imm:   uint16(raw),
	}
	inst.simm = int32(int16(inst.imm))
	inst.target = raw & 0x03ffffff

	major := int(raw >> 26)

	switch major {
	case 0x00:
		inst.opcode = special_funct_map[inst.funct]
	case 0x01:
		inst.opcode = regimm_rt_map[inst.rt]
	case 0x1c:
		inst.opcode = special2_funct_map[inst.funct]
	case 0x1f:
		switch inst.funct {
		case 0x00:
			inst.opcode = OpcodeExt
		case 0x04:
			inst.opcode = OpcodeIns
		case 0x20:
			switch inst.shamt {
			case 0x10:
				inst.opcode = OpcodeSeb
			case 0x18:
				inst.opcode = OpcodeSeh
			}
		case 0x3b:
			inst.opcode = OpcodeRdhwr
		}
	default:
		inst.opcode = major_opcode_map[major]
	}

	return inst
}
