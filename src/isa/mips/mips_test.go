package mips

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/kernel"
	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// writeTestElf emits a minimal 32-bit little-endian MIPS executable with
// one RWX PT_LOAD segment holding image at vaddr.
func writeTestElf(t *testing.T, vaddr uint32, entry uint32, image []byte) string {
	t.Helper()

	le := binary.LittleEndian
	header := make([]byte, 52+32)

	copy(header, []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	le.PutUint16(header[16:], 2) // ET_EXEC
	le.PutUint16(header[18:], 8) // EM_MIPS
	le.PutUint32(header[20:], 1)
	le.PutUint32(header[24:], entry)
	le.PutUint32(header[28:], 52)
	le.PutUint16(header[40:], 52)
	le.PutUint16(header[42:], 32)
	le.PutUint16(header[44:], 1)

	phdr := header[52:]
	le.PutUint32(phdr[0:], 1) // PT_LOAD
	le.PutUint32(phdr[4:], uint32(len(header)))
	le.PutUint32(phdr[8:], vaddr)
	le.PutUint32(phdr[12:], vaddr)
	le.PutUint32(phdr[16:], uint32(len(image)))
	le.PutUint32(phdr[20:], uint32(len(image)))
	le.PutUint32(phdr[24:], 7) // RWX
	le.PutUint32(phdr[28:], 0x1000)

	path := filepath.Join(t.TempDir(), "guest.elf")
	if err := os.WriteFile(path, append(header, image...), 0o755); err != nil {
		t.Fatalf("cannot write test binary: %v", err)
	}
	return path
}

const testEntry = 0x00400000

// buildImage lays out instruction words from offset 0 and data blobs at
// fixed offsets.
func buildImage(size int, words []uint32, data map[int][]byte) []byte {
	image := make([]byte, size)
	for i, word := range words {
		binary.LittleEndian.PutUint32(image[i*4:], word)
	}
	for offset, blob := range data {
		copy(image[offset:], blob)
	}
	return image
}

func runProgram(t *testing.T, path string, stdout_path string) (*kernel.Emu, *kernel.Context, *mem.Memory) {
	t.Helper()

	engine := new(esim.Engine)
	engine.Init()

	arch := new(Arch)
	arch.Init()

	emu := new(kernel.Emu)
	emu.Init(engine, arch)

	context := emu.LoadProgram(path, nil, nil, "", "", stdout_path)
	memory := context.Memory()

	for i := 0; i < 1000000 && !emu.IsFinished(); i++ {
		emu.Run()
	}
	if !emu.IsFinished() {
		t.Fatalf("emulation did not finish")
	}

	return emu, context, memory
}

// write(1, "hi\n", 3); exit(0)
func TestHelloWorld(t *testing.T) {
	words := []uint32{
		0x3c050040, // lui   a1, 0x0040
		0x34a50040, // ori   a1, a1, 0x40
		0x24020fa4, // addiu v0, zero, 4004 (write)
		0x24040001, // addiu a0, zero, 1
		0x24060003, // addiu a2, zero, 3
		0x0000000c, // syscall
		0x24020fa1, // addiu v0, zero, 4001 (exit)
		0x24040000, // addiu a0, zero, 0
		0x0000000c, // syscall
	}
	image := buildImage(0x80, words, map[int][]byte{0x40: []byte("hi\n")})
	path := writeTestElf(t, testEntry, testEntry, image)

	stdout_path := filepath.Join(t.TempDir(), "stdout")
	emu, _, _ := runProgram(t, path, stdout_path)

	if emu.ExitCode() != 0 {
		t.Fatalf("exit code: got %d, want 0", emu.ExitCode())
	}
	content, err := os.ReadFile(stdout_path)
	if err != nil {
		t.Fatalf("cannot read redirected stdout: %v", err)
	}
	if string(content) != "hi\n" {
		t.Fatalf("stdout: got %q, want %q", content, "hi\n")
	}
}

func TestExitCodePropagates(t *testing.T) {
	words := []uint32{
		0x24020fa1, // addiu v0, zero, 4001
		0x24040007, // addiu a0, zero, 7
		0x0000000c, // syscall
	}
	image := buildImage(0x40, words, nil)
	path := writeTestElf(t, testEntry, testEntry, image)

	emu, _, _ := runProgram(t, path, "")
	if emu.ExitCode() != 7 {
		t.Fatalf("exit code: got %d, want 7", emu.ExitCode())
	}
}

// A taken branch executes its delay slot and skips the fall-through.
func TestBranchDelaySlot(t *testing.T) {
	words := []uint32{
		0x24080001, // addiu t0, zero, 1
		0x10000002, // beq zero, zero, +2 (to 0x10)
		0x24090007, // addiu t1, zero, 7   (delay slot, executes)
		0x240a0009, // addiu t2, zero, 9   (skipped)
		0x24020fa1, // addiu v0, zero, 4001
		0x24040000, // addiu a0, zero, 0
		0x0000000c, // syscall
	}
	image := buildImage(0x40, words, nil)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, context, _ := runProgram(t, path, "")
	regs := context.Regs().(*Regs)

	if regs.Gpr(8) != 1 || regs.Gpr(9) != 7 {
		t.Fatalf("delay slot not executed: t0=%d t1=%d", regs.Gpr(8), regs.Gpr(9))
	}
	if regs.Gpr(10) != 0 {
		t.Fatalf("fall-through executed despite taken branch: t2=%d", regs.Gpr(10))
	}
}

func TestAluOperations(t *testing.T) {
	words := []uint32{
		0x2408fffb, // addiu t0, zero, -5
		0x24090003, // addiu t1, zero, 3
		0x01095021, // addu  t2, t0, t1
		0x0109582a, // slt   t3, t0, t1
		0x0109602b, // sltu  t4, t0, t1
		0x01090018, // mult  t0, t1
		0x00006812, // mflo  t5
		0x00097100, // sll   t6, t1, 4
		0x3c0f1234, // lui   t7, 0x1234
		0x35ef5678, // ori   t7, t7, 0x5678
		0x24020fa1, // addiu v0, zero, 4001
		0x24040000, // addiu a0, zero, 0
		0x0000000c, // syscall
	}
	image := buildImage(0x40, words, nil)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, context, _ := runProgram(t, path, "")
	regs := context.Regs().(*Regs)

	if regs.Gpr(10) != 0xfffffffe {
		t.Fatalf("addu: got 0x%x", regs.Gpr(10))
	}
	if regs.Gpr(11) != 1 {
		t.Fatalf("slt signed: got %d", regs.Gpr(11))
	}
	if regs.Gpr(12) != 0 {
		t.Fatalf("sltu unsigned: got %d", regs.Gpr(12))
	}
	if regs.Gpr(13) != 0xfffffff1 {
		t.Fatalf("mult/mflo: got 0x%x", regs.Gpr(13))
	}
	if regs.Gpr(14) != 0x30 {
		t.Fatalf("sll: got 0x%x", regs.Gpr(14))
	}
	if regs.Gpr(15) != 0x12345678 {
		t.Fatalf("lui/ori: got 0x%x", regs.Gpr(15))
	}
}

func TestLoadsAndStores(t *testing.T) {
	words := []uint32{
		0x3c080040, // lui   t0, 0x0040
		0x35080100, // ori   t0, t0, 0x100
		0x24091234, // addiu t1, zero, 0x1234
		0xad090000, // sw    t1, 0(t0)
		0x8d0a0000, // lw    t2, 0(t0)
		0x810b0001, // lb    t3, 1(t0)
		0x910c0001, // lbu   t4, 1(t0)
		0x24020fa1, // addiu v0, zero, 4001
		0x24040000, // addiu a0, zero, 0
		0x0000000c, // syscall
	}
	image := buildImage(0x200, words, nil)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, context, _ := runProgram(t, path, "")
	regs := context.Regs().(*Regs)

	if regs.Gpr(10) != 0x1234 {
		t.Fatalf("lw: got 0x%x", regs.Gpr(10))
	}
	if regs.Gpr(11) != 0x12 || regs.Gpr(12) != 0x12 {
		t.Fatalf("lb/lbu: got 0x%x 0x%x", regs.Gpr(11), regs.Gpr(12))
	}
}

// A failing syscall follows the O32 convention: a3 set, v0 holds the
// positive errno.
func TestSyscallErrorConvention(t *testing.T) {
	words := []uint32{
		0x24020fa4, // addiu v0, zero, 4004 (write)
		0x24040037, // addiu a0, zero, 55 (bad fd)
		0x3c050040, // lui   a1, 0x0040
		0x24060001, // addiu a2, zero, 1
		0x0000000c, // syscall
		0x00408021, // addu  s0, v0, zero (save v0)
		0x00e08821, // addu  s1, a3, zero (save a3)
		0x24020fa1, // addiu v0, zero, 4001
		0x24040000, // addiu a0, zero, 0
		0x0000000c, // syscall
	}
	image := buildImage(0x80, words, nil)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, context, _ := runProgram(t, path, "")
	regs := context.Regs().(*Regs)

	if regs.Gpr(17) != 1 {
		t.Fatalf("a3 error flag: got %d, want 1", regs.Gpr(17))
	}
	if regs.Gpr(16) != kernel.ErrnoEBADF {
		t.Fatalf("errno in v0: got %d, want EBADF", regs.Gpr(16))
	}
}

func TestDecodeCoversMajorFormats(t *testing.T) {
	cases := []struct {
		raw  uint32
		want Opcode
	}{
		{0x24020fa4, OpcodeAddiu},
		{0x0000000c, OpcodeSyscall},
		{0x01095021, OpcodeAddu},
		{0x10000002, OpcodeBeq},
		{0x3c050040, OpcodeLui},
		{0x8d0a0000, OpcodeLw},
		{0xad090000, OpcodeSw},
		{0x08100000, OpcodeJ},
		{0x0c100000, OpcodeJal},
		{0x03e00008, OpcodeJr},
		{0x70821002, OpcodeMul},
		{0x7c0b1420, OpcodeSeb},
		{0x7c03e83b, OpcodeRdhwr},
		{0xffffffff, OpcodeInvalid},
	}

	for _, c := range cases {
		inst := Decode(0, c.raw)
		if inst.Opcode() != c.want {
			t.Fatalf("decode 0x%08x: got %d, want %d", c.raw, inst.Opcode(), c.want)
		}
	}
}
