package x86

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/kernel"
	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// writeTestElf emits a minimal 32-bit little-endian i386 executable with
// one RWX PT_LOAD segment holding image at vaddr.
func writeTestElf(t *testing.T, vaddr uint32, entry uint32, image []byte) string {
	t.Helper()

	le := binary.LittleEndian
	header := make([]byte, 52+32)

	copy(header, []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	le.PutUint16(header[16:], 2) // ET_EXEC
	le.PutUint16(header[18:], 3) // EM_386
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

const testEntry = 0x08048000

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
	code := []byte{
		0xb8, 0x04, 0x00, 0x00, 0x00, // mov eax, 4 (write)
		0xbb, 0x01, 0x00, 0x00, 0x00, // mov ebx, 1
		0xb9, 0x40, 0x80, 0x04, 0x08, // mov ecx, 0x08048040
		0xba, 0x03, 0x00, 0x00, 0x00, // mov edx, 3
		0xcd, 0x80, // int 0x80
		0xb8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1 (exit)
		0xbb, 0x00, 0x00, 0x00, 0x00, // mov ebx, 0
		0xcd, 0x80, // int 0x80
	}
	image := make([]byte, 0x80)
	copy(image, code)
	copy(image[0x40:], "hi\n")
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

func TestAluFlagsAndBranches(t *testing.T) {
	code := []byte{
		0xb8, 0x05, 0x00, 0x00, 0x00, // mov eax, 5
		0x83, 0xe8, 0x03, // sub eax, 3
		0x83, 0xf8, 0x02, // cmp eax, 2
		0x74, 0x05, // je +5
		0xbe, 0x01, 0x00, 0x00, 0x00, // mov esi, 1 (skipped)
		0xbf, 0x09, 0x00, 0x00, 0x00, // mov edi, 9
		0x50,       // push eax
		0x5a,       // pop edx
		0xb8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
		0xbb, 0x00, 0x00, 0x00, 0x00, // mov ebx, 0
		0xcd, 0x80, // int 0x80
	}
	image := make([]byte, 0x40)
	copy(image, code)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, context, _ := runProgram(t, path, "")
	regs := context.Regs().(*Regs)

	if regs.Gpr(regEsi) != 0 {
		t.Fatalf("je not taken: esi=%d", regs.Gpr(regEsi))
	}
	if regs.Gpr(regEdi) != 9 {
		t.Fatalf("branch target not reached: edi=%d", regs.Gpr(regEdi))
	}
	if regs.Gpr(regEdx) != 2 {
		t.Fatalf("push/pop: edx=%d, want 2", regs.Gpr(regEdx))
	}
}

func TestCallRetAndMemory(t *testing.T) {
	code := []byte{
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, 0
		0xe8, 0x07, 0x00, 0x00, 0x00, // call +7 (to 0x11)
		0xa3, 0x40, 0x80, 0x04, 0x08, // mov [0x08048040], eax
		0xeb, 0x06, // jmp +6 (to 0x17)
		0xb8, 0x2a, 0x00, 0x00, 0x00, // 0x11: mov eax, 42
		0xc3,       // ret
		0xb8, 0x01, 0x00, 0x00, 0x00, // 0x17: mov eax, 1
		0xbb, 0x00, 0x00, 0x00, 0x00, // mov ebx, 0
		0xcd, 0x80, // int 0x80
	}
	image := make([]byte, 0x80)
	copy(image, code)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, _, memory := runProgram(t, path, "")

	value, _ := memory.ReadWord(0x08048040)
	if value != 42 {
		t.Fatalf("call/ret result: got %d, want 42", value)
	}
}

func TestDecodeSubset(t *testing.T) {
	cases := []struct {
		code []byte
		want Opcode
		size uint32
	}{
		{[]byte{0xb8, 1, 0, 0, 0}, OpcodeMovRegImm, 5},
		{[]byte{0x89, 0xd8}, OpcodeMovRmReg, 2},
		{[]byte{0x8b, 0x44, 0x24, 0x04}, OpcodeMovRegRm, 4},
		{[]byte{0x83, 0xc0, 0x01}, OpcodeAluRmImm, 3},
		{[]byte{0xcd, 0x80}, OpcodeInt, 2},
		{[]byte{0x0f, 0x84, 0, 0, 0, 0}, OpcodeJcc, 6},
		{[]byte{0x0f, 0xb6, 0xc0}, OpcodeMovzxRm8, 3},
		{[]byte{0xf0, 0x0f, 0xb1, 0x0b}, OpcodeCmpxchg, 4},
		{[]byte{0xc3}, OpcodeRet, 1},
		{[]byte{0x0f, 0xff}, OpcodeInvalid, 2},
	}

	for _, c := range cases {
		inst := Decode(0, c.code)
		if inst.Opcode() != c.want {
			t.Fatalf("decode % x: got %d, want %d", c.code, inst.Opcode(), c.want)
		}
		if inst.Opcode() != OpcodeInvalid && inst.Size() != c.size {
			t.Fatalf("decode % x: size %d, want %d", c.code, inst.Size(), c.size)
		}
	}
}

func TestLockedCmpxchg(t *testing.T) {
	code := []byte{
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, 0 (expected old value)
		0xbb, 0x01, 0x00, 0x00, 0x00, // mov ebx, 1 (new value)
		0xb9, 0x40, 0x80, 0x04, 0x08, // mov ecx, 0x08048040
		0xf0, 0x0f, 0xb1, 0x19, // lock cmpxchg [ecx], ebx
		0xb8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
		0xbb, 0x00, 0x00, 0x00, 0x00, // mov ebx, 0
		0xcd, 0x80, // int 0x80
	}
	image := make([]byte, 0x80)
	copy(image, code)
	path := writeTestElf(t, testEntry, testEntry, image)

	_, _, memory := runProgram(t, path, "")

	value, _ := memory.ReadWord(0x08048040)
	if value != 1 {
		t.Fatalf("cmpxchg did not install the new value: got %d", value)
	}
}
