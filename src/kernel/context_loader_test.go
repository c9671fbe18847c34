package kernel

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// writeTestElf emits a minimal 32-bit little-endian executable with one
// RWX PT_LOAD segment holding image at vaddr.
func writeTestElf(t *testing.T, machine uint16, vaddr uint32, entry uint32, image []byte) string {
	t.Helper()

	le := binary.LittleEndian
	header := make([]byte, 52+32)

	copy(header, []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	le.PutUint16(header[16:], 2) // ET_EXEC
	le.PutUint16(header[18:], machine)
	le.PutUint32(header[20:], 1)
	le.PutUint32(header[24:], entry)
	le.PutUint32(header[28:], 52) // phoff
	le.PutUint32(header[32:], 0)  // shoff
	le.PutUint32(header[36:], 0)  // flags
	le.PutUint16(header[40:], 52) // ehsize
	le.PutUint16(header[42:], 32) // phentsize
	le.PutUint16(header[44:], 1)  // phnum

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

const elfMachineMips = 8

func TestLoaderBuildsInitialStack(t *testing.T) {
	emu := newTestEmu()

	image := make([]byte, 64)
	entry := uint32(0x00400000)
	path := writeTestElf(t, elfMachineMips, entry, entry, image)

	context := emu.LoadProgram(path, []string{"alpha", "beta"}, []string{"TERM=dumb"},
		"", "", "")

	if context.Regs().Pc() != entry {
		t.Fatalf("entry: got 0x%x, want 0x%x", context.Regs().Pc(), entry)
	}

	memory := context.Memory()
	sp := context.Regs().Sp()

	argc, _ := memory.ReadWord(sp)
	if argc != 3 {
		t.Fatalf("argc: got %d, want 3", argc)
	}

	// argv[0] is the binary path, then the provided arguments, then NULL.
	argv0_ptr, _ := memory.ReadWord(sp + 4)
	argv0, err := memory.ReadString(argv0_ptr)
	if err != nil || argv0 != path {
		t.Fatalf("argv[0]: got %q (%v)", argv0, err)
	}
	argv2_ptr, _ := memory.ReadWord(sp + 12)
	argv2, _ := memory.ReadString(argv2_ptr)
	if argv2 != "beta" {
		t.Fatalf("argv[2]: got %q", argv2)
	}
	if null, _ := memory.ReadWord(sp + 16); null != 0 {
		t.Fatalf("argv not NULL-terminated")
	}

	// envp runs to its own NULL.
	env_ptr, _ := memory.ReadWord(sp + 20)
	env, _ := memory.ReadString(env_ptr)
	if env != "TERM=dumb" {
		t.Fatalf("envp[0]: got %q", env)
	}
	if null, _ := memory.ReadWord(sp + 24); null != 0 {
		t.Fatalf("envp not NULL-terminated")
	}

	// Auxiliary vector follows.
	auxv := map[uint32]uint32{}
	for at := sp + 28; ; at += 8 {
		key, _ := memory.ReadWord(at)
		value, _ := memory.ReadWord(at + 4)
		auxv[key] = value
		if key == AtNull {
			break
		}
	}

	if auxv[AtPagesz] != mem.PageSize {
		t.Fatalf("AT_PAGESZ: got %d", auxv[AtPagesz])
	}
	if auxv[AtPhnum] != 1 {
		t.Fatalf("AT_PHNUM: got %d", auxv[AtPhnum])
	}
	if auxv[AtPhdr] != LoaderPhdtBase {
		t.Fatalf("AT_PHDR: got 0x%x", auxv[AtPhdr])
	}
	if auxv[AtEntry] != entry {
		t.Fatalf("AT_ENTRY: got 0x%x", auxv[AtEntry])
	}

	// AT_RANDOM points at 16 readable bytes.
	random := make([]byte, 16)
	if err := memory.Read(auxv[AtRandom], 16, random); err != nil {
		t.Fatalf("AT_RANDOM unreadable: %v", err)
	}

	// The sigreturn trampoline is planted and executable.
	code := make([]byte, 4)
	if err := memory.ReadExec(LoaderTrampolineAddr, 4, code); err != nil {
		t.Fatalf("trampoline not executable: %v", err)
	}

	// The heap starts above the loaded image.
	if memory.HeapBreak() < entry+uint32(len(image)) {
		t.Fatalf("heap break 0x%x below the image top", memory.HeapBreak())
	}
}

func TestLoaderMapsSegmentData(t *testing.T) {
	emu := newTestEmu()

	image := []byte{0x11, 0x22, 0x33, 0x44}
	entry := uint32(0x00400000)
	path := writeTestElf(t, elfMachineMips, entry, entry, image)

	context := emu.LoadProgram(path, nil, nil, "", "", "")

	buf := make([]byte, 4)
	if err := context.Memory().ReadExec(entry, 4, buf); err != nil {
		t.Fatalf("segment not executable: %v", err)
	}
	for i, want := range image {
		if buf[i] != want {
			t.Fatalf("segment byte %d: got 0x%x, want 0x%x", i, buf[i], want)
		}
	}
}

func TestLoaderRejectsNonElf(t *testing.T) {
	emu := newTestEmu()

	path := filepath.Join(t.TempDir(), "not_an_elf")
	os.WriteFile(path, []byte("plain text"), 0o644)

	defer func() {
		if recover() == nil {
			t.Fatalf("loading a non-ELF file must be fatal")
		}
	}()

	emu.LoadProgram(path, nil, nil, "", "", "")
}
