package kernel

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// Fixed layout of the guest address space.
const (
	LoaderStackBase       = 0xc0000000
	LoaderStackSize       = 0x800000
	LoaderMmapBaseAddress = 0xb7fb0000
	LoaderPhdtBase        = 0xb0000000
	LoaderInterpBase      = 0xb7fc0000
	LoaderTrampolineAddr  = 0xffffe000
)

// Auxiliary vector entry types.
const (
	AtNull   = 0
	AtPhdr   = 3
	AtPhent  = 4
	AtPhnum  = 5
	AtPagesz = 6
	AtBase   = 7
	AtFlags  = 8
	AtEntry  = 9
	AtUid    = 11
	AtEuid   = 12
	AtGid    = 13
	AtEgid   = 14
	AtRandom = 25
)

var program_header_type_map = map[elf.ProgType]string{
	elf.PT_LOAD:   "PT_LOAD",
	elf.PT_INTERP: "PT_INTERP",
	elf.PT_PHDR:   "PT_PHDR",
	elf.PT_NOTE:   "PT_NOTE",
	elf.PT_DYNAMIC: "PT_DYNAMIC",
}

// Loader holds the once-per-image program loading state, shared among every
// context cloned from the same image.
type Loader struct {
	exe  string
	args []string
	env  []string

	interp string
	cwd    string

	stdin_file_name  string
	stdout_file_name string

	stack_base   uint32
	stack_top    uint32
	stack_size   uint32
	environ_base uint32

	// Lowest initialized address.
	bottom uint32

	prog_entry        uint32
	interp_prog_entry uint32

	phdt_base  uint32
	phdr_count uint32

	at_random_addr    uint32
	signal_trampoline uint32
}

func (this *Loader) Exe() string {
	return this.exe
}

func (this *Loader) Args() []string {
	return this.args
}

func (this *Loader) StackSize() uint32 {
	return this.stack_size
}

func (this *Loader) ProgEntry() uint32 {
	return this.prog_entry
}

func (this *Loader) InterpProgEntry() uint32 {
	return this.interp_prog_entry
}

// FullPath resolves path against the loader's working directory.
func (this *Loader) FullPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(this.cwd, path)
}

// LoadProgram creates the first context of a program image: memory, tables,
// binary, interpreter, stack and registers.
func (this *Emu) LoadProgram(
	exe string,
	args []string,
	env []string,
	cwd string,
	stdin_file_name string,
	stdout_file_name string,
) *Context {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	loader := new(Loader)
	loader.exe = exe
	loader.args = append([]string{exe}, args...)
	loader.env = env
	loader.cwd = cwd
	loader.stdin_file_name = stdin_file_name
	loader.stdout_file_name = stdout_file_name
	loader.stack_base = LoaderStackBase
	loader.stack_size = LoaderStackSize
	loader.stack_top = LoaderStackBase - LoaderStackSize
	loader.bottom = 0xffffffff

	context := this.NewContext()
	context.loader = loader
	if this.root == nil {
		this.root = context
	}

	context.memory = new(mem.Memory)
	context.memory.Init()
	context.spec_mem = new(mem.SpecMem)
	context.spec_mem.Init(context.memory)

	context.file_table = new(FileTable)
	context.file_table.Init()
	context.file_table.InitStdIo(stdin_file_name, stdout_file_name)

	context.signal_handler_table = new(SignalHandlerTable)
	context.signal_handler_table.Init()

	context.regs = this.arch.NewRegs()

	this.loadBinary(context)
	this.loadTrampoline(context)
	sp := this.loadStack(context)

	context.regs.SetSp(sp)
	if loader.interp_prog_entry != 0 {
		context.regs.SetPc(loader.interp_prog_entry)
	} else {
		context.regs.SetPc(loader.prog_entry)
	}

	context.SetState(StateRunning)

	this.debug_loader.Printf("program '%s' loaded: entry=0x%x, sp=0x%x, brk=0x%x\n",
		exe, context.regs.Pc(), sp, context.memory.HeapBreak())

	return context
}

func elfPerm(flags elf.ProgFlag) int {
	perm := mem.AccessInit
	if flags&elf.PF_R != 0 {
		perm |= mem.AccessRead
	}
	if flags&elf.PF_W != 0 {
		perm |= mem.AccessWrite
	}
	if flags&elf.PF_X != 0 {
		perm |= mem.AccessExec
	}
	return perm
}

// loadSegments maps the PT_LOAD segments of file at base, returning the
// highest mapped address.
func (this *Emu) loadSegments(context *Context, file *elf.File, base uint32) uint32 {
	top := uint32(0)
	loader := context.loader

	for _, prog := range file.Progs {
		this.debug_loader.Printf("  program header: type=%s, vaddr=0x%x, filesz=0x%x, memsz=0x%x\n",
			program_header_type_map[prog.Type], prog.Vaddr, prog.Filesz, prog.Memsz)

		if prog.Type != elf.PT_LOAD {
			continue
		}

		vaddr := base + uint32(prog.Vaddr)
		start := vaddr & mem.PageMask
		end := vaddr + uint32(prog.Memsz)
		context.memory.Map(start, end-start, elfPerm(prog.Flags))

		if prog.Filesz > 0 {
			data := make([]byte, prog.Filesz)
			if _, err := io.ReadFull(prog.Open(), data); err != nil {
				panic(fmt.Errorf("loader: cannot read segment of '%s': %v", loader.exe, err))
			}
			if err := context.memory.InitData(vaddr, uint32(prog.Filesz), data); err != nil {
				panic(fmt.Errorf("loader: cannot initialize segment at 0x%x: %v", vaddr, err))
			}
		}

		if vaddr < loader.bottom {
			loader.bottom = vaddr
		}
		if end > top {
			top = end
		}
	}

	return top
}

func (this *Emu) loadBinary(context *Context) {
	loader := context.loader

	path := loader.FullPath(loader.exe)
	file, err := elf.Open(path)
	if err != nil {
		panic(fmt.Errorf("loader: cannot open ELF binary '%s': %v", path, err))
	}
	defer file.Close()

	if file.Class != elf.ELFCLASS32 || file.Data != elf.ELFDATA2LSB {
		panic(fmt.Errorf("loader: '%s' is not a 32-bit little-endian ELF binary", path))
	}

	this.debug_loader.Printf("loading binary '%s'\n", path)

	top := this.loadSegments(context, file, 0)
	loader.prog_entry = uint32(file.Entry)

	// Program headers are copied into the image so the auxiliary vector can
	// point at them.
	this.loadProgramHeaders(context, file)

	// The heap starts at the first page above the loaded image.
	heap_break := (top + mem.PageSize - 1) & mem.PageMask
	context.memory.SetHeapBreak(heap_break)

	// Dynamic executables hand control to the interpreter first.
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, read_err := io.ReadFull(prog.Open(), data); read_err != nil {
			panic(fmt.Errorf("loader: cannot read PT_INTERP of '%s': %v", path, read_err))
		}
		for len(data) > 0 && data[len(data)-1] == 0 {
			data = data[:len(data)-1]
		}
		loader.interp = string(data)
	}
	if loader.interp != "" {
		this.loadInterp(context)
	}
}

// loadProgramHeaders serializes the Elf32 program header table into guest
// memory at the fixed header base.
func (this *Emu) loadProgramHeaders(context *Context, file *elf.File) {
	loader := context.loader

	phdr_size := uint32(32) // sizeof(Elf32_Phdr)
	count := uint32(len(file.Progs))

	table := make([]byte, phdr_size*count)
	for i, prog := range file.Progs {
		offset := i * int(phdr_size)
		le := binary.LittleEndian
		le.PutUint32(table[offset+0:], uint32(prog.Type))
		le.PutUint32(table[offset+4:], uint32(prog.Off))
		le.PutUint32(table[offset+8:], uint32(prog.Vaddr))
		le.PutUint32(table[offset+12:], uint32(prog.Paddr))
		le.PutUint32(table[offset+16:], uint32(prog.Filesz))
		le.PutUint32(table[offset+20:], uint32(prog.Memsz))
		le.PutUint32(table[offset+24:], uint32(prog.Flags))
		le.PutUint32(table[offset+28:], uint32(prog.Align))
	}

	context.memory.Map(LoaderPhdtBase, uint32(len(table)), mem.AccessInit|mem.AccessRead)
	if err := context.memory.InitData(LoaderPhdtBase, uint32(len(table)), table); err != nil {
		panic(fmt.Errorf("loader: cannot write program headers: %v", err))
	}

	loader.phdt_base = LoaderPhdtBase
	loader.phdr_count = count
}

func (this *Emu) loadInterp(context *Context) {
	loader := context.loader

	file, err := elf.Open(loader.interp)
	if err != nil {
		panic(fmt.Errorf("loader: cannot open interpreter '%s': %v", loader.interp, err))
	}
	defer file.Close()

	base := uint32(LoaderInterpBase)
	if file.Type == elf.ET_EXEC {
		base = 0
	}

	this.debug_loader.Printf("loading interpreter '%s' at base 0x%x\n", loader.interp, base)

	this.loadSegments(context, file, base)
	loader.interp_prog_entry = base + uint32(file.Entry)
}

// loadTrampoline plants the sigreturn code at the fixed trampoline page.
func (this *Emu) loadTrampoline(context *Context) {
	loader := context.loader

	code := this.arch.SignalReturnCode()
	context.memory.Map(LoaderTrampolineAddr, mem.PageSize,
		mem.AccessInit|mem.AccessRead|mem.AccessExec)
	if err := context.memory.InitData(LoaderTrampolineAddr, uint32(len(code)), code); err != nil {
		panic(fmt.Errorf("loader: cannot write signal trampoline: %v", err))
	}
	loader.signal_trampoline = LoaderTrampolineAddr
}

// loadStack maps the stack and builds the initial program stack: argc, the
// argv and envp pointer arrays, the auxiliary vector, the strings they
// reference and the random bytes. Returns the initial stack pointer.
func (this *Emu) loadStack(context *Context) uint32 {
	loader := context.loader

	context.memory.Map(loader.stack_top, loader.stack_size,
		mem.AccessInit|mem.AccessRead|mem.AccessWrite)

	sp := loader.stack_base

	// Random bytes for AT_RANDOM.
	random := []byte{
		0x3a, 0x91, 0x5c, 0xe7, 0x08, 0xd4, 0x26, 0xbf,
		0x71, 0x0e, 0xa9, 0x42, 0x9d, 0x63, 0xf8, 0x15,
	}
	sp -= 16
	loader.at_random_addr = sp
	context.memory.Write(sp, 16, random)

	writeString := func(s string) uint32 {
		sp -= uint32(len(s) + 1)
		context.memory.WriteString(sp, s)
		return sp
	}

	arg_ptrs := make([]uint32, len(loader.args))
	for i, arg := range loader.args {
		arg_ptrs[i] = writeString(arg)
	}
	env_ptrs := make([]uint32, len(loader.env))
	for i, env := range loader.env {
		env_ptrs[i] = writeString(env)
	}

	sp &^= 15

	auxv := [][2]uint32{
		{AtPhdr, loader.phdt_base},
		{AtPhent, 32},
		{AtPhnum, loader.phdr_count},
		{AtPagesz, mem.PageSize},
		{AtBase, func() uint32 {
			if loader.interp_prog_entry != 0 {
				return LoaderInterpBase
			}
			return 0
		}()},
		{AtFlags, 0},
		{AtEntry, loader.prog_entry},
		{AtUid, uint32(os.Getuid())},
		{AtEuid, uint32(os.Geteuid())},
		{AtGid, uint32(os.Getgid())},
		{AtEgid, uint32(os.Getegid())},
		{AtRandom, loader.at_random_addr},
		{AtNull, 0},
	}

	sp -= uint32(len(auxv) * 8)
	auxv_base := sp
	sp -= uint32((len(env_ptrs) + 1) * 4)
	environ_base := sp
	sp -= uint32((len(arg_ptrs) + 1) * 4)
	argv_base := sp
	sp -= 4

	loader.environ_base = environ_base

	context.memory.WriteWord(sp, uint32(len(arg_ptrs)))
	for i, ptr := range arg_ptrs {
		context.memory.WriteWord(argv_base+uint32(i*4), ptr)
	}
	context.memory.WriteWord(argv_base+uint32(len(arg_ptrs)*4), 0)
	for i, ptr := range env_ptrs {
		context.memory.WriteWord(environ_base+uint32(i*4), ptr)
	}
	context.memory.WriteWord(environ_base+uint32(len(env_ptrs)*4), 0)
	for i, entry := range auxv {
		context.memory.WriteWord(auxv_base+uint32(i*8), entry[0])
		context.memory.WriteWord(auxv_base+uint32(i*8+4), entry[1])
	}

	return sp
}
