package kernel

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ApoorvaMN/SWLTP/src/mem"
	"golang.org/x/sys/unix"
)

type syscallFn func(*Context) int32

var execute_syscall_fn = [SyscallCodeCount]syscallFn{
	SyscallCodeExit:          (*Context).sysExit,
	SyscallCodeRead:          (*Context).sysRead,
	SyscallCodeWrite:         (*Context).sysWrite,
	SyscallCodeOpen:          (*Context).sysOpen,
	SyscallCodeClose:         (*Context).sysClose,
	SyscallCodeWaitpid:       (*Context).sysWaitpid,
	SyscallCodeUnlink:        (*Context).sysUnlink,
	SyscallCodeTime:          (*Context).sysTime,
	SyscallCodeAccess:        (*Context).sysAccess,
	SyscallCodeBrk:           (*Context).sysBrk,
	SyscallCodeGetpid:        (*Context).sysGetpid,
	SyscallCodeMmap:          (*Context).sysMmap,
	SyscallCodeMunmap:        (*Context).sysMunmap,
	SyscallCodeMprotect:      (*Context).sysMprotect,
	SyscallCodeUname:         (*Context).sysUname,
	SyscallCodeSigreturn:     (*Context).sysSigreturn,
	SyscallCodeClone:         (*Context).sysClone,
	SyscallCodeGetrlimit:     (*Context).sysGetrlimit,
	SyscallCodeMmap2:         (*Context).sysMmap2,
	SyscallCodeFstat64:       (*Context).sysFstat64,
	SyscallCodeNanosleep:     (*Context).sysNanosleep,
	SyscallCodeRtSigaction:   (*Context).sysRtSigaction,
	SyscallCodeRtSigprocmask: (*Context).sysRtSigprocmask,
	SyscallCodeGetuid:        (*Context).sysGetuid,
	SyscallCodeGetgid:        (*Context).sysGetgid,
	SyscallCodeGeteuid:       (*Context).sysGeteuid,
	SyscallCodeGetegid:       (*Context).sysGetegid,
	SyscallCodeGettimeofday:  (*Context).sysGettimeofday,
	SyscallCodeWritev:        (*Context).sysWritev,
	SyscallCodeLlseek:        (*Context).sysLlseek,
	SyscallCodeExitGroup:     (*Context).sysExitGroup,
	SyscallCodeSetThreadArea: (*Context).sysSetThreadArea,
	SyscallCodeFutex:         (*Context).sysFutex,
	SyscallCodeSetTidAddress: (*Context).sysSetTidAddress,
	SyscallCodeSetRobustList: (*Context).sysSetRobustList,
}

func (this *Context) syscallArg(index int) uint32 {
	return this.regs.SyscallArg(index, this.memory)
}

// ExecuteSyscall is the entry point from the ISA executors: dispatch on the
// ABI syscall number, run the handler, and write the return register unless
// the handler suspended the context (the wakeup path provides the final
// return value then) or was sigreturn (which rewrote the register file).
func (this *Context) ExecuteSyscall() {
	raw := this.regs.SyscallCode()
	code, ok := this.emu.arch.MapSyscall(raw)
	if !ok || code <= SyscallCodeInvalid || code >= SyscallCodeCount {
		panic(fmt.Errorf("syscall: invalid system call code %d (pid %d)", raw, this.pid))
	}

	fn := execute_syscall_fn[code]
	if fn == nil {
		panic(fmt.Errorf("syscall '%s': unimplemented system call (code %d, pid %d)",
			SyscallName(code), raw, this.pid))
	}

	this.emu.debug_syscall.Printf("system call '%s' (code %d, inst %d, pid %d)\n",
		SyscallName(code), raw, this.emu.instructions, this.pid)

	ret := fn(this)

	if code != SyscallCodeSigreturn && !this.GetState(StateSuspended) {
		this.regs.SetSyscallRet(ret)
	}

	this.emu.debug_syscall.Printf("  ret = (%d, 0x%x)", ret, uint32(ret))
	if ret < 0 && ret >= -ErrnoMax {
		this.emu.debug_syscall.Printf(", errno = %s", syscall_error_map.MapValue(int(-ret)))
	}
	this.emu.debug_syscall.Printf("\n")
}

//
// Process lifetime
//

func (this *Context) sysExit() int32 {
	status := int(int32(this.syscallArg(0)))
	this.emu.debug_syscall.Printf("  status=0x%x\n", status)

	this.Finish(status)
	return 0
}

func (this *Context) sysExitGroup() int32 {
	status := int(int32(this.syscallArg(0)))
	this.emu.debug_syscall.Printf("  status=%d\n", status)

	this.FinishGroup(status)
	return 0
}

func (this *Context) sysGetpid() int32 {
	return int32(this.pid)
}

func (this *Context) sysGetuid() int32 {
	return int32(os.Getuid())
}

func (this *Context) sysGetgid() int32 {
	return int32(os.Getgid())
}

func (this *Context) sysGeteuid() int32 {
	return int32(os.Geteuid())
}

func (this *Context) sysGetegid() int32 {
	return int32(os.Getegid())
}

//
// File I/O
//

func (this *Context) sysRead() int32 {
	guest_fd := int(int32(this.syscallArg(0)))
	buf_ptr := this.syscallArg(1)
	count := this.syscallArg(2)
	this.emu.debug_syscall.Printf("  guest_fd=%d, buf_ptr=0x%x, count=0x%x\n",
		guest_fd, buf_ptr, count)

	desc := this.file_table.FileDesc(guest_fd)
	if desc == nil {
		return -ErrnoEBADF
	}
	host_fd := desc.host_fd
	this.emu.debug_syscall.Printf("  host_fd=%d\n", host_fd)

	// Non-blocking read
	if hostPollIn(host_fd) || desc.flags&openNonblock != 0 {
		buf := make([]byte, count)
		n, err := unix.Read(host_fd, buf)
		if err != nil {
			return -hostErrno(err)
		}
		if n > 0 {
			if write_err := this.memory.Write(buf_ptr, uint32(n), buf[:n]); write_err != nil {
				return -ErrnoEFAULT
			}
		}
		return int32(n)
	}

	// Blocking read - suspend thread. The value returned here is not
	// written to the register, since the context is suspended; the
	// wakeup writes the result.
	this.emu.debug_syscall.Printf("  blocking read - process suspended\n")
	this.wakeup_fd = guest_fd
	this.wakeup_events = 1 // POLLIN
	this.wakeup_buf_ptr = buf_ptr
	this.wakeup_count = count
	this.Suspend(StateRead)
	return 0
}

func (this *Context) sysWrite() int32 {
	guest_fd := int(int32(this.syscallArg(0)))
	buf_ptr := this.syscallArg(1)
	count := this.syscallArg(2)
	this.emu.debug_syscall.Printf("  guest_fd=%d, buf_ptr=0x%x, count=0x%x\n",
		guest_fd, buf_ptr, count)

	desc := this.file_table.FileDesc(guest_fd)
	if desc == nil {
		return -ErrnoEBADF
	}
	host_fd := desc.host_fd
	this.emu.debug_syscall.Printf("  host_fd=%d\n", host_fd)

	buf := make([]byte, count)
	if read_err := this.memory.Read(buf_ptr, count, buf); read_err != nil {
		return -ErrnoEFAULT
	}

	// Non-blocking write
	if hostPollOut(host_fd) {
		n, err := unix.Write(host_fd, buf)
		if err != nil {
			return -hostErrno(err)
		}
		return int32(n)
	}

	// Blocking write - suspend thread
	this.emu.debug_syscall.Printf("  blocking write - process suspended\n")
	this.wakeup_fd = guest_fd
	this.wakeup_buf_ptr = buf_ptr
	this.wakeup_count = count
	this.Suspend(StateWrite)
	return 0
}

// openHostFile translates guest open flags to host flags. Only the flag
// bits in the guest map are honored; host header values never leak in.
func openHostFile(path string, guest_flags int, mode uint32) (int, error) {
	host_flags := 0
	switch guest_flags & 0o3 {
	case openWriteOnly:
		host_flags |= unix.O_WRONLY
	case openReadWrite:
		host_flags |= unix.O_RDWR
	default:
		host_flags |= unix.O_RDONLY
	}
	if guest_flags&openCreat != 0 {
		host_flags |= unix.O_CREAT
	}
	if guest_flags&openExcl != 0 {
		host_flags |= unix.O_EXCL
	}
	if guest_flags&openTrunc != 0 {
		host_flags |= unix.O_TRUNC
	}
	if guest_flags&openAppend != 0 {
		host_flags |= unix.O_APPEND
	}
	if guest_flags&openNonblock != 0 {
		host_flags |= unix.O_NONBLOCK
	}

	return unix.Open(path, host_flags, mode)
}

func (this *Context) sysOpen() int32 {
	file_name_ptr := this.syscallArg(0)
	flags := int(int32(this.syscallArg(1)))
	mode := this.syscallArg(2)

	file_name, err := this.memory.ReadString(file_name_ptr)
	if err != nil {
		return -ErrnoEFAULT
	}
	full_path := this.loader.FullPath(file_name)
	this.emu.debug_syscall.Printf("  filename='%s' flags=0x%x, mode=0x%x\n",
		file_name, flags, mode)
	this.emu.debug_syscall.Printf("  fullpath='%s'\n", full_path)
	this.emu.debug_syscall.Printf("  flags=%s\n", open_flags_map.MapFlags(flags))

	// Virtual files
	if strings.HasPrefix(full_path, "/proc/") {
		if desc := this.openVirtualFile(full_path, flags); desc != nil {
			return int32(desc.guest_index)
		}
		this.emu.debug_syscall.Printf("    warning: unhandled virtual file\n")
	}

	// Regular file.
	host_fd, open_err := openHostFile(full_path, flags, mode)
	if open_err != nil {
		return -hostErrno(open_err)
	}

	desc := this.file_table.NewFileDesc(FileDescRegular, host_fd, full_path, flags)
	this.emu.debug_syscall.Printf("    file descriptor opened: guest_fd=%d, host_fd=%d\n",
		desc.guest_index, desc.host_fd)

	return int32(desc.guest_index)
}

func (this *Context) sysClose() int32 {
	guest_fd := int(int32(this.syscallArg(0)))
	this.emu.debug_syscall.Printf("  guest_fd=%d\n", guest_fd)

	desc := this.file_table.FileDesc(guest_fd)
	if desc == nil {
		return -ErrnoEBADF
	}

	// Never close the host's standard streams.
	if desc.host_fd > 2 {
		unix.Close(desc.host_fd)
	}

	if desc.kind == FileDescVirtual {
		this.emu.debug_syscall.Printf("    host file '%s': temporary file deleted\n", desc.path)
	}
	this.file_table.FreeFileDesc(guest_fd)

	return 0
}

func (this *Context) sysUnlink() int32 {
	file_name_ptr := this.syscallArg(0)
	file_name, err := this.memory.ReadString(file_name_ptr)
	if err != nil {
		return -ErrnoEFAULT
	}
	full_path := this.loader.FullPath(file_name)
	this.emu.debug_syscall.Printf("  file_name=%s, full_path=%s\n", file_name, full_path)

	if unlink_err := unix.Unlink(full_path); unlink_err != nil {
		return -hostErrno(unlink_err)
	}
	return 0
}

func (this *Context) sysAccess() int32 {
	file_name_ptr := this.syscallArg(0)
	mode := this.syscallArg(1)

	file_name, err := this.memory.ReadString(file_name_ptr)
	if err != nil {
		return -ErrnoEFAULT
	}
	full_path := this.loader.FullPath(file_name)
	this.emu.debug_syscall.Printf("  file_name='%s', mode=0x%x\n", file_name, mode)

	if access_err := unix.Access(full_path, mode); access_err != nil {
		return -hostErrno(access_err)
	}
	return 0
}

func (this *Context) sysLlseek() int32 {
	guest_fd := int(int32(this.syscallArg(0)))
	offset_high := this.syscallArg(1)
	offset_low := this.syscallArg(2)
	result_ptr := this.syscallArg(3)
	whence := int(this.syscallArg(4))
	offset := int64(offset_high)<<32 | int64(offset_low)
	this.emu.debug_syscall.Printf("  guest_fd=%d, offset=%d, result_ptr=0x%x, whence=%d\n",
		guest_fd, offset, result_ptr, whence)

	host_fd := this.file_table.HostIndex(guest_fd)
	if host_fd < 0 {
		return -ErrnoEBADF
	}

	result, err := unix.Seek(host_fd, offset, whence)
	if err != nil {
		return -hostErrno(err)
	}
	if result_ptr != 0 {
		this.memory.WriteWord(result_ptr, uint32(result))
		this.memory.WriteWord(result_ptr+4, uint32(result>>32))
	}
	return 0
}

func (this *Context) sysWritev() int32 {
	guest_fd := int(int32(this.syscallArg(0)))
	iov_ptr := this.syscallArg(1)
	iov_count := int(this.syscallArg(2))
	this.emu.debug_syscall.Printf("  guest_fd=%d, iov_ptr=0x%x, iov_count=%d\n",
		guest_fd, iov_ptr, iov_count)

	host_fd := this.file_table.HostIndex(guest_fd)
	if host_fd < 0 {
		return -ErrnoEBADF
	}

	total := int32(0)
	for i := 0; i < iov_count; i++ {
		base, err1 := this.memory.ReadWord(iov_ptr + uint32(i*8))
		length, err2 := this.memory.ReadWord(iov_ptr + uint32(i*8+4))
		if err1 != nil || err2 != nil {
			return -ErrnoEFAULT
		}
		if length == 0 {
			continue
		}
		buf := make([]byte, length)
		if err := this.memory.Read(base, length, buf); err != nil {
			return -ErrnoEFAULT
		}
		n, write_err := unix.Write(host_fd, buf)
		if write_err != nil {
			return -hostErrno(write_err)
		}
		total += int32(n)
		if n < int(length) {
			break
		}
	}

	return total
}

func (this *Context) sysFstat64() int32 {
	guest_fd := int(int32(this.syscallArg(0)))
	statbuf_ptr := this.syscallArg(1)
	this.emu.debug_syscall.Printf("  fd=%d, statbuf_ptr=0x%x\n", guest_fd, statbuf_ptr)

	host_fd := this.file_table.HostIndex(guest_fd)
	this.emu.debug_syscall.Printf("  host_fd=%d\n", host_fd)
	if host_fd < 0 {
		return -ErrnoEBADF
	}

	var statbuf unix.Stat_t
	if err := unix.Fstat(host_fd, &statbuf); err != nil {
		return -hostErrno(err)
	}

	// Guest struct stat64, i386 layout, 96 bytes packed.
	guest := make([]byte, 96)
	le := binary.LittleEndian
	le.PutUint64(guest[0:], statbuf.Dev)
	le.PutUint32(guest[12:], uint32(statbuf.Ino))
	le.PutUint32(guest[16:], statbuf.Mode)
	le.PutUint32(guest[20:], uint32(statbuf.Nlink))
	le.PutUint32(guest[24:], statbuf.Uid)
	le.PutUint32(guest[28:], statbuf.Gid)
	le.PutUint64(guest[32:], statbuf.Rdev)
	le.PutUint64(guest[44:], uint64(statbuf.Size))
	le.PutUint32(guest[52:], uint32(statbuf.Blksize))
	le.PutUint64(guest[56:], uint64(statbuf.Blocks))
	le.PutUint32(guest[64:], uint32(statbuf.Atim.Sec))
	le.PutUint32(guest[68:], uint32(statbuf.Atim.Nsec))
	le.PutUint32(guest[72:], uint32(statbuf.Mtim.Sec))
	le.PutUint32(guest[76:], uint32(statbuf.Mtim.Nsec))
	le.PutUint32(guest[80:], uint32(statbuf.Ctim.Sec))
	le.PutUint32(guest[84:], uint32(statbuf.Ctim.Nsec))
	le.PutUint64(guest[88:], statbuf.Ino)

	if err := this.memory.Write(statbuf_ptr, uint32(len(guest)), guest); err != nil {
		return -ErrnoEFAULT
	}
	return 0
}

//
// Time
//

func (this *Context) sysTime() int32 {
	time_ptr := this.syscallArg(0)
	this.emu.debug_syscall.Printf("  ptime=0x%x\n", time_ptr)

	t := int32(time.Now().Unix())
	if time_ptr != 0 {
		this.memory.WriteWord(time_ptr, uint32(t))
	}
	return t
}

func (this *Context) sysGettimeofday() int32 {
	tv_ptr := this.syscallArg(0)
	tz_ptr := this.syscallArg(1)
	this.emu.debug_syscall.Printf("  tv_ptr=0x%x, tz_ptr=0x%x\n", tv_ptr, tz_ptr)

	now := time.Now()
	if tv_ptr != 0 {
		this.memory.WriteWord(tv_ptr, uint32(now.Unix()))
		this.memory.WriteWord(tv_ptr+4, uint32(now.Nanosecond()/1000))
	}
	if tz_ptr != 0 {
		this.memory.WriteWord(tz_ptr, 0)
		this.memory.WriteWord(tz_ptr+4, 0)
	}
	return 0
}

func (this *Context) sysNanosleep() int32 {
	rqtp := this.syscallArg(0)
	rmtp := this.syscallArg(1)
	this.emu.debug_syscall.Printf("  rqtp=0x%x, rmtp=0x%x\n", rqtp, rmtp)

	sec, err1 := this.memory.ReadWord(rqtp)
	nsec, err2 := this.memory.ReadWord(rqtp + 4)
	if err1 != nil || err2 != nil {
		return -ErrnoEFAULT
	}

	// Sleep interval truncated to whole microseconds.
	total := int64(sec)*1000000 + int64(nsec/1000)
	this.emu.debug_syscall.Printf("  sleep time (us): %d\n", total)

	this.wakeup_time = this.emu.engine.RealTime() + total
	this.Suspend(StateNanosleep)
	return 0
}

//
// Memory management
//

func (this *Context) sysBrk() int32 {
	new_heap_break := this.syscallArg(0)
	old_heap_break := this.memory.HeapBreak()
	this.emu.debug_syscall.Printf("  newbrk=0x%x (previous brk was 0x%x)\n",
		new_heap_break, old_heap_break)

	new_aligned := (new_heap_break + mem.PageSize - 1) & mem.PageMask
	old_aligned := (old_heap_break + mem.PageSize - 1) & mem.PageMask

	// brk(0) reports the current top of the heap.
	if new_heap_break == 0 {
		return int32(old_heap_break)
	}

	if new_heap_break > old_heap_break {
		size := new_aligned - old_aligned
		if size > 0 {
			if this.memory.MapSpace(old_aligned, size) != old_aligned {
				panic(fmt.Errorf("syscall brk: out of guest memory (pid %d)", this.pid))
			}
			this.memory.Map(old_aligned, size, mem.AccessRead|mem.AccessWrite)
		}
		this.memory.SetHeapBreak(new_heap_break)
		this.emu.debug_syscall.Printf("  heap grows %d bytes\n",
			new_heap_break-old_heap_break)
		return int32(new_heap_break)
	}

	// Shrinking is always allowed.
	if new_heap_break < old_heap_break {
		size := old_aligned - new_aligned
		if size > 0 {
			this.memory.Unmap(new_aligned, size)
		}
		this.memory.SetHeapBreak(new_heap_break)
		this.emu.debug_syscall.Printf("  heap shrinks %d bytes\n",
			old_heap_break-new_heap_break)
		return int32(new_heap_break)
	}

	return int32(new_heap_break)
}

// mmapAux is the shared body of mmap and mmap2; offset is in bytes here.
func (this *Context) mmapAux(addr uint32, length uint32, prot int, flags int, guest_fd int, offset uint32) int32 {
	desc := this.file_table.FileDesc(guest_fd)
	host_fd := -1
	if desc != nil {
		host_fd = desc.host_fd
	}
	if guest_fd > 0 && host_fd < 0 {
		panic(fmt.Errorf("syscall mmap: invalid guest descriptor %d (pid %d)", guest_fd, this.pid))
	}

	perm := mem.AccessInit
	if prot&protRead != 0 {
		perm |= mem.AccessRead
	}
	if prot&protWrite != 0 {
		perm |= mem.AccessWrite
	}
	if prot&protExec != 0 {
		perm |= mem.AccessExec
	}

	if flags&mapAnonymous != 0 {
		host_fd = -1
	}

	if offset&^mem.PageMask != 0 {
		panic(fmt.Errorf("syscall mmap: unaligned offset 0x%x (pid %d)", offset, this.pid))
	}
	if addr&^mem.PageMask != 0 {
		panic(fmt.Errorf("syscall mmap: unaligned address 0x%x (pid %d)", addr, this.pid))
	}
	len_aligned := (length + mem.PageSize - 1) & mem.PageMask

	if flags&mapFixed != 0 {
		if addr == 0 {
			panic(fmt.Errorf("syscall mmap: no start specified for fixed mapping (pid %d)", this.pid))
		}
		this.memory.Unmap(addr, len_aligned)
	} else {
		if addr == 0 || this.memory.MapSpaceDown(addr, len_aligned) != addr {
			addr = LoaderMmapBaseAddress
		}
		addr = this.memory.MapSpaceDown(addr, len_aligned)
		if addr == 0xffffffff {
			panic(fmt.Errorf("syscall mmap: out of guest memory (pid %d)", this.pid))
		}
	}

	this.memory.Map(addr, len_aligned, perm)

	// File-backed mapping: read the file in page chunks into the image with
	// init permission.
	if host_fd >= 0 {
		last_pos, _ := unix.Seek(host_fd, 0, unix.SEEK_CUR)
		unix.Seek(host_fd, int64(offset), unix.SEEK_SET)

		buf := make([]byte, mem.PageSize)
		for curr_addr := addr; curr_addr < addr+len_aligned; curr_addr += mem.PageSize {
			for i := range buf {
				buf[i] = 0
			}
			n, _ := unix.Read(host_fd, buf)
			if n > 0 {
				this.memory.InitData(curr_addr, mem.PageSize, buf)
			}
		}

		unix.Seek(host_fd, last_pos, unix.SEEK_SET)
	}

	return int32(addr)
}

func (this *Context) sysMmap() int32 {
	addr := this.syscallArg(0)
	length := this.syscallArg(1)
	prot := int(int32(this.syscallArg(2)))
	flags := int(int32(this.syscallArg(3)))
	guest_fd := int(int32(this.syscallArg(4)))
	offset := this.syscallArg(5)

	this.emu.debug_syscall.Printf("  addr=0x%x, len=%d, prot=0x%x, flags=0x%x, "+
		"guest_fd=%d, offset=0x%x\n", addr, length, prot, flags, guest_fd, offset)
	this.emu.debug_syscall.Printf("  prot=%s, flags=%s\n",
		mmap_prot_map.MapFlags(prot), mmap_flags_map.MapFlags(flags))

	return this.mmapAux(addr, length, prot, flags, guest_fd, offset)
}

func (this *Context) sysMmap2() int32 {
	addr := this.syscallArg(0)
	length := this.syscallArg(1)
	prot := int(int32(this.syscallArg(2)))
	flags := int(int32(this.syscallArg(3)))
	guest_fd := int(int32(this.syscallArg(4)))
	offset := this.syscallArg(5)

	this.emu.debug_syscall.Printf("  addr=0x%x, len=%d, prot=0x%x, flags=0x%x, "+
		"guest_fd=%d, offset=0x%x\n", addr, length, prot, flags, guest_fd, offset)
	this.emu.debug_syscall.Printf("  prot=%s, flags=%s\n",
		mmap_prot_map.MapFlags(prot), mmap_flags_map.MapFlags(flags))

	// mmap2 interprets the offset in memory pages.
	return this.mmapAux(addr, length, prot, flags, guest_fd, offset<<mem.PageShift)
}

func (this *Context) sysMunmap() int32 {
	addr := this.syscallArg(0)
	size := this.syscallArg(1)
	this.emu.debug_syscall.Printf("  addr=0x%x, size=0x%x\n", addr, size)

	if addr&^mem.PageMask != 0 {
		panic(fmt.Errorf("syscall munmap: address 0x%x not aligned (pid %d)", addr, this.pid))
	}

	size_aligned := (size + mem.PageSize - 1) & mem.PageMask
	this.memory.Unmap(addr, size_aligned)
	return 0
}

func (this *Context) sysMprotect() int32 {
	addr := this.syscallArg(0)
	size := this.syscallArg(1)
	prot := int(int32(this.syscallArg(2)))
	this.emu.debug_syscall.Printf("  addr=0x%x, size=0x%x, prot=%s\n",
		addr, size, mmap_prot_map.MapFlags(prot))

	perm := mem.AccessInit
	if prot&protRead != 0 {
		perm |= mem.AccessRead
	}
	if prot&protWrite != 0 {
		perm |= mem.AccessWrite
	}
	if prot&protExec != 0 {
		perm |= mem.AccessExec
	}

	this.memory.Protect(addr, size, perm)
	return 0
}

//
// Process info
//

func (this *Context) sysUname() int32 {
	utsname_ptr := this.syscallArg(0)
	this.emu.debug_syscall.Printf("  putsname=0x%x\n", utsname_ptr)

	fields := []string{
		"Linux",
		"multi2sim",
		"3.1.9-1.fc16.i686",
		"#1 Fri Jan 13 16:37:42 UTC 2012",
		"i686",
		"",
	}

	buf := make([]byte, 65*len(fields))
	for i, field := range fields {
		copy(buf[i*65:], field)
	}
	if err := this.memory.Write(utsname_ptr, uint32(len(buf)), buf); err != nil {
		return -ErrnoEFAULT
	}
	return 0
}

func (this *Context) sysGetrlimit() int32 {
	res := this.syscallArg(0)
	rlim_ptr := this.syscallArg(1)
	this.emu.debug_syscall.Printf("  res=%s, rlim_ptr=0x%x\n",
		rlimit_res_map.MapValue(int(res)), rlim_ptr)

	var cur, max uint32
	switch res {
	case rlimitData:
		cur = 0xffffffff
		max = 0xffffffff
	case rlimitStack:
		cur = this.loader.stack_size
		max = 0xffffffff
	case rlimitNofile:
		cur = 0x400
		max = 0x400
	default:
		panic(fmt.Errorf("syscall getrlimit: not implemented for res=%s (pid %d)",
			rlimit_res_map.MapValue(int(res)), this.pid))
	}

	this.memory.WriteWord(rlim_ptr, cur)
	this.memory.WriteWord(rlim_ptr+4, max)
	this.emu.debug_syscall.Printf("  ret: cur=0x%x, max=0x%x\n", cur, max)
	return 0
}

//
// Signals
//

func (this *Context) sysSigreturn() int32 {
	this.ReturnFromSignalHandler()
	this.emu.RequestProcessEvents()
	return 0
}

func (this *Context) sysRtSigaction() int32 {
	sig := int(int32(this.syscallArg(0)))
	act_ptr := this.syscallArg(1)
	old_act_ptr := this.syscallArg(2)
	this.emu.debug_syscall.Printf("  sig=%d (%s), act_ptr=0x%x, old_act_ptr=0x%x\n",
		sig, signal_map.MapValue(sig), act_ptr, old_act_ptr)

	if sig < 1 || sig > 64 {
		panic(fmt.Errorf("syscall rt_sigaction: invalid signal %d (pid %d)", sig, this.pid))
	}

	handler := this.signal_handler_table.Handler(sig)

	if old_act_ptr != 0 {
		this.memory.WriteWord(old_act_ptr, handler.handler)
		this.memory.WriteWord(old_act_ptr+4, handler.flags)
		this.memory.WriteWord(old_act_ptr+8, handler.restorer)
		this.memory.WriteWord(old_act_ptr+12, uint32(handler.mask))
		this.memory.WriteWord(old_act_ptr+16, uint32(uint64(handler.mask)>>32))
	}

	if act_ptr != 0 {
		entry, err1 := this.memory.ReadWord(act_ptr)
		flags, err2 := this.memory.ReadWord(act_ptr + 4)
		restorer, err3 := this.memory.ReadWord(act_ptr + 8)
		mask_lo, err4 := this.memory.ReadWord(act_ptr + 12)
		mask_hi, err5 := this.memory.ReadWord(act_ptr + 16)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return -ErrnoEFAULT
		}
		handler.handler = entry
		handler.flags = flags
		handler.restorer = restorer
		handler.mask = SignalSet(uint64(mask_hi)<<32 | uint64(mask_lo))
		this.emu.debug_syscall.Printf("  handler=0x%x, flags=0x%x, restorer=0x%x, mask=0x%x\n",
			entry, flags, restorer, uint64(handler.mask))
	}

	return 0
}

func (this *Context) sysRtSigprocmask() int32 {
	how := int(int32(this.syscallArg(0)))
	set_ptr := this.syscallArg(1)
	old_set_ptr := this.syscallArg(2)
	this.emu.debug_syscall.Printf("  how=%s, set_ptr=0x%x, old_set_ptr=0x%x\n",
		sigprocmask_how_map.MapValue(how), set_ptr, old_set_ptr)

	old_set := this.signal_mask_table.blocked

	if set_ptr != 0 {
		lo, err1 := this.memory.ReadWord(set_ptr)
		hi, err2 := this.memory.ReadWord(set_ptr + 4)
		if err1 != nil || err2 != nil {
			return -ErrnoEFAULT
		}
		set := SignalSet(uint64(hi)<<32 | uint64(lo))

		switch how {
		case 0: // SIG_BLOCK
			this.signal_mask_table.blocked |= set
		case 1: // SIG_UNBLOCK
			this.signal_mask_table.blocked &^= set
		case 2: // SIG_SETMASK
			this.signal_mask_table.blocked = set
		default:
			panic(fmt.Errorf("syscall rt_sigprocmask: invalid how %d (pid %d)", how, this.pid))
		}
	}

	if old_set_ptr != 0 {
		this.memory.WriteWord(old_set_ptr, uint32(old_set))
		this.memory.WriteWord(old_set_ptr+4, uint32(uint64(old_set)>>32))
	}

	// Unblocking may make pending signals deliverable.
	this.emu.RequestProcessEvents()
	return 0
}

//
// Threads and processes
//

// readUserDesc reads the guest user_desc used by set_thread_area and
// CLONE_SETTLS: entry number, base, limit, and the packed attribute word.
func (this *Context) readUserDesc(uinfo_ptr uint32) (uint32, uint32, uint32, uint32, error) {
	entry_number, err1 := this.memory.ReadWord(uinfo_ptr)
	base_addr, err2 := this.memory.ReadWord(uinfo_ptr + 4)
	limit, err3 := this.memory.ReadWord(uinfo_ptr + 8)
	attrs, err4 := this.memory.ReadWord(uinfo_ptr + 12)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, 0, 0, 0, fmt.Errorf("bad user_desc pointer 0x%x", uinfo_ptr)
	}
	return entry_number, base_addr, limit, attrs, nil
}

func (this *Context) sysSetThreadArea() int32 {
	uinfo_ptr := this.syscallArg(0)
	this.emu.debug_syscall.Printf("  uinfo_ptr=0x%x\n", uinfo_ptr)

	entry_number, base_addr, limit, attrs, err := this.readUserDesc(uinfo_ptr)
	if err != nil {
		return -ErrnoEFAULT
	}
	this.emu.debug_syscall.Printf("  entry_number=0x%x, base_addr=0x%x, limit=0x%x\n",
		entry_number, base_addr, limit)

	seg_32bit := attrs & 0x1
	limit_in_pages := (attrs >> 4) & 0x1
	if seg_32bit == 0 {
		panic(fmt.Errorf("syscall set_thread_area: only 32-bit segments supported (pid %d)", this.pid))
	}
	if limit_in_pages != 0 {
		limit <<= 12
	}

	if entry_number == 0xffffffff {
		if this.glibc_segment_base != 0 {
			panic(fmt.Errorf("syscall set_thread_area: glibc segment already set (pid %d)", this.pid))
		}
		this.glibc_segment_base = base_addr
		this.glibc_segment_limit = limit
		this.memory.WriteWord(uinfo_ptr, 6)
	} else {
		if entry_number != 6 {
			panic(fmt.Errorf("syscall set_thread_area: invalid entry number %d (pid %d)",
				entry_number, this.pid))
		}
		if this.glibc_segment_base == 0 {
			panic(fmt.Errorf("syscall set_thread_area: glibc segment not set (pid %d)", this.pid))
		}
		this.glibc_segment_base = base_addr
		this.glibc_segment_limit = limit
	}

	return 0
}

func (this *Context) sysSetTidAddress() int32 {
	tidptr := this.syscallArg(0)
	this.emu.debug_syscall.Printf("  tidptr=0x%x\n", tidptr)

	this.clear_child_tid = tidptr
	return int32(this.pid)
}

func (this *Context) sysSetRobustList() int32 {
	head := this.syscallArg(0)
	length := int(int32(this.syscallArg(1)))
	this.emu.debug_syscall.Printf("  head=0x%x, len=%d\n", head, length)

	if length != 12 {
		panic(fmt.Errorf("syscall set_robust_list: not supported for len != 12 (pid %d)", this.pid))
	}

	this.robust_list_head = head
	return 0
}

func (this *Context) sysClone() int32 {
	flags := this.syscallArg(0)
	new_sp := this.syscallArg(1)
	parent_tid_ptr := this.syscallArg(2)
	child_tid_ptr := this.syscallArg(3)
	tls_ptr := this.syscallArg(4)

	// The exit signal rides in the low byte of the flags.
	exit_signal := int(flags & 0xff)
	flags &^= 0xff

	this.emu.debug_syscall.Printf("  flags=%s, newsp=0x%x, parent_tidptr=0x%x, "+
		"child_tidptr=0x%x\n", clone_flags_map.MapFlags(int(flags)),
		new_sp, parent_tid_ptr, child_tid_ptr)
	this.emu.debug_syscall.Printf("  exit_signal=%d (%s)\n",
		exit_signal, signal_map.MapValue(exit_signal))

	if new_sp == 0 {
		new_sp = this.regs.Sp()
	}

	if flags&^uint32(clone_supported_flags) != 0 {
		panic(fmt.Errorf("syscall clone: not supported flags %s (pid %d)",
			clone_flags_map.MapFlags(int(flags)), this.pid))
	}

	context := this.emu.NewContext()
	if flags&CloneVm != 0 {
		// Sharing memory requires sharing the fs/files/sighand tables too.
		if flags&(CloneFs|CloneFiles|CloneSighand) != (CloneFs | CloneFiles | CloneSighand) {
			panic(fmt.Errorf("syscall clone: not supported flags with CLONE_VM (pid %d)", this.pid))
		}
		context.Clone(this)
	} else {
		if flags&(CloneFs|CloneFiles|CloneSighand) != 0 {
			panic(fmt.Errorf("syscall clone: not supported flags without CLONE_VM (pid %d)", this.pid))
		}
		context.Fork(this)
	}

	if flags&CloneThread != 0 {
		context.exit_signal = 0
		if this.group_parent != nil {
			context.group_parent = this.group_parent
		} else {
			context.group_parent = this
		}
	} else {
		context.exit_signal = exit_signal
		context.group_parent = nil
	}

	if flags&CloneParentSettid != 0 {
		this.memory.WriteWord(parent_tid_ptr, uint32(context.pid))
	}
	if flags&CloneChildSettid != 0 {
		context.memory.WriteWord(child_tid_ptr, uint32(context.pid))
	}
	if flags&CloneChildCleartid != 0 {
		context.clear_child_tid = child_tid_ptr
	}

	if flags&CloneSettls != 0 {
		entry_number, base_addr, limit, attrs, err := this.readUserDesc(tls_ptr)
		if err != nil {
			return -ErrnoEFAULT
		}
		this.emu.debug_syscall.Printf("  tls: entry_number=0x%x, base_addr=0x%x, limit=0x%x\n",
			entry_number, base_addr, limit)

		if attrs&0x1 == 0 {
			panic(fmt.Errorf("syscall clone: only 32-bit segments supported (pid %d)", this.pid))
		}
		if (attrs>>4)&0x1 != 0 {
			limit <<= 12
		}

		// The entry number is forced to 6, the glibc TLS slot.
		this.memory.WriteWord(tls_ptr, 6)

		context.glibc_segment_base = base_addr
		context.glibc_segment_limit = limit
	}

	// The child starts on its own stack and returns 0.
	context.regs.SetSp(new_sp)
	context.regs.SetSyscallRet(0)
	context.SetState(StateRunning)

	this.emu.debug_syscall.Printf("  context created with pid %d\n", context.pid)
	return int32(context.pid)
}

func (this *Context) sysWaitpid() int32 {
	pid := int(int32(this.syscallArg(0)))
	status_ptr := this.syscallArg(1)
	options := int(int32(this.syscallArg(2)))
	this.emu.debug_syscall.Printf("  pid=%d, pstatus=0x%x, options=%s\n",
		pid, status_ptr, waitpid_options_map.MapFlags(options))

	if pid != -1 && pid <= 0 {
		panic(fmt.Errorf("syscall waitpid: only supported for pid=-1 or pid > 0 (pid %d)", this.pid))
	}

	child := this.getZombie(pid)

	// No zombie child and no WNOHANG: suspend until one shows up.
	if child == nil && options&0x1 == 0 {
		this.wakeup_pid = pid
		this.wakeup_buf_ptr = status_ptr
		this.Suspend(StateWaitpid)
		return 0
	}

	if child != nil {
		if status_ptr != 0 {
			this.memory.WriteWord(status_ptr, uint32(child.exit_code))
		}
		child.SetState(StateFinished)
		return int32(child.pid)
	}

	return 0
}

//
// Futexes
//

func (this *Context) sysFutex() int32 {
	addr1 := this.syscallArg(0)
	op := int(int32(this.syscallArg(1)))
	val1 := int(int32(this.syscallArg(2)))
	timeout_ptr := this.syscallArg(3)
	addr2 := this.syscallArg(4)
	val3 := int(int32(this.syscallArg(5)))
	this.emu.debug_syscall.Printf("  addr1=0x%x, op=%d, val1=%d, ptimeout=0x%x, "+
		"addr2=0x%x, val3=%d\n", addr1, op, val1, timeout_ptr, addr2, val3)

	// Strip FUTEX_PRIVATE_FLAG (128) and FUTEX_CLOCK_REALTIME (256).
	cmd := op & ^(256 | 128)
	futex, err := this.memory.ReadWord(addr1)
	if err != nil {
		return -ErrnoEFAULT
	}
	this.emu.debug_syscall.Printf("  futex=%d, cmd=%d (%s)\n",
		futex, cmd, futex_cmd_map.MapValue(cmd))

	switch cmd {

	case 0, 9: // FUTEX_WAIT, FUTEX_WAIT_BITSET
		bitset := uint32(0xffffffff)
		if cmd == 9 {
			bitset = uint32(val3)
		}

		// The futex word must still hold the expected value.
		if futex != uint32(val1) {
			return -ErrnoEAGAIN
		}

		if timeout_ptr != 0 {
			panic(fmt.Errorf("syscall futex: FUTEX_WAIT not supported with timeout (pid %d)",
				this.pid))
		}

		this.wakeup_futex = addr1
		this.wakeup_futex_bitset = bitset
		this.wakeup_futex_sleep = this.emu.IncFutexSleepCount()
		this.Suspend(StateFutex)
		return 0

	case 1, 10: // FUTEX_WAKE, FUTEX_WAKE_BITSET
		bitset := uint32(0xffffffff)
		if cmd == 10 {
			bitset = uint32(val3)
		}
		ret := this.emu.FutexWake(this, addr1, val1, bitset)
		this.emu.debug_syscall.Printf("  futex at 0x%x: %d processes woken up\n", addr1, ret)
		return int32(ret)

	case 4: // FUTEX_CMP_REQUEUE
		// The timeout argument is an integer here; only INTMAX supported.
		if timeout_ptr != 0x7fffffff {
			panic(fmt.Errorf("syscall futex: FUTEX_CMP_REQUEUE only supported for "+
				"ptimeout=INTMAX (pid %d)", this.pid))
		}

		if futex != uint32(val3) {
			return -ErrnoEAGAIN
		}

		ret := this.emu.FutexWake(this, addr1, val1, 0xffffffff)
		this.emu.debug_syscall.Printf("  futex at 0x%x: %d processes woken up\n", addr1, ret)

		requeued := this.emu.FutexRequeue(addr1, addr2)
		this.emu.debug_syscall.Printf("  futex at 0x%x: %d processes requeued to futex 0x%x\n",
			addr1, requeued, addr2)
		return int32(ret)

	case 5: // FUTEX_WAKE_OP
		wake_op := (val3 >> 28) & 0xf
		cmp := (val3 >> 24) & 0xf
		oparg := (val3 >> 12) & 0xfff
		cmparg := val3 & 0xfff
		val2 := int(int32(timeout_ptr))

		oldval_u, read_err := this.memory.ReadWord(addr2)
		if read_err != nil {
			return -ErrnoEFAULT
		}
		oldval := int(int32(oldval_u))

		newval := 0
		switch wake_op {
		case 0: // FUTEX_OP_SET
			newval = oparg
		case 1: // FUTEX_OP_ADD
			newval = oldval + oparg
		case 2: // FUTEX_OP_OR
			newval = oldval | oparg
		case 3: // FUTEX_OP_AND
			newval = oldval & oparg
		case 4: // FUTEX_OP_XOR
			newval = oldval ^ oparg
		default:
			panic(fmt.Errorf("syscall futex: FUTEX_WAKE_OP invalid operation (pid %d)", this.pid))
		}
		this.memory.WriteWord(addr2, uint32(newval))

		ret := this.emu.FutexWake(this, addr1, val1, 0xffffffff)

		cond := false
		switch cmp {
		case 0: // FUTEX_OP_CMP_EQ
			cond = oldval == cmparg
		case 1: // FUTEX_OP_CMP_NE
			cond = oldval != cmparg
		case 2: // FUTEX_OP_CMP_LT
			cond = oldval < cmparg
		case 3: // FUTEX_OP_CMP_LE
			cond = oldval <= cmparg
		case 4: // FUTEX_OP_CMP_GT
			cond = oldval > cmparg
		case 5: // FUTEX_OP_CMP_GE
			cond = oldval >= cmparg
		default:
			panic(fmt.Errorf("syscall futex: FUTEX_WAKE_OP invalid condition (pid %d)", this.pid))
		}
		if cond {
			ret += this.emu.FutexWake(this, addr2, val2, 0xffffffff)
		}

		return int32(ret)

	default:
		panic(fmt.Errorf("syscall futex: not implemented for cmd=%d (%s) (pid %d)",
			cmd, futex_cmd_map.MapValue(cmd), this.pid))
	}
}
