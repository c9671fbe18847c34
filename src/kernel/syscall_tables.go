package kernel

import (
	"github.com/ApoorvaMN/SWLTP/src/misc"
)

// Guest errno values, Linux i386 ABI.
const (
	ErrnoEPERM  = 1
	ErrnoENOENT = 2
	ErrnoESRCH  = 3
	ErrnoEINTR  = 4
	ErrnoEIO    = 5
	ErrnoEBADF  = 9
	ErrnoECHILD = 10
	ErrnoEAGAIN = 11
	ErrnoENOMEM = 12
	ErrnoEACCES = 13
	ErrnoEFAULT = 14
	ErrnoEINVAL = 22
	ErrnoERANGE = 34

	ErrnoMax = 34
)

var syscall_error_map = misc.StringMap{
	{Name: "EPERM", Value: 1},
	{Name: "ENOENT", Value: 2},
	{Name: "ESRCH", Value: 3},
	{Name: "EINTR", Value: 4},
	{Name: "EIO", Value: 5},
	{Name: "ENXIO", Value: 6},
	{Name: "E2BIG", Value: 7},
	{Name: "ENOEXEC", Value: 8},
	{Name: "EBADF", Value: 9},
	{Name: "ECHILD", Value: 10},
	{Name: "EAGAIN", Value: 11},
	{Name: "ENOMEM", Value: 12},
	{Name: "EACCES", Value: 13},
	{Name: "EFAULT", Value: 14},
	{Name: "ENOTBLK", Value: 15},
	{Name: "EBUSY", Value: 16},
	{Name: "EEXIST", Value: 17},
	{Name: "EXDEV", Value: 18},
	{Name: "ENODEV", Value: 19},
	{Name: "ENOTDIR", Value: 20},
	{Name: "EISDIR", Value: 21},
	{Name: "EINVAL", Value: 22},
	{Name: "ENFILE", Value: 23},
	{Name: "EMFILE", Value: 24},
	{Name: "ENOTTY", Value: 25},
	{Name: "ETXTBSY", Value: 26},
	{Name: "EFBIG", Value: 27},
	{Name: "ENOSPC", Value: 28},
	{Name: "ESPIPE", Value: 29},
	{Name: "EROFS", Value: 30},
	{Name: "EMLINK", Value: 31},
	{Name: "EPIPE", Value: 32},
	{Name: "EDOM", Value: 33},
	{Name: "ERANGE", Value: 34},
}

// Clone flags, guest values.
const (
	CloneVm           = 0x00000100
	CloneFs           = 0x00000200
	CloneFiles        = 0x00000400
	CloneSighand      = 0x00000800
	CloneThread       = 0x00010000
	CloneSysvsem      = 0x00040000
	CloneSettls       = 0x00080000
	CloneParentSettid = 0x00100000
	CloneChildCleartid = 0x00200000
	CloneChildSettid  = 0x01000000
)

var clone_flags_map = misc.StringMap{
	{Name: "CLONE_VM", Value: 0x00000100},
	{Name: "CLONE_FS", Value: 0x00000200},
	{Name: "CLONE_FILES", Value: 0x00000400},
	{Name: "CLONE_SIGHAND", Value: 0x00000800},
	{Name: "CLONE_PTRACE", Value: 0x00002000},
	{Name: "CLONE_VFORK", Value: 0x00004000},
	{Name: "CLONE_PARENT", Value: 0x00008000},
	{Name: "CLONE_THREAD", Value: 0x00010000},
	{Name: "CLONE_NEWNS", Value: 0x00020000},
	{Name: "CLONE_SYSVSEM", Value: 0x00040000},
	{Name: "CLONE_SETTLS", Value: 0x00080000},
	{Name: "CLONE_PARENT_SETTID", Value: 0x00100000},
	{Name: "CLONE_CHILD_CLEARTID", Value: 0x00200000},
	{Name: "CLONE_DETACHED", Value: 0x00400000},
	{Name: "CLONE_UNTRACED", Value: 0x00800000},
	{Name: "CLONE_CHILD_SETTID", Value: 0x01000000},
}

const clone_supported_flags = CloneVm | CloneFs | CloneFiles | CloneSighand |
	CloneThread | CloneSysvsem | CloneSettls | CloneParentSettid |
	CloneChildCleartid | CloneChildSettid

// Open flags, guest values (octal, i386).
const (
	openReadOnly  = 0o0
	openWriteOnly = 0o1
	openReadWrite = 0o2
	openCreat     = 0o100
	openExcl      = 0o200
	openTrunc     = 0o1000
	openAppend    = 0o2000
	openNonblock  = 0o4000
	openLargefile = 0o100000
)

var open_flags_map = misc.StringMap{
	{Name: "O_WRONLY", Value: 0o1},
	{Name: "O_RDWR", Value: 0o2},
	{Name: "O_CREAT", Value: 0o100},
	{Name: "O_EXCL", Value: 0o200},
	{Name: "O_NOCTTY", Value: 0o400},
	{Name: "O_TRUNC", Value: 0o1000},
	{Name: "O_APPEND", Value: 0o2000},
	{Name: "O_NONBLOCK", Value: 0o4000},
	{Name: "O_SYNC", Value: 0o10000},
	{Name: "FASYNC", Value: 0o20000},
	{Name: "O_DIRECT", Value: 0o40000},
	{Name: "O_LARGEFILE", Value: 0o100000},
	{Name: "O_DIRECTORY", Value: 0o200000},
	{Name: "O_NOFOLLOW", Value: 0o400000},
}

// mmap protection and flags, guest values.
const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4

	mapShared    = 0x01
	mapPrivate   = 0x02
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

var mmap_prot_map = misc.StringMap{
	{Name: "PROT_READ", Value: 0x1},
	{Name: "PROT_WRITE", Value: 0x2},
	{Name: "PROT_EXEC", Value: 0x4},
	{Name: "PROT_SEM", Value: 0x8},
	{Name: "PROT_GROWSDOWN", Value: 0x01000000},
	{Name: "PROT_GROWSUP", Value: 0x02000000},
}

var mmap_flags_map = misc.StringMap{
	{Name: "MAP_SHARED", Value: 0x01},
	{Name: "MAP_PRIVATE", Value: 0x02},
	{Name: "MAP_FIXED", Value: 0x10},
	{Name: "MAP_ANONYMOUS", Value: 0x20},
	{Name: "MAP_GROWSDOWN", Value: 0x00100},
	{Name: "MAP_DENYWRITE", Value: 0x00800},
	{Name: "MAP_EXECUTABLE", Value: 0x01000},
	{Name: "MAP_LOCKED", Value: 0x02000},
	{Name: "MAP_NORESERVE", Value: 0x04000},
	{Name: "MAP_POPULATE", Value: 0x08000},
	{Name: "MAP_NONBLOCK", Value: 0x10000},
}

// rlimit resources, guest values.
const (
	rlimitData   = 2
	rlimitStack  = 3
	rlimitNofile = 7
)

var rlimit_res_map = misc.StringMap{
	{Name: "RLIMIT_CPU", Value: 0},
	{Name: "RLIMIT_FSIZE", Value: 1},
	{Name: "RLIMIT_DATA", Value: 2},
	{Name: "RLIMIT_STACK", Value: 3},
	{Name: "RLIMIT_CORE", Value: 4},
	{Name: "RLIMIT_RSS", Value: 5},
	{Name: "RLIMIT_NPROC", Value: 6},
	{Name: "RLIMIT_NOFILE", Value: 7},
	{Name: "RLIMIT_MEMLOCK", Value: 8},
	{Name: "RLIMIT_AS", Value: 9},
}

var futex_cmd_map = misc.StringMap{
	{Name: "FUTEX_WAIT", Value: 0},
	{Name: "FUTEX_WAKE", Value: 1},
	{Name: "FUTEX_FD", Value: 2},
	{Name: "FUTEX_REQUEUE", Value: 3},
	{Name: "FUTEX_CMP_REQUEUE", Value: 4},
	{Name: "FUTEX_WAKE_OP", Value: 5},
	{Name: "FUTEX_LOCK_PI", Value: 6},
	{Name: "FUTEX_UNLOCK_PI", Value: 7},
	{Name: "FUTEX_TRYLOCK_PI", Value: 8},
	{Name: "FUTEX_WAIT_BITSET", Value: 9},
	{Name: "FUTEX_WAKE_BITSET", Value: 10},
}

var waitpid_options_map = misc.StringMap{
	{Name: "WNOHANG", Value: 0x00000001},
	{Name: "WUNTRACED", Value: 0x00000002},
	{Name: "WEXITED", Value: 0x00000004},
	{Name: "WCONTINUED", Value: 0x00000008},
	{Name: "WNOWAIT", Value: 0x01000000},
}

var sigprocmask_how_map = misc.StringMap{
	{Name: "SIG_BLOCK", Value: 0},
	{Name: "SIG_UNBLOCK", Value: 1},
	{Name: "SIG_SETMASK", Value: 2},
}

// SyscallCode is the kernel-normalized system call identifier; each ISA
// maps its raw ABI numbers onto these.
type SyscallCode int

const (
	SyscallCodeInvalid SyscallCode = iota
	SyscallCodeExit
	SyscallCodeRead
	SyscallCodeWrite
	SyscallCodeOpen
	SyscallCodeClose
	SyscallCodeWaitpid
	SyscallCodeUnlink
	SyscallCodeTime
	SyscallCodeAccess
	SyscallCodeBrk
	SyscallCodeGetpid
	SyscallCodeMmap
	SyscallCodeMunmap
	SyscallCodeMprotect
	SyscallCodeUname
	SyscallCodeSigreturn
	SyscallCodeClone
	SyscallCodeGetrlimit
	SyscallCodeMmap2
	SyscallCodeFstat64
	SyscallCodeNanosleep
	SyscallCodeRtSigaction
	SyscallCodeRtSigprocmask
	SyscallCodeGetuid
	SyscallCodeGetgid
	SyscallCodeGeteuid
	SyscallCodeGetegid
	SyscallCodeGettimeofday
	SyscallCodeWritev
	SyscallCodeLlseek
	SyscallCodeExitGroup
	SyscallCodeSetThreadArea
	SyscallCodeFutex
	SyscallCodeSetTidAddress
	SyscallCodeSetRobustList

	SyscallCodeCount
)

var syscall_names = [SyscallCodeCount]string{
	SyscallCodeInvalid:       "invalid",
	SyscallCodeExit:          "exit",
	SyscallCodeRead:          "read",
	SyscallCodeWrite:         "write",
	SyscallCodeOpen:          "open",
	SyscallCodeClose:         "close",
	SyscallCodeWaitpid:       "waitpid",
	SyscallCodeUnlink:        "unlink",
	SyscallCodeTime:          "time",
	SyscallCodeAccess:        "access",
	SyscallCodeBrk:           "brk",
	SyscallCodeGetpid:        "getpid",
	SyscallCodeMmap:          "mmap",
	SyscallCodeMunmap:        "munmap",
	SyscallCodeMprotect:      "mprotect",
	SyscallCodeUname:         "uname",
	SyscallCodeSigreturn:     "sigreturn",
	SyscallCodeClone:         "clone",
	SyscallCodeGetrlimit:     "getrlimit",
	SyscallCodeMmap2:         "mmap2",
	SyscallCodeFstat64:       "fstat64",
	SyscallCodeNanosleep:     "nanosleep",
	SyscallCodeRtSigaction:   "rt_sigaction",
	SyscallCodeRtSigprocmask: "rt_sigprocmask",
	SyscallCodeGetuid:        "getuid",
	SyscallCodeGetgid:        "getgid",
	SyscallCodeGeteuid:       "geteuid",
	SyscallCodeGetegid:       "getegid",
	SyscallCodeGettimeofday:  "gettimeofday",
	SyscallCodeWritev:        "writev",
	SyscallCodeLlseek:        "llseek",
	SyscallCodeExitGroup:     "exit_group",
	SyscallCodeSetThreadArea: "set_thread_area",
	SyscallCodeFutex:         "futex",
	SyscallCodeSetTidAddress: "set_tid_address",
	SyscallCodeSetRobustList: "set_robust_list",
}

// SyscallName returns the printable name of a syscall code.
func SyscallName(code SyscallCode) string {
	if code < 0 || code >= SyscallCodeCount {
		return "unknown"
	}
	return syscall_names[code]
}
