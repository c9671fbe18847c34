package kernel

import (
	"os"

	"golang.org/x/sys/unix"
)

type FileDescKind int

const (
	FileDescRegular FileDescKind = iota
	FileDescStd
	FileDescPipe
	FileDescVirtual
	FileDescSocket
)

// FileDesc maps one guest descriptor index to a host descriptor.
type FileDesc struct {
	kind        FileDescKind
	guest_index int
	host_fd     int
	path        string
	flags       int
}

func (this *FileDesc) Kind() FileDescKind {
	return this.kind
}

func (this *FileDesc) GuestIndex() int {
	return this.guest_index
}

func (this *FileDesc) HostIndex() int {
	return this.host_fd
}

func (this *FileDesc) Path() string {
	return this.path
}

func (this *FileDesc) Flags() int {
	return this.flags
}

// FileTable maps guest descriptors to host descriptors. Tables are shared
// between clone siblings and copied at fork.
type FileTable struct {
	descs []*FileDesc
}

func (this *FileTable) Init() {
	this.descs = make([]*FileDesc, 0)
}

// InitStdIo pre-opens guest descriptors 0-2, redirected to files when the
// loader carries stdin/stdout names.
func (this *FileTable) InitStdIo(stdin_path string, stdout_path string) {
	stdin_fd := int(os.Stdin.Fd())
	if stdin_path != "" {
		fd, err := unix.Open(stdin_path, unix.O_RDONLY, 0)
		if err != nil {
			panic(err)
		}
		stdin_fd = fd
	}

	stdout_fd := int(os.Stdout.Fd())
	stderr_fd := int(os.Stderr.Fd())
	if stdout_path != "" {
		fd, err := unix.Open(stdout_path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
		if err != nil {
			panic(err)
		}
		stdout_fd = fd
		stderr_fd = fd
	}

	this.NewFileDesc(FileDescStd, stdin_fd, stdin_path, 0)
	this.NewFileDesc(FileDescStd, stdout_fd, stdout_path, 0)
	this.NewFileDesc(FileDescStd, stderr_fd, stdout_path, 0)
}

// NewFileDesc allocates the lowest free guest index.
func (this *FileTable) NewFileDesc(kind FileDescKind, host_fd int, path string, flags int) *FileDesc {
	desc := new(FileDesc)
	desc.kind = kind
	desc.host_fd = host_fd
	desc.path = path
	desc.flags = flags

	for i, existing := range this.descs {
		if existing == nil {
			desc.guest_index = i
			this.descs[i] = desc
			return desc
		}
	}

	desc.guest_index = len(this.descs)
	this.descs = append(this.descs, desc)

	return desc
}

func (this *FileTable) FileDesc(guest_index int) *FileDesc {
	if guest_index < 0 || guest_index >= len(this.descs) {
		return nil
	}
	return this.descs[guest_index]
}

// HostIndex returns the host descriptor for a guest index, or -1.
func (this *FileTable) HostIndex(guest_index int) int {
	desc := this.FileDesc(guest_index)
	if desc == nil {
		return -1
	}
	return desc.host_fd
}

// FreeFileDesc drops a guest descriptor. Virtual files delete their backing
// temp file.
func (this *FileTable) FreeFileDesc(guest_index int) {
	desc := this.FileDesc(guest_index)
	if desc == nil {
		return
	}
	if desc.kind == FileDescVirtual && desc.path != "" {
		os.Remove(desc.path)
	}
	this.descs[guest_index] = nil
}

// Clone copies the table entries, the fork semantics of the descriptor
// table.
func (this *FileTable) Clone() *FileTable {
	copy_ := new(FileTable)
	copy_.Init()
	for _, desc := range this.descs {
		if desc == nil {
			copy_.descs = append(copy_.descs, nil)
			continue
		}
		dup := *desc
		copy_.descs = append(copy_.descs, &dup)
	}

	return copy_
}
