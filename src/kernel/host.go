package kernel

import (
	"golang.org/x/sys/unix"
)

// hostErrno converts a host error into a guest errno value. The 1..34 range
// is numerically identical between the host and the i386 ABI; anything
// outside it degrades to EINVAL.
func hostErrno(err error) int32 {
	if errno, ok := err.(unix.Errno); ok {
		value := int32(errno)
		if value >= 1 && value <= ErrnoMax {
			return value
		}
	}
	return ErrnoEINVAL
}

func hostPollIn(host_fd int) bool {
	fds := []unix.PollFd{{Fd: int32(host_fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return false
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0
}

func hostPollOut(host_fd int) bool {
	fds := []unix.PollFd{{Fd: int32(host_fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return false
	}
	return n > 0 && fds[0].Revents&unix.POLLOUT != 0
}

// completeRead performs the deferred half of a blocking read once the
// descriptor polled ready.
func (this *Context) completeRead() int32 {
	desc := this.file_table.FileDesc(this.wakeup_fd)
	if desc == nil {
		return -ErrnoEBADF
	}

	buf := make([]byte, this.wakeup_count)
	n, err := unix.Read(desc.host_fd, buf)
	if err != nil {
		return -hostErrno(err)
	}
	if n > 0 {
		if write_err := this.memory.Write(this.wakeup_buf_ptr, uint32(n), buf[:n]); write_err != nil {
			return -ErrnoEFAULT
		}
	}

	this.emu.debug_syscall.Printf("  context %d woken up, read returns %d\n", this.pid, n)

	return int32(n)
}

// completeWrite performs the deferred half of a blocking write.
func (this *Context) completeWrite() int32 {
	desc := this.file_table.FileDesc(this.wakeup_fd)
	if desc == nil {
		return -ErrnoEBADF
	}

	buf := make([]byte, this.wakeup_count)
	if read_err := this.memory.Read(this.wakeup_buf_ptr, this.wakeup_count, buf); read_err != nil {
		return -ErrnoEFAULT
	}
	n, err := unix.Write(desc.host_fd, buf)
	if err != nil {
		return -hostErrno(err)
	}

	this.emu.debug_syscall.Printf("  context %d woken up, write returns %d\n", this.pid, n)

	return int32(n)
}
