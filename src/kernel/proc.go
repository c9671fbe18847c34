package kernel

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ApoorvaMN/SWLTP/src/mem"
)

// Virtual /proc files. The synthesized content is written to a host temp
// file, so the guest reads it through a perfectly ordinary descriptor; the
// file is deleted when the descriptor closes.

func (this *Context) openProcSelfMaps() string {
	tags := this.memory.PageTags()
	sort.Slice(tags, func(i int, j int) bool { return tags[i] < tags[j] })

	builder := new(strings.Builder)
	i := 0
	for i < len(tags) {
		start := tags[i]
		perm := this.memory.Page(start).Perm()
		end := start + mem.PageSize
		j := i + 1
		for j < len(tags) && tags[j] == end && this.memory.Page(tags[j]).Perm() == perm {
			end += mem.PageSize
			j++
		}

		r, w, x := '-', '-', '-'
		if perm&mem.AccessRead != 0 {
			r = 'r'
		}
		if perm&mem.AccessWrite != 0 {
			w = 'w'
		}
		if perm&mem.AccessExec != 0 {
			x = 'x'
		}
		fmt.Fprintf(builder, "%08x-%08x %c%c%cp 00000000 00:00 0\n",
			start, end, r, w, x)

		i = j
	}

	return this.writeProcTemp("maps", builder.String())
}

func (this *Context) openProcCPUInfo() string {
	content := "processor\t: 0\n" +
		"vendor_id\t: GenuineIntel\n" +
		"cpu family\t: 6\n" +
		"model\t\t: 23\n" +
		"model name\t: Intel(R) Xeon(R) CPU           E5405  @ 2.00GHz\n" +
		"stepping\t: 6\n" +
		"cpu MHz\t\t: 1995.183\n" +
		"cache size\t: 6144 KB\n" +
		"fpu\t\t: yes\n" +
		"cpuid level\t: 10\n" +
		"wp\t\t: yes\n" +
		"flags\t\t: fpu vme de pse tsc msr pae mce cx8 apic sep mtrr pge mca cmov\n" +
		"bogomips\t: 3990.36\n" +
		"clflush size\t: 64\n" +
		"cache_alignment\t: 64\n" +
		"address sizes\t: 38 bits physical, 48 bits virtual\n\n"

	return this.writeProcTemp("cpuinfo", content)
}

func (this *Context) writeProcTemp(name string, content string) string {
	file, err := os.CreateTemp("", "swltp_proc_"+name+"_")
	if err != nil {
		panic(fmt.Errorf("cannot create temp file for virtual /proc/%s: %v", name, err))
	}
	if _, write_err := file.WriteString(content); write_err != nil {
		panic(write_err)
	}
	file.Close()

	return file.Name()
}

// openVirtualFile synthesizes the content of supported /proc paths and
// returns a descriptor of kind virtual, or nil when the path has no
// synthesized version.
func (this *Context) openVirtualFile(path string, flags int) *FileDesc {
	temp_path := ""
	switch path {
	case "/proc/self/maps":
		temp_path = this.openProcSelfMaps()
	case "/proc/cpuinfo":
		temp_path = this.openProcCPUInfo()
	}
	if temp_path == "" {
		return nil
	}

	host_fd, err := openHostFile(temp_path, flags&^(openCreat|openTrunc), 0)
	if err != nil {
		panic(fmt.Errorf("cannot reopen virtual file '%s': %v", temp_path, err))
	}

	desc := this.file_table.NewFileDesc(FileDescVirtual, host_fd, temp_path, flags)
	this.emu.debug_syscall.Printf("    host file '%s' opened: guest_fd=%d, host_fd=%d\n",
		temp_path, desc.guest_index, desc.host_fd)

	return desc
}
