package mem

import (
	"fmt"
)

const (
	PageSize  = 4096
	PageShift = 12
	PageMask  = ^uint32(PageSize - 1)
)

// Page permission and bookkeeping flags.
const (
	AccessNone  = 0
	AccessRead  = 1 << 0
	AccessWrite = 1 << 1
	AccessExec  = 1 << 2
	AccessInit  = 1 << 3
	AccessModif = 1 << 4
)

// Page is one 4 KiB quantum of the guest address space. Data is allocated
// lazily on the first write.
type Page struct {
	tag  uint32
	perm int
	data []byte
}

func (this *Page) Perm() int {
	return this.perm
}

// Memory is a sparse 32-bit guest address space. It can be shared between
// contexts (clone) or deep-copied (fork); sharing is plain aliasing of the
// structure, released when the last context drops it.
type Memory struct {
	pages map[uint32]*Page

	// When safe, accesses check page permissions and report violations.
	safe bool

	heap_break uint32
}

func (this *Memory) Init() {
	this.pages = make(map[uint32]*Page)
	this.safe = true
}

func (this *Memory) Safe() bool {
	return this.safe
}

func (this *Memory) SetSafe(safe bool) {
	this.safe = safe
}

func (this *Memory) HeapBreak() uint32 {
	return this.heap_break
}

func (this *Memory) SetHeapBreak(heap_break uint32) {
	this.heap_break = heap_break
}

func (this *Memory) Page(addr uint32) *Page {
	return this.pages[addr&PageMask]
}

func (this *Memory) newPage(addr uint32, perm int) *Page {
	tag := addr & PageMask
	page := new(Page)
	page.tag = tag
	page.perm = perm
	this.pages[tag] = page

	return page
}

// Map allocates pages over [addr, addr+size) with the given permissions.
// Pages already present just add the permission bits.
func (this *Memory) Map(addr uint32, size uint32, perm int) {
	tag1 := addr & PageMask
	tag2 := (addr + size - 1) & PageMask
	for tag := tag1; ; tag += PageSize {
		page := this.pages[tag]
		if page == nil {
			page = this.newPage(tag, perm)
		} else {
			page.perm |= perm
		}
		if tag == tag2 {
			break
		}
	}
}

// Unmap releases every page overlapping [addr, addr+size); addr must be
// page aligned.
func (this *Memory) Unmap(addr uint32, size uint32) {
	if addr&^PageMask != 0 {
		panic(fmt.Errorf("mem: unmap of unaligned address 0x%x", addr))
	}

	tag1 := addr & PageMask
	tag2 := (addr + size - 1) & PageMask
	for tag := tag1; ; tag += PageSize {
		delete(this.pages, tag)
		if tag == tag2 {
			break
		}
	}
}

// Protect rewrites the permissions of mapped pages in the range.
func (this *Memory) Protect(addr uint32, size uint32, perm int) {
	tag1 := addr & PageMask
	tag2 := (addr + size - 1) & PageMask
	for tag := tag1; ; tag += PageSize {
		page := this.pages[tag]
		if page != nil {
			page.perm = perm
		}
		if tag == tag2 {
			break
		}
	}
}

// MapSpace finds size bytes of unmapped space searching upward from addr.
// Returns the base, or 0xffffffff when the space is exhausted.
func (this *Memory) MapSpace(addr uint32, size uint32) uint32 {
	page_count := (size + PageSize - 1) / PageSize
	tag_start := addr & PageMask
	tag_end := tag_start

	for {
		if this.pages[tag_end] == nil {
			if (tag_end-tag_start)/PageSize+1 == page_count {
				return tag_start
			}
			if tag_end > 0xffffffff-PageSize {
				return 0xffffffff
			}
			tag_end += PageSize
			continue
		}

		if tag_end > 0xffffffff-PageSize {
			return 0xffffffff
		}
		tag_start = tag_end + PageSize
		tag_end = tag_start
	}
}

// MapSpaceDown finds size bytes of unmapped space searching downward from
// addr, the allocation policy of the guest mmap region.
func (this *Memory) MapSpaceDown(addr uint32, size uint32) uint32 {
	page_count := (size + PageSize - 1) / PageSize
	tag_end := addr & PageMask
	tag_start := tag_end

	for {
		if this.pages[tag_start] == nil {
			if (tag_end-tag_start)/PageSize+1 == page_count {
				return tag_start
			}
			if tag_start < PageSize {
				return 0xffffffff
			}
			tag_start -= PageSize
			continue
		}

		if tag_start < PageSize {
			return 0xffffffff
		}
		tag_end = tag_start - PageSize
		tag_start = tag_end
	}
}

func (this *Memory) access(addr uint32, size uint32, buf []byte, access int) error {
	offset := uint32(0)
	for offset < size {
		page_addr := addr + offset
		page := this.pages[page_addr&PageMask]
		in_page := page_addr & (PageSize - 1)
		chunk := PageSize - in_page
		if chunk > size-offset {
			chunk = size - offset
		}

		if page == nil || (this.safe && page.perm&access == 0) {
			return fmt.Errorf("mem: access violation at 0x%x", page_addr)
		}

		if access == AccessRead || access == AccessExec {
			if page.data == nil {
				for i := uint32(0); i < chunk; i++ {
					buf[offset+i] = 0
				}
			} else {
				copy(buf[offset:offset+chunk], page.data[in_page:in_page+chunk])
			}
		} else {
			if page.data == nil {
				page.data = make([]byte, PageSize)
			}
			copy(page.data[in_page:in_page+chunk], buf[offset:offset+chunk])
			page.perm |= AccessModif
		}

		offset += chunk
	}

	return nil
}

// Read copies size bytes at addr into buf, honoring page permissions.
func (this *Memory) Read(addr uint32, size uint32, buf []byte) error {
	if size == 0 {
		return nil
	}
	return this.access(addr, size, buf, AccessRead)
}

// Write copies buf into guest memory at addr.
func (this *Memory) Write(addr uint32, size uint32, buf []byte) error {
	if size == 0 {
		return nil
	}
	return this.access(addr, size, buf, AccessWrite)
}

// ReadExec reads instruction bytes, requiring exec permission.
func (this *Memory) ReadExec(addr uint32, size uint32, buf []byte) error {
	return this.access(addr, size, buf, AccessExec)
}

// InitData writes with init permission, used by the loader and file-backed
// mmap regardless of the final protection.
func (this *Memory) InitData(addr uint32, size uint32, buf []byte) error {
	if size == 0 {
		return nil
	}
	return this.access(addr, size, buf, AccessInit)
}

// ReadString reads a null-terminated string at addr.
func (this *Memory) ReadString(addr uint32) (string, error) {
	result := make([]byte, 0, 32)
	buf := make([]byte, 1)
	for {
		if err := this.Read(addr+uint32(len(result)), 1, buf); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(result), nil
		}
		result = append(result, buf[0])
		if len(result) > 1<<20 {
			return "", fmt.Errorf("mem: unterminated string at 0x%x", addr)
		}
	}
}

// WriteString writes s plus its null terminator at addr.
func (this *Memory) WriteString(addr uint32, s string) error {
	buf := append([]byte(s), 0)
	return this.Write(addr, uint32(len(buf)), buf)
}

// ReadWord reads a 32-bit little-endian word.
func (this *Memory) ReadWord(addr uint32) (uint32, error) {
	var buf [4]byte
	if err := this.Read(addr, 4, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// WriteWord writes a 32-bit little-endian word.
func (this *Memory) WriteWord(addr uint32, value uint32) error {
	buf := [4]byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return this.Write(addr, 4, buf[:])
}

// Clone deep-copies the mapping structure and page contents, the fork
// semantics of the address space.
func (this *Memory) Clone() *Memory {
	copy_ := new(Memory)
	copy_.Init()
	copy_.safe = this.safe
	copy_.heap_break = this.heap_break

	for tag, page := range this.pages {
		new_page := copy_.newPage(tag, page.perm)
		if page.data != nil {
			new_page.data = make([]byte, PageSize)
			copy(new_page.data, page.data)
		}
	}

	return copy_
}

// PageTags returns the mapped page addresses in no particular order.
func (this *Memory) PageTags() []uint32 {
	tags := make([]uint32, 0, len(this.pages))
	for tag := range this.pages {
		tags = append(tags, tag)
	}
	return tags
}
