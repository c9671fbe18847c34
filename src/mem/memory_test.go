package mem

import "testing"

func TestReadWriteSpansPages(t *testing.T) {
	memory := new(Memory)
	memory.Init()
	memory.Map(0x1000, 2*PageSize, AccessRead|AccessWrite)

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	addr := uint32(0x2000 - 50) // straddles the page boundary
	if err := memory.Write(addr, 100, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got := make([]byte, 100)
	if err := memory.Read(addr, 100, got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got 0x%x, want 0x%x", i, got[i], data[i])
		}
	}
}

func TestAccessViolation(t *testing.T) {
	memory := new(Memory)
	memory.Init()
	memory.Map(0x1000, PageSize, AccessRead)

	buf := make([]byte, 4)
	if err := memory.Write(0x1000, 4, buf); err == nil {
		t.Fatalf("write to read-only page should fail")
	}
	if err := memory.Read(0x5000, 4, buf); err == nil {
		t.Fatalf("read of unmapped page should fail")
	}
	if err := memory.Read(0x1000, 4, buf); err != nil {
		t.Fatalf("read of mapped page failed: %v", err)
	}
}

func TestProtectChangesPermissions(t *testing.T) {
	memory := new(Memory)
	memory.Init()
	memory.Map(0x1000, PageSize, AccessRead|AccessWrite)

	memory.Protect(0x1000, PageSize, AccessRead)

	buf := make([]byte, 1)
	if err := memory.Write(0x1000, 1, buf); err == nil {
		t.Fatalf("write after protect(read) should fail")
	}
}

func TestMapSpaceDownReuse(t *testing.T) {
	memory := new(Memory)
	memory.Init()

	hint := uint32(0xb7fb0000)
	first := memory.MapSpaceDown(hint, 4*PageSize)
	if first == 0xffffffff {
		t.Fatalf("no space found")
	}
	memory.Map(first, 4*PageSize, AccessRead|AccessWrite)

	memory.Unmap(first, 4*PageSize)

	second := memory.MapSpaceDown(hint, 4*PageSize)
	if second != first {
		t.Fatalf("freed range not reused: first=0x%x, second=0x%x", first, second)
	}
}

func TestReadString(t *testing.T) {
	memory := new(Memory)
	memory.Init()
	memory.Map(0x1000, PageSize, AccessRead|AccessWrite)

	if err := memory.WriteString(0x1234, "hello"); err != nil {
		t.Fatalf("write string failed: %v", err)
	}
	s, err := memory.ReadString(0x1234)
	if err != nil {
		t.Fatalf("read string failed: %v", err)
	}
	if s != "hello" {
		t.Fatalf("got %q, want %q", s, "hello")
	}
}

func TestCloneIsDeepCopy(t *testing.T) {
	memory := new(Memory)
	memory.Init()
	memory.Map(0x1000, PageSize, AccessRead|AccessWrite)
	memory.SetHeapBreak(0x8000)
	memory.WriteWord(0x1000, 0xdeadbeef)

	clone := memory.Clone()
	if clone.HeapBreak() != 0x8000 {
		t.Fatalf("heap break not copied")
	}

	clone.WriteWord(0x1000, 0x11111111)
	value, _ := memory.ReadWord(0x1000)
	if value != 0xdeadbeef {
		t.Fatalf("write to clone leaked into the original: 0x%x", value)
	}
}

func TestWordAccessors(t *testing.T) {
	memory := new(Memory)
	memory.Init()
	memory.Map(0x1000, PageSize, AccessRead|AccessWrite)

	memory.WriteWord(0x1000, 0x04030201)
	buf := make([]byte, 4)
	memory.Read(0x1000, 4, buf)
	for i, want := range []byte{1, 2, 3, 4} {
		if buf[i] != want {
			t.Fatalf("little-endian layout wrong: %v", buf)
		}
	}
}
