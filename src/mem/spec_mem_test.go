package mem

import "testing"

func TestSpecMemBuffersWrites(t *testing.T) {
	base := new(Memory)
	base.Init()
	base.Map(0x1000, PageSize, AccessRead|AccessWrite)
	base.WriteWord(0x1000, 0x1111)

	spec := new(SpecMem)
	spec.Init(base)

	buf := make([]byte, 4)
	if err := spec.Read(0x1000, 4, buf); err != nil {
		t.Fatalf("spec read failed: %v", err)
	}
	if got := uint32(buf[0]) | uint32(buf[1])<<8; got != 0x1111 {
		t.Fatalf("spec read did not see base value: 0x%x", got)
	}

	spec.Write(0x1000, 4, []byte{0x44, 0x33, 0x22, 0x11})

	spec.Read(0x1000, 4, buf)
	if buf[0] != 0x44 {
		t.Fatalf("spec read did not see the buffered write")
	}

	value, _ := base.ReadWord(0x1000)
	if value != 0x1111 {
		t.Fatalf("speculative write touched the real image: 0x%x", value)
	}
}

func TestSpecMemClearDiscardsEverything(t *testing.T) {
	base := new(Memory)
	base.Init()
	base.Map(0x1000, PageSize, AccessRead|AccessWrite)

	spec := new(SpecMem)
	spec.Init(base)
	spec.Write(0x1000, 1, []byte{0xaa})
	spec.Write(0x9000, 1, []byte{0xbb}) // page unmapped in base

	if spec.PageCount() == 0 {
		t.Fatalf("expected overlay pages")
	}
	spec.Clear()
	if spec.PageCount() != 0 {
		t.Fatalf("clear left %d overlay pages", spec.PageCount())
	}
}

func TestSpecMemReadsUnmappedAsZero(t *testing.T) {
	base := new(Memory)
	base.Init()

	spec := new(SpecMem)
	spec.Init(base)

	buf := []byte{0xff}
	if err := spec.Read(0x4000, 1, buf); err != nil {
		t.Fatalf("wrong-path read should not fault: %v", err)
	}
	if buf[0] != 0 {
		t.Fatalf("unmapped speculative read should be zero, got 0x%x", buf[0])
	}
}
