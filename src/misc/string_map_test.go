package misc

import "testing"

var test_map = StringMap{
	{Name: "CLONE_VM", Value: 0x100},
	{Name: "CLONE_FS", Value: 0x200},
	{Name: "CLONE_FILES", Value: 0x400},
}

func TestMapValue(t *testing.T) {
	if got := test_map.MapValue(0x200); got != "CLONE_FS" {
		t.Fatalf("got %q", got)
	}
	if got := test_map.MapValue(0x1000); got != "0x1000" {
		t.Fatalf("unknown value: got %q", got)
	}
}

func TestMapString(t *testing.T) {
	value, found := test_map.MapString("CLONE_FILES")
	if !found || value != 0x400 {
		t.Fatalf("got %d found=%v", value, found)
	}
	if _, found := test_map.MapString("CLONE_NOPE"); found {
		t.Fatalf("unknown name reported found")
	}
}

func TestMapFlags(t *testing.T) {
	if got := test_map.MapFlags(0x300); got != "{CLONE_VM|CLONE_FS}" {
		t.Fatalf("got %q", got)
	}
	if got := test_map.MapFlags(0x900); got != "{CLONE_VM|0x800}" {
		t.Fatalf("unknown remainder: got %q", got)
	}
}
