package potree

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHierarchyPath(t *testing.T) {
	tests := []struct {
		name string
		step int
		want string
	}{
		{"r", 5, "r"},
		{"r0", 5, "r"},
		{"r0123", 5, "r"},
		{"r01234", 5, "r/01234"},
		{"r012345", 5, "r/01234"},
		{"r0123456", 3, "r/012/345"},
		{"r012345", 3, "r/012/345"},
		{"r01", 1, "r/0/1"},
	}
	for _, tt := range tests {
		if got := HierarchyPath(tt.name, tt.step); got != tt.want {
			t.Errorf("HierarchyPath(%q, %d) = %q, want %q", tt.name, tt.step, got, tt.want)
		}
	}
}

type decoded struct {
	Name      string
	Mask      uint8
	NumPoints uint32
}

func flatten(root *Node) []decoded {
	var out []decoded
	root.Walk(func(n *Node) {
		out = append(out, decoded{n.Name, n.ChildMask, n.NumPoints})
	})
	return out
}

func record(mask uint8, count uint32) []byte {
	return []byte{mask, byte(count), byte(count >> 8), byte(count >> 16), byte(count >> 24)}
}

func concat(recs ...[]byte) []byte {
	var out []byte
	for _, r := range recs {
		out = append(out, r...)
	}
	return out
}

func TestDecodeHierarchyBreadthFirst(t *testing.T) {
	// r has children 0 and 3; r0 has child 5; r3 has children 1 and 2.
	// Breadth-first order is r, r0, r3, r05, r31, r32.
	data := concat(
		record(0b0000_1001, 100),
		record(0b0010_0000, 10),
		record(0b0000_0110, 30),
		record(0, 5),
		record(0, 31),
		record(0, 70000),
	)

	root, err := DecodeHierarchy(data, "r")
	if err != nil {
		t.Fatalf("DecodeHierarchy() error = %v", err)
	}

	want := []decoded{
		{"r", 0x09, 100},
		{"r0", 0x20, 10},
		{"r3", 0x06, 30},
		{"r05", 0, 5},
		{"r31", 0, 31},
		{"r32", 0, 70000},
	}
	if diff := cmp.Diff(want, flatten(root)); diff != "" {
		t.Errorf("decoded tree mismatch (-want +got):\n%s", diff)
	}

	if root.Children[3].Parent != root || root.Children[3].Index != 3 {
		t.Errorf("r3 parent/index not set: %+v", root.Children[3])
	}
	if got := root.Children[3].Children[2].Level(); got != 2 {
		t.Errorf("r32 level = %d, want 2", got)
	}
}

func TestDecodeHierarchyDeterministic(t *testing.T) {
	data := concat(record(0xff, 1), record(0, 2), record(0, 3), record(0, 4),
		record(0, 5), record(0, 6), record(0, 7), record(0, 8), record(0, 9))

	a, err := DecodeHierarchy(data, "r")
	if err != nil {
		t.Fatal(err)
	}
	b, err := DecodeHierarchy(data, "r")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(flatten(a), flatten(b)); diff != "" {
		t.Errorf("decodes differ:\n%s", diff)
	}
}

func TestDecodeHierarchySubtreeRoot(t *testing.T) {
	root, err := DecodeHierarchy(concat(record(0b10, 7), record(0, 1)), "r01234")
	if err != nil {
		t.Fatal(err)
	}
	if root.Index != 4 || root.Level() != 5 {
		t.Errorf("root index/level = %d/%d, want 4/5", root.Index, root.Level())
	}
	if root.Children[1] == nil || root.Children[1].Name != "r012341" {
		t.Errorf("child = %+v", root.Children[1])
	}
}

func TestDecodeHierarchyChunkBoundary(t *testing.T) {
	// Step 2 chunk holding r, r0 and r07. r07 announces r071, whose record
	// lives in r07.hrc.
	data := concat(
		record(0b0000_0001, 3),
		record(0b1000_0000, 2),
		record(0b0000_0010, 4),
	)

	root, err := DecodeHierarchy(data, "r")
	if err != nil {
		t.Fatalf("DecodeHierarchy() error = %v", err)
	}

	want := []decoded{
		{"r", 0x01, 3},
		{"r0", 0x80, 2},
		{"r07", 0x02, 4},
		{"r071", 0, 0},
	}
	if diff := cmp.Diff(want, flatten(root)); diff != "" {
		t.Errorf("decoded tree mismatch (-want +got):\n%s", diff)
	}

	r07 := root.Children[0].Children[7]
	if !r07.HasChildren() || r07.stub {
		t.Errorf("r07 should be a described node with children: %+v", r07)
	}
	if !r07.Children[1].stub {
		t.Errorf("r071 should be a stub until r07.hrc is loaded")
	}
}

func TestDecodeHierarchyCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"partial_record", []byte{0, 1, 0}},
		{"not_multiple_of_five", append(record(0, 1), 0xff)},
		{"surplus_records", concat(record(0, 1), record(0, 1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeHierarchy(tt.data, "r"); !errors.Is(err, ErrCorruptHierarchy) {
				t.Errorf("error = %v, want ErrCorruptHierarchy", err)
			}
		})
	}
}
