package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_MkdirFailsWhenPresent(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "out")

	if err := fsys.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := fsys.Mkdir(dir, 0755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second Mkdir error = %v, want ErrExist", err)
	}
}

func TestOSFileSystem_CreateWriteAt(t *testing.T) {
	fsys := OSFileSystem{}
	name := filepath.Join(t.TempDir(), "patched.bin")

	f, err := fsys.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("xxxxtail")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := f.WriteAt([]byte("head"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "headtail" {
		t.Errorf("got %q, want %q", data, "headtail")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/cloud/cloud.js", []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := mfs.ReadFile("/cloud/cloud.js")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("expected %q, got %q", "{}", data)
	}
	if !mfs.Exists("/cloud") {
		t.Error("expected parent directory to exist")
	}
}

func TestMemoryFileSystem_CreateWriteAt(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/out", 0755); err != nil {
		t.Fatal(err)
	}

	f, err := mfs.Create("/out/result_0.las")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("0000abcd")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := f.WriteAt([]byte("1234"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if _, err := f.WriteAt([]byte("ef"), 8); err != nil {
		t.Fatalf("WriteAt past end failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.Write([]byte("late")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write after Close error = %v, want ErrClosed", err)
	}

	data, _ := mfs.ReadFile("/out/result_0.las")
	if string(data) != "1234abcdef" {
		t.Errorf("got %q, want %q", data, "1234abcdef")
	}
}

func TestMemoryFileSystem_CreateNeedsParent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Create("/missing/file"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Create error = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystem_Mkdir(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.Mkdir("/a/b", 0755); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Mkdir without parent error = %v, want ErrNotExist", err)
	}
	if err := mfs.Mkdir("/a", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := mfs.Mkdir("/a", 0755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("Mkdir twice error = %v, want ErrExist", err)
	}
	info, err := mfs.Stat("/a")
	if err != nil || !info.IsDir() {
		t.Errorf("Stat(/a) = %v, %v; want directory", info, err)
	}
}

func TestMemoryFileSystem_OpenAndStat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/data/r/r.bin", []byte("0123456789"), 0644)

	f, err := mfs.Open("/data/r/r.bin")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(data) != 10 {
		t.Errorf("read %d bytes, want 10", len(data))
	}

	info, err := mfs.Stat("/data/r/r.bin")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 10 {
		t.Errorf("size = %d, want 10", info.Size())
	}

	if _, err := mfs.Stat("/data/r/r0.bin"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat missing error = %v, want ErrNotExist", err)
	}
}

func TestMemoryFileSystem_ReadDirAndRemoveAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/out/report.json", []byte("{}"), 0644)
	_ = mfs.WriteFile("/out/result_0.las", nil, 0644)
	_ = mfs.WriteFile("/out/nested/x", nil, 0644)

	names, err := mfs.ReadDir("/out")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	want := []string{"nested", "report.json", "result_0.las"}
	if len(names) != len(want) {
		t.Fatalf("ReadDir = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ReadDir[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if err := mfs.RemoveAll("/out"); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if mfs.Exists("/out/report.json") || mfs.Exists("/out") {
		t.Error("expected /out to be removed")
	}
}
