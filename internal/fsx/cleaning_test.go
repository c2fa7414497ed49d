package fsx

import "testing"

func TestCleaningFileSystemReportsEverythingMissing(t *testing.T) {
	inner := NewMemory()
	if err := inner.WriteFile("out", []byte("x")); err != nil {
		t.Fatal(err)
	}
	c := NewCleaningFileSystem(inner)

	if _, err := c.Stat("out"); !IsNotExist(err) {
		t.Fatalf("want ENOENT, got %v", err)
	}
	if _, err := c.Lstat("out"); !IsNotExist(err) {
		t.Fatalf("want ENOENT, got %v", err)
	}
}

func TestCleaningFileSystemCountsRemovals(t *testing.T) {
	inner := NewMemory()
	if err := inner.WriteFile("out", []byte("x")); err != nil {
		t.Fatal(err)
	}
	c := NewCleaningFileSystem(inner)

	if err := c.Unlink("out"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if c.RemovedCount() != 1 {
		t.Fatalf("want removed count 1, got %d", c.RemovedCount())
	}
}

func TestCleaningFileSystemMkdirIsNoop(t *testing.T) {
	inner := NewMemory()
	c := NewCleaningFileSystem(inner)
	if err := c.Mkdir("newdir"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := inner.Lstat("newdir"); !IsNotExist(err) {
		t.Fatalf("expected clean's Mkdir to be a no-op, but inner has the directory")
	}
}
