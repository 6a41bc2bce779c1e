package replicore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDumpFileSeq(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   uint32
		wantOK bool
	}{
		{"OK", "binlog-0-12-20260101", 12, true},
		{"ZeroSeq", "binlog-0-0-x", 0, true},
		{"WrongPrefix", "dump-0-12-x", 0, false},
		{"TooFewFields", "binlog-0", 0, false},
		{"NonNumeric", "binlog-0-abc-x", 0, false},
		{"OutOfRange", "binlog-0-4294967296-x", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDumpFileSeq(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("seq = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxDumpFileSeq(t *testing.T) {
	t.Run("MissingDirIsCreatedAndEmpty", func(t *testing.T) {
		base := t.TempDir()
		dir := filepath.Join(base, "does-not-exist-yet")

		seq, err := maxDumpFileSeq(dir)
		if err != nil {
			t.Fatal(err)
		}
		if seq != 0 {
			t.Fatalf("seq = %d, want 0", seq)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatal("expected the dump directory to have been created")
		}
	})

	t.Run("ScansAndIgnoresNonBinlogFiles", func(t *testing.T) {
		dir := t.TempDir()
		write := func(name string) {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
				t.Fatal(err)
			}
		}
		write("binlog-0-3-a")
		write("binlog-0-7-b")
		write("binlog-0-5-c")
		write("notabinlog-0-99-d") // ignored: wrong prefix
		if err := os.Mkdir(filepath.Join(dir, "binlog-0-100-subdir"), 0o755); err != nil {
			t.Fatal(err)
		} // ignored: not a regular file, despite matching the name shape

		seq, err := maxDumpFileSeq(dir)
		if err != nil {
			t.Fatal(err)
		}
		if seq != 7 {
			t.Fatalf("seq = %d, want 7", seq)
		}
	})

	t.Run("EmptyDir", func(t *testing.T) {
		dir := t.TempDir()
		seq, err := maxDumpFileSeq(dir)
		if err != nil {
			t.Fatal(err)
		}
		if seq != 0 {
			t.Fatalf("seq = %d, want 0", seq)
		}
	})
}

func TestDumpFileName(t *testing.T) {
	name := dumpFileName(3, 12, "20260101")
	seq, ok := parseDumpFileSeq(name)
	if !ok {
		t.Fatalf("dumpFileName produced an unparseable name: %s", name)
	}
	if seq != 12 {
		t.Fatalf("seq = %d, want 12", seq)
	}
}
