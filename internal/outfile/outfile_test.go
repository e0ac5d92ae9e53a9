package outfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestWriteReplacesAndSkipsIdentical(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "consumer_requests", "consumer_requests.gen.go")

	changed, err := Write(p, []byte("package a\n"), 0o644)
	if err != nil || !changed {
		t.Fatalf("first write: changed=%v err=%v", changed, err)
	}
	changed, err = Write(p, []byte("package a\n"), 0o644)
	if err != nil || changed {
		t.Fatalf("identical write: changed=%v err=%v", changed, err)
	}
	changed, err = Write(p, []byte("package b\n"), 0o644)
	if err != nil || !changed {
		t.Fatalf("replacing write: changed=%v err=%v", changed, err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "package b\n" {
		t.Fatalf("unexpected content: %q", b)
	}
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != 0o644 {
			t.Fatalf("unexpected mode: %v", fi.Mode().Perm())
		}
	}

	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "index.gen.go")
	if st, err := Compare(p, []byte("x")); err != nil || st != StateMissing {
		t.Fatalf("missing: %v %v", st, err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if st, err := Compare(p, []byte("x")); err != nil || st != StateSame {
		t.Fatalf("same: %v %v", st, err)
	}
	if st, err := Compare(p, []byte("y")); err != nil || st != StateDiffers {
		t.Fatalf("differs: %v %v", st, err)
	}
}

func TestDigestIsStable(t *testing.T) {
	t.Parallel()

	a, b := Digest([]byte("package a\n")), Digest([]byte("package a\n"))
	if a != b || len(a) != 64 {
		t.Fatalf("unexpected digests %q %q", a, b)
	}
	if a == Digest([]byte("package b\n")) {
		t.Fatalf("expected different digests")
	}
}
