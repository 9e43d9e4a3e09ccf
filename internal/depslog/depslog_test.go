package depslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".ninja_deps")
}

func TestRecordAndReload(t *testing.T) {
	path := testLogPath(t)
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	deps := []string{"foo.h", "bar/baz.h"}
	if err := l.Record("out.o", 123456789, deps); err != nil {
		t.Fatalf("Record: %v", err)
	}
	l.Close()

	l2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer l2.Close()
	mtime, got, ok := l2.Lookup("out.o")
	if !ok {
		t.Fatal("Lookup(out.o) not found after reload")
	}
	if mtime != 123456789 {
		t.Errorf("mtime = %d, want 123456789", mtime)
	}
	if diff := cmp.Diff(deps, got); diff != "" {
		t.Errorf("deps mismatch (-want +got):\n%s", diff)
	}
}

func TestLaterRecordShadowsEarlier(t *testing.T) {
	path := testLogPath(t)
	l, _ := Load(path)
	l.Record("out.o", 100, []string{"a.h"})
	l.Record("out.o", 200, []string{"a.h", "b.h"})
	l.Close()

	l2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer l2.Close()
	mtime, got, ok := l2.Lookup("out.o")
	if !ok || mtime != 200 {
		t.Fatalf("Lookup = (%d, %v, %v), want the later record", mtime, got, ok)
	}
	if diff := cmp.Diff([]string{"a.h", "b.h"}, got); diff != "" {
		t.Errorf("deps mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncatedTrailingRecordTolerated(t *testing.T) {
	path := testLogPath(t)
	l, _ := Load(path)
	l.Record("out.o", 100, []string{"a.h"})
	l.Close()

	// A partial length word at the tail, as a crash mid-append would leave.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0x10, 0x00})
	f.Close()

	l2, err := Load(path)
	if err != nil {
		t.Fatalf("Load after truncation: %v", err)
	}
	defer l2.Close()
	if _, _, ok := l2.Lookup("out.o"); !ok {
		t.Error("intact record lost after truncated trailer")
	}
}

func TestUnknownOutput(t *testing.T) {
	l, err := Load(testLogPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer l.Close()
	if _, _, ok := l.Lookup("nope"); ok {
		t.Error("Lookup on an empty log reported a record")
	}
}

func TestCompactAndAppend(t *testing.T) {
	path := testLogPath(t)
	l, _ := Load(path)
	// Shadow out.o several times so the ratio crosses 0.5, and keep one
	// record whose paths must survive the id renumbering.
	for i := 1; i <= 4; i++ {
		l.Record("out.o", int64(i*100), []string{"a.h", "b.h"})
	}
	l.Record("keep.o", 700, []string{"b.h", "c.h"})
	if err := l.MaybeCompact(); err != nil {
		t.Fatalf("MaybeCompact: %v", err)
	}
	live, total := l.Count()
	if live != 2 || total != 2 {
		t.Errorf("Count after compact = (%d, %d), want (2, 2)", live, total)
	}

	// Appends after the rewrite must stay consistent with the renumbered
	// path table on disk.
	if err := l.Record("late.o", 900, []string{"c.h", "d.h"}); err != nil {
		t.Fatalf("Record after compact: %v", err)
	}
	l.Close()

	l2, err := Load(path)
	if err != nil {
		t.Fatalf("reload after compact+append: %v", err)
	}
	defer l2.Close()
	for _, tc := range []struct {
		out   string
		mtime int64
		deps  []string
	}{
		{"out.o", 400, []string{"a.h", "b.h"}},
		{"keep.o", 700, []string{"b.h", "c.h"}},
		{"late.o", 900, []string{"c.h", "d.h"}},
	} {
		mtime, got, ok := l2.Lookup(tc.out)
		if !ok {
			t.Errorf("Lookup(%s) not found", tc.out)
			continue
		}
		if mtime != tc.mtime {
			t.Errorf("Lookup(%s) mtime = %d, want %d", tc.out, mtime, tc.mtime)
		}
		if diff := cmp.Diff(tc.deps, got); diff != "" {
			t.Errorf("Lookup(%s) deps mismatch (-want +got):\n%s", tc.out, diff)
		}
	}
}
