package graph

import "testing"

func TestHashCommandStable(t *testing.T) {
	h1 := HashCommand("cc -c in.c -o out.o", "", "out.d", "gcc")
	h2 := HashCommand("cc -c in.c -o out.o", "", "out.d", "gcc")
	if h1 != h2 {
		t.Errorf("same inputs hashed differently: %x vs %x", h1, h2)
	}
}

func TestHashCommandSensitivity(t *testing.T) {
	base := HashCommand("cat in > out", "", "", "")
	cases := []struct {
		name string
		h    uint64
	}{
		{"command", HashCommand("cp in out", "", "", "")},
		{"rspfile_content", HashCommand("cat in > out", "-DFOO", "", "")},
		{"depfile", HashCommand("cat in > out", "", "out.d", "")},
		{"deps", HashCommand("cat in > out", "", "", "gcc")},
	}
	for _, tc := range cases {
		if tc.h == base {
			t.Errorf("changing %s did not change the hash", tc.name)
		}
	}
}

func TestHashCommandFieldBoundaries(t *testing.T) {
	// Concatenation must not let content slide between fields.
	a := HashCommand("ab", "c", "", "")
	b := HashCommand("a", "bc", "", "")
	if a == b {
		t.Error(`HashCommand("ab","c") == HashCommand("a","bc")`)
	}
}

func TestMurmurHash64A(t *testing.T) {
	// Distinct short inputs, including lengths around the 8-byte block
	// boundary, must produce distinct values.
	inputs := []string{"", "a", "ab", "abcdefg", "abcdefgh", "abcdefghi", "command line"}
	seen := make(map[uint64]string)
	for _, in := range inputs {
		h := MurmurHash64A([]byte(in))
		if prev, ok := seen[h]; ok {
			t.Errorf("collision between %q and %q", prev, in)
		}
		seen[h] = in
	}
}
