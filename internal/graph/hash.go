package graph

// MurmurHash64A is Austin Appleby's 64-bit MurmurHash2 variant, the same
// algorithm upstream Ninja hashes command lines with. Hash values are
// kiln-internal: .ninja_log stays byte-compatible as a format, but record
// hashes are not interchangeable with other tools'.
func MurmurHash64A(data []byte) uint64 {
	const (
		seed uint64 = 0xDECAFBADDECAFBAD
		m    uint64 = 0xc6a4a7935bd1e995
		r           = 47
	)
	h := seed ^ (uint64(len(data)) * m)
	n := len(data) - len(data)%8
	for i := 0; i < n; i += 8 {
		k := uint64(data[i]) | uint64(data[i+1])<<8 | uint64(data[i+2])<<16 |
			uint64(data[i+3])<<24 | uint64(data[i+4])<<32 | uint64(data[i+5])<<40 |
			uint64(data[i+6])<<48 | uint64(data[i+7])<<56
		k *= m
		k ^= k >> r
		k *= m
		h ^= k
		h *= m
	}
	tail := data[n:]
	switch len(tail) {
	case 7:
		h ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		h ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		h ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		h ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		h ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		h ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		h ^= uint64(tail[0])
		h *= m
	}
	h ^= h >> r
	h *= m
	h ^= h >> r
	return h
}

// HashCommand hashes the resolved command string together with the
// bindings that can change an edge's output without changing the command
// text itself: rspfile_content, depfile, and deps.
// A NUL separator keeps the fields from colliding when concatenated
// ("a"+"bc" must not hash the same as "ab"+"c").
func HashCommand(command, rspfileContent, depfile, deps string) uint64 {
	buf := make([]byte, 0, len(command)+len(rspfileContent)+len(depfile)+len(deps)+4)
	buf = append(buf, command...)
	buf = append(buf, 0)
	buf = append(buf, rspfileContent...)
	buf = append(buf, 0)
	buf = append(buf, depfile...)
	buf = append(buf, 0)
	buf = append(buf, deps...)
	return MurmurHash64A(buf)
}
