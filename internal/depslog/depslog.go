// Package depslog is the persistent binary record of discovered input
// dependencies (e.g. C/C++ headers) per output, in the shape of Ninja's
// .ninja_deps: written as a stream of records during the build, read
// back whole at startup.
//
// Two record kinds share the file: a path record adds one path to the
// dense id table, a deps record maps an output id to an mtime and input
// ids. Later deps records for the same output shadow earlier ones.
package depslog

import (
	"bufio"
	"encoding/binary"
	"os"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/google/renameio"
	"github.com/kiln-build/kiln/internal/kerr"
)

const (
	magic          = "# ninjadeps\n"
	version        = 4
	pathRecordBit  = uint32(1) << 31
	maxRecordBytes = 1 << 20 // defends parse() against a corrupt huge length word
)

// record is one deps record: the dependencies known for one output as of
// a given mtime.
type record struct {
	mtimeNS int64
	inputs  []uint32 // path ids
}

// Log is the in-memory index plus the on-disk append log.
type Log struct {
	mu sync.Mutex

	path string
	f    *os.File
	// restart means the existing file was unusable (bad or unsupported header)
	// and must be truncated rather than appended to.
	restart bool

	pathIDs map[string]uint32
	paths   []string // id -> path
	deps    map[uint32]*record // output id -> latest record

	liveCount   int
	recordCount int
}

// Load opens (creating if absent) the log at path and parses existing
// records, tolerating a truncated trailing record.
func Load(path string) (*Log, error) {
	l := &Log{
		path:    path,
		pathIDs: make(map[string]uint32),
		deps:    make(map[uint32]*record),
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := l.parse(data); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, &kerr.IOFailure{Path: path, Err: err}
	}

	mode := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if l.restart {
		mode = os.O_TRUNC | os.O_WRONLY | os.O_CREATE
	}
	f, err := os.OpenFile(path, mode, 0o644)
	if err != nil {
		return nil, &kerr.IOFailure{Path: path, Err: err}
	}
	l.f = f
	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		if err := writeHeader(f); err != nil {
			return nil, &kerr.IOFailure{Path: path, Err: err}
		}
	}
	return l, nil
}

func writeHeader(f *os.File) error {
	if _, err := f.WriteString(magic); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, uint32(version))
}

func (l *Log) parse(data []byte) error {
	if len(data) < len(magic)+4 {
		if len(data) > 0 {
			glog.Warningf("%s: file too short for header, starting fresh", l.path)
			l.restart = true
		}
		return nil
	}
	if string(data[:len(magic)]) != magic {
		glog.Warningf("%v, starting fresh", &kerr.LogCorruptionError{Path: l.path, Detail: "bad magic"})
		l.restart = true
		return nil
	}
	pos := len(magic)
	ver := binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	if ver != version {
		glog.Warningf("%s: unsupported deps log version %d, starting fresh", l.path, ver)
		l.restart = true
		return nil
	}

	for pos+4 <= len(data) {
		word := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		isPath := word&pathRecordBit != 0
		size := int(word &^ pathRecordBit)
		if size < 0 || size > maxRecordBytes || pos+size > len(data) {
			glog.Warningf("%s: truncated record at offset %d, ignoring remainder", l.path, pos-4)
			return nil
		}
		body := data[pos : pos+size]
		pos += size

		if isPath {
			if size < 4 {
				glog.Warningf("%s: truncated path record, ignoring remainder", l.path)
				return nil
			}
			pathBytes := body[:size-4]
			for len(pathBytes) > 0 && pathBytes[len(pathBytes)-1] == 0 {
				pathBytes = pathBytes[:len(pathBytes)-1]
			}
			checksum := binary.LittleEndian.Uint32(body[size-4:])
			id := uint32(len(l.paths))
			if checksum != ^id {
				glog.Warningf("%s: path record checksum mismatch for id %d, ignoring remainder", l.path, id)
				return nil
			}
			l.paths = append(l.paths, string(pathBytes))
			l.pathIDs[string(pathBytes)] = id
		} else {
			if size < 12 || (size-12)%4 != 0 {
				glog.Warningf("%s: malformed deps record, ignoring remainder", l.path)
				return nil
			}
			outID := binary.LittleEndian.Uint32(body[0:4])
			mtime := int64(binary.LittleEndian.Uint64(body[4:12]))
			n := (size - 12) / 4
			inputs := make([]uint32, n)
			for i := 0; i < n; i++ {
				inputs[i] = binary.LittleEndian.Uint32(body[12+i*4:])
			}
			if _, existed := l.deps[outID]; !existed {
				l.liveCount++
			}
			l.deps[outID] = &record{mtimeNS: mtime, inputs: inputs}
			l.recordCount++
		}
	}
	return nil
}

// internPath returns path's dense id, appending a path record to disk and
// to the in-memory table if path is new.
func (l *Log) internPath(path string) (uint32, error) {
	if id, ok := l.pathIDs[path]; ok {
		return id, nil
	}
	id := uint32(len(l.paths))
	padded := path
	for len(padded)%4 != 0 {
		padded += "\x00"
	}
	size := uint32(len(padded) + 4)
	if err := binary.Write(l.f, binary.LittleEndian, size|pathRecordBit); err != nil {
		return 0, &kerr.IOFailure{Path: l.path, Err: err}
	}
	if _, err := l.f.WriteString(padded); err != nil {
		return 0, &kerr.IOFailure{Path: l.path, Err: err}
	}
	if err := binary.Write(l.f, binary.LittleEndian, ^id); err != nil {
		return 0, &kerr.IOFailure{Path: l.path, Err: err}
	}
	l.paths = append(l.paths, path)
	l.pathIDs[path] = id
	return id, nil
}

// Lookup returns the dependency list recorded for output, in path form.
func (l *Log) Lookup(output string) (mtimeNS int64, inputs []string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.pathIDs[output]
	if !ok {
		return 0, nil, false
	}
	rec, ok := l.deps[id]
	if !ok {
		return 0, nil, false
	}
	out := make([]string, len(rec.inputs))
	for i, pid := range rec.inputs {
		out[i] = l.paths[pid]
	}
	return rec.mtimeNS, out, true
}

// Record appends a deps record for output, interning any new paths
// first.
func (l *Log) Record(output string, mtimeNS int64, inputs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	outID, err := l.internPath(output)
	if err != nil {
		return err
	}
	inputIDs := make([]uint32, len(inputs))
	for i, in := range inputs {
		id, err := l.internPath(in)
		if err != nil {
			return err
		}
		inputIDs[i] = id
	}

	size := uint32(12 + 4*len(inputIDs))
	if err := binary.Write(l.f, binary.LittleEndian, size); err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}
	if err := binary.Write(l.f, binary.LittleEndian, outID); err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}
	if err := binary.Write(l.f, binary.LittleEndian, uint64(mtimeNS)); err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}
	for _, id := range inputIDs {
		if err := binary.Write(l.f, binary.LittleEndian, id); err != nil {
			return &kerr.IOFailure{Path: l.path, Err: err}
		}
	}

	if _, existed := l.deps[outID]; !existed {
		l.liveCount++
	}
	l.deps[outID] = &record{mtimeNS: mtimeNS, inputs: inputIDs}
	l.recordCount++
	return nil
}

func (l *Log) shadowRatio() float64 {
	if l.recordCount == 0 {
		return 0
	}
	shadowed := l.recordCount - l.liveCount
	return float64(shadowed) / float64(l.recordCount)
}

// MaybeCompact rewrites the log when more than half of its deps records
// are shadowed, using renameio.WriteFile for an atomic sibling-then-rename
// replace, the same policy the build log uses.
func (l *Log) MaybeCompact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shadowRatio() <= 0.5 {
		return nil
	}
	return l.compactLocked()
}

// Compact rewrites unconditionally, for the recompact tool.
func (l *Log) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compactLocked()
}

func (l *Log) compactLocked() error {
	w := &sliceWriter{}
	buf := bufio.NewWriter(w)
	_, _ = buf.WriteString(magic)
	_ = binary.Write(buf, binary.LittleEndian, uint32(version))

	// Re-emit path records for only the paths still referenced, assigning
	// fresh dense ids in encounter order (mirrors a from-scratch load).
	newID := make(map[uint32]uint32)
	var newPaths []string
	assign := func(oldID uint32) uint32 {
		if id, ok := newID[oldID]; ok {
			return id
		}
		id := uint32(len(newID))
		newID[oldID] = id
		p := l.paths[oldID]
		newPaths = append(newPaths, p)
		padded := p
		for len(padded)%4 != 0 {
			padded += "\x00"
		}
		size := uint32(len(padded) + 4)
		_ = binary.Write(buf, binary.LittleEndian, size|pathRecordBit)
		_, _ = buf.WriteString(padded)
		_ = binary.Write(buf, binary.LittleEndian, ^id)
		return id
	}
	newDeps := make(map[uint32]*record, len(l.deps))
	// Deterministic order keeps the compacted bytes stable for a given
	// in-memory state.
	outIDs := make([]uint32, 0, len(l.deps))
	for outID := range l.deps {
		outIDs = append(outIDs, outID)
	}
	sort.Slice(outIDs, func(i, j int) bool { return outIDs[i] < outIDs[j] })
	for _, outID := range outIDs {
		rec := l.deps[outID]
		nOut := assign(outID)
		nIns := make([]uint32, len(rec.inputs))
		for i, in := range rec.inputs {
			nIns[i] = assign(in)
		}
		size := uint32(12 + 4*len(nIns))
		_ = binary.Write(buf, binary.LittleEndian, size)
		_ = binary.Write(buf, binary.LittleEndian, nOut)
		_ = binary.Write(buf, binary.LittleEndian, uint64(rec.mtimeNS))
		for _, id := range nIns {
			_ = binary.Write(buf, binary.LittleEndian, id)
		}
		newDeps[nOut] = &record{mtimeNS: rec.mtimeNS, inputs: nIns}
	}
	if err := buf.Flush(); err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}

	if err := renameio.WriteFile(l.path, w.buf, 0o644); err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}
	if err := l.f.Close(); err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &kerr.IOFailure{Path: l.path, Err: err}
	}
	l.f = f

	// The on-disk file now uses fresh dense ids; swap the in-memory
	// tables to match so later appends stay consistent with it.
	l.paths = newPaths
	l.pathIDs = make(map[string]uint32, len(newPaths))
	for i, p := range newPaths {
		l.pathIDs[p] = uint32(i)
	}
	l.deps = newDeps
	l.recordCount = l.liveCount
	glog.V(1).Infof("%s: compacted deps log to %d records", l.path, l.liveCount)
	return nil
}

// sliceWriter is a tiny io.Writer backed by a growable byte slice, used to
// build the compacted log body in memory before handing it to renameio.
type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Count returns (distinct outputs tracked, total on-disk deps records).
func (l *Log) Count() (live, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveCount, l.recordCount
}
