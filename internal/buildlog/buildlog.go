// Package buildlog is the persistent, append-only text record of "last
// time we successfully built output X, the command had hash H and X had
// mtime M".
//
// The file signature ("# ninja log v%d\n", version 5) and field order
// match upstream Ninja's .ninja_log byte-for-byte, so any script that
// already reads Ninja's log can read this one; only the command hash
// values are kiln-internal.
package buildlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/google/renameio"
	"github.com/kiln-build/kiln/internal/graph"
	"github.com/kiln-build/kiln/internal/kerr"
)

const (
	fileSignature         = "# ninja log v%d\n"
	currentVersion        = 5
	oldestSupportedVersion = 4
)

// Entry is one output's last recorded build.
type Entry struct {
	Output      string
	CommandHash uint64
	StartMS     int64
	EndMS       int64
	MTimeNS     int64
}

// Log is the in-memory index plus the on-disk append log.
type Log struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	entries map[string]*Entry
	// restart means the existing file was unusable (bad or unsupported header)
	// and must be truncated rather than appended to.
	restart bool

	liveCount   int // distinct outputs currently tracked
	recordCount int // total records ever appended this load+session
}

// Load opens (creating if absent) the log at path, parsing existing
// records. Later records for the same output shadow earlier ones; a
// truncated trailing record (e.g. from a crash mid-write) is tolerated
// and dropped with a warning. A log with an unreadable header or from an
// unsupported version is discarded wholesale, with a warning, and the file
// restarted.
func Load(path string) (*Log, error) {
	l := &Log{path: path, entries: make(map[string]*Entry)}

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
		if _, err := fmt.Fprintf(f, fileSignature, currentVersion); err != nil {
			return nil, &kerr.IOFailure{Path: path, Err: err}
		}
	}
	return l, nil
}

func (l *Log) parse(data []byte) error {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	first := true
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if first {
			first = false
			var version int
			if _, err := fmt.Sscanf(text, "# ninja log v%d", &version); err != nil {
				glog.Warningf("%v, starting fresh", &kerr.LogCorruptionError{Path: l.path, Detail: "missing version header"})
				l.restart = true
				return nil
			}
			if version < oldestSupportedVersion {
				glog.Warningf("%s: log version %d too old, starting fresh", l.path, version)
				l.restart = true
				return nil
			}
			continue
		}
		parts := strings.Split(text, "\t")
		if len(parts) != 5 {
			// Tolerate a truncated trailing record: warn and stop, rather
			// than failing the whole load.
			glog.Warningf("%s:%d: truncated build log record, ignoring remainder", l.path, line)
			break
		}
		start, err1 := strconv.ParseInt(parts[0], 10, 64)
		end, err2 := strconv.ParseInt(parts[1], 10, 64)
		mtime, err3 := strconv.ParseInt(parts[2], 10, 64)
		hash, err4 := strconv.ParseUint(parts[4], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			glog.Warningf("%s:%d: malformed build log record, ignoring remainder", l.path, line)
			break
		}
		e := &Entry{Output: parts[3], CommandHash: hash, StartMS: start, EndMS: end, MTimeNS: mtime}
		if _, existed := l.entries[e.Output]; !existed {
			l.liveCount++
		}
		l.entries[e.Output] = e
		l.recordCount++
	}
	return nil
}

// Lookup implements graph.BuildLogLookup.
func (l *Log) Lookup(outputPath string) (graph.BuildLogSource, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[outputPath]
	if !ok {
		return graph.BuildLogSource{}, false
	}
	return graph.BuildLogSource{Hash: e.CommandHash, RecordedNS: e.MTimeNS, Found: true}, true
}

// Record appends one entry per output. It is called once per
// successfully completed (non-phony) edge; failed edges are never
// recorded.
func (l *Log) Record(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		line := fmt.Sprintf("%d\t%d\t%d\t%s\t%x\n", e.StartMS, e.EndMS, e.MTimeNS, e.Output, e.CommandHash)
		if _, err := l.f.WriteString(line); err != nil {
			return &kerr.IOFailure{Path: l.path, Err: err}
		}
		ec := e
		if _, existed := l.entries[e.Output]; !existed {
			l.liveCount++
		}
		l.entries[e.Output] = &ec
		l.recordCount++
	}
	return nil
}

// shadowRatio is the fraction of on-disk records that are superseded by a
// later record for the same output.
func (l *Log) shadowRatio() float64 {
	if l.recordCount == 0 {
		return 0
	}
	shadowed := l.recordCount - l.liveCount
	return float64(shadowed) / float64(l.recordCount)
}

// MaybeCompact rewrites the log in place, atomically, when more than half
// of its on-disk records are shadowed. The rewrite uses
// renameio.WriteFile (write-sibling-then-rename) so a crash mid-compaction
// never leaves a half-written log in place.
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
	var b strings.Builder
	fmt.Fprintf(&b, fileSignature, currentVersion)
	for _, e := range l.entries {
		fmt.Fprintf(&b, "%d\t%d\t%d\t%s\t%x\n", e.StartMS, e.EndMS, e.MTimeNS, e.Output, e.CommandHash)
	}
	if err := renameio.WriteFile(l.path, []byte(b.String()), 0o644); err != nil {
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
	l.recordCount = l.liveCount
	glog.V(1).Infof("%s: compacted to %d records", l.path, l.liveCount)
	return nil
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

// Count returns (live outputs tracked, total on-disk records), for
// reporting and tests.
func (l *Log) Count() (live, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveCount, l.recordCount
}
