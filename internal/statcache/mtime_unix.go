//go:build linux || darwin

package statcache

import "golang.org/x/sys/unix"

// statPath performs the raw OS stat via golang.org/x/sys/unix directly
// (rather than os.Stat) so kiln gets the kernel's nanosecond mtime field
// without depending on how os.FileInfo chooses to round it.
func statPath(path string) (int64, bool, error) {
	var st unix.Stat_t
	err := unix.Stat(path, &st)
	if err != nil {
		if err == unix.ENOENT || err == unix.ENOTDIR {
			return 0, false, nil
		}
		return 0, false, err
	}
	return unix.TimespecToNsec(st.Mtim), true, nil
}
