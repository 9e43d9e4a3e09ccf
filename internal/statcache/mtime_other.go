//go:build !linux && !darwin

package statcache

import "os"

// statPath is the portable fallback for platforms without
// golang.org/x/sys/unix stat_t support (e.g. Windows); it trusts
// os.FileInfo.ModTime, which is nanosecond-resolution on NTFS.
func statPath(path string) (int64, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return fi.ModTime().UnixNano(), true, nil
}
