//go:build linux

package volume

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes so stripe reads inside the capacity never
// hit EOF and writes never ENOSPC mid-stripe.
func preallocate(f *os.File, size int64) error {
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		// Filesystems without fallocate support (tmpfs on some kernels,
		// network mounts) still work with a plain truncate.
		if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
			return f.Truncate(size)
		}
		return err
	}
	return nil
}
