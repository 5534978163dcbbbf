//go:build !windows

package upload

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a blocking exclusive advisory lock on the open file.
func lockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// unlock releases the advisory lock.
func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
