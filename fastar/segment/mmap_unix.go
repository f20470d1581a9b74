//go:build unix

package segment

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mapReadOnly(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}

// writeMapped sizes f and fills it through a shared writable mapping.
func writeMapped(f *os.File, header, payload []byte) error {
	size := len(header) + len(payload)
	if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}
	m, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	copy(m, header)
	copy(m[len(header):], payload)
	if err := unix.Msync(m, unix.MS_SYNC); err != nil {
		unix.Munmap(m)
		return fmt.Errorf("msync: %w", err)
	}
	return unix.Munmap(m)
}

func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// publish makes tmp visible as final, failing with EEXIST if final exists.
func publish(tmp, final string) error {
	return unix.Link(tmp, final)
}
