//go:build !unix

package segment

import (
	"io"
	"os"
)

// Platforms without mmap get a private heap copy per attach.
func mapReadOnly(f *os.File, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func unmap(b []byte) error {
	return nil
}

func writeMapped(f *os.File, header, payload []byte) error {
	if _, err := f.Write(header); err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		return err
	}
	return f.Sync()
}

func lockFile(f *os.File) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}

func publish(tmp, final string) error {
	return os.Link(tmp, final)
}
