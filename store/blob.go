package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Blob is a small file that is always read and replaced as a whole, under a
// whole-file lock. The admin credential lives in one.
type Blob struct {
	f *os.File
}

// OpenBlob opens or creates the blob at path.
func OpenBlob(path string) (*Blob, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return &Blob{f: f}, nil
}

// Close closes the handle.
func (b *Blob) Close() error { return b.f.Close() }

// ReadOrInit returns the blob contents. An empty blob is first filled with the
// output of init while holding the exclusive lock, so concurrent first users
// agree on a single initial value.
func (b *Blob) ReadOrInit(init func() ([]byte, error)) ([]byte, error) {
	if err := LockFile(b.f, WholeFile, Exclusive); err != nil {
		return nil, err
	}
	defer UnlockFile(b.f, WholeFile)

	data, err := b.readLocked()
	if err != nil || len(data) > 0 {
		return data, err
	}
	data, err = init()
	if err != nil {
		return nil, err
	}
	return data, b.writeLocked(data)
}

// Read returns the blob contents under a shared lock.
func (b *Blob) Read() ([]byte, error) {
	if err := LockFile(b.f, WholeFile, Shared); err != nil {
		return nil, err
	}
	defer UnlockFile(b.f, WholeFile)
	return b.readLocked()
}

// Replace overwrites the blob with data.
func (b *Blob) Replace(data []byte) error {
	if err := LockFile(b.f, WholeFile, Exclusive); err != nil {
		return err
	}
	defer UnlockFile(b.f, WholeFile)
	return b.writeLocked(data)
}

func (b *Blob) readLocked() ([]byte, error) {
	data, err := io.ReadAll(io.NewSectionReader(b.f, 0, 1<<62))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (b *Blob) writeLocked(data []byte) error {
	if err := b.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate blob: %w", err)
	}
	if _, err := b.f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return b.f.Sync()
}
