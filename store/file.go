// Package store implements flat files of fixed-size binary records addressed by
// byte offset, with advisory byte-range locking.
//
// There is no index and no cache: lookups are forward scans and every read goes
// to the file. Mutations follow scan, lock, re-read: the offset found by an
// unlocked scan is only a hint until the record has been read again under its
// lock.
package store

import (
	"bufio"
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Record is a value with a fixed binary width.
type Record interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	// RecordSize is the encoded width in bytes. It must not depend on the value.
	RecordSize() int
}

type recordPtr[T any] interface {
	*T
	Record
}

// ErrShortRecord reports a read that ended inside a record.
var ErrShortRecord = errors.New("store: short record")

// File is one open handle on a record file.
//
// Each Open returns a new open file description. Locks taken through one File
// conflict with locks taken through any other File, in this process or another,
// which is what makes a File the unit of ownership: open it per operation and
// close it when the operation ends.
type File[T any, P recordPtr[T]] struct {
	f    *os.File
	path string
	size int64
}

// Open opens the record file at path, creating it and its directory if absent.
func Open[T any, P recordPtr[T]](path string) (*File[T, P], error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	var zero T
	return &File[T, P]{f: f, path: path, size: int64(P(&zero).RecordSize())}, nil
}

// Path returns the file name the handle was opened with.
func (rf *File[T, P]) Path() string { return rf.path }

// RecordSize returns the width of one record in bytes.
func (rf *File[T, P]) RecordSize() int64 { return rf.size }

// Close closes the handle and thereby releases every lock it holds.
func (rf *File[T, P]) Close() error { return rf.f.Close() }

// ------------------ Locking ------------------

// LockRegion blocks until r is granted in mode m.
func (rf *File[T, P]) LockRegion(r Region, m Mode) (Unlock, error) {
	if err := LockFile(rf.f, r, m); err != nil {
		return nil, err
	}
	return func() error { return UnlockFile(rf.f, r) }, nil
}

// LockRecord locks exactly the record starting at off.
func (rf *File[T, P]) LockRecord(off int64, m Mode) (Unlock, error) {
	return rf.LockRegion(Region{Offset: off, Length: rf.size}, m)
}

// ------------------ Record I/O ------------------

// ReadAt decodes the record starting at off.
func (rf *File[T, P]) ReadAt(off int64) (T, error) {
	var rec T
	buf := make([]byte, rf.size)
	n, err := rf.f.ReadAt(buf, off)
	if n < len(buf) {
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return rec, io.EOF
			}
			return rec, ErrShortRecord
		}
		return rec, fmt.Errorf("read record at %d: %w", off, err)
	}
	if err := P(&rec).UnmarshalBinary(buf); err != nil {
		return rec, fmt.Errorf("decode record at %d: %w", off, err)
	}
	return rec, nil
}

// WriteAt encodes rec over the record starting at off.
func (rf *File[T, P]) WriteAt(off int64, rec T) error {
	buf, err := P(&rec).MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if int64(len(buf)) != rf.size {
		return fmt.Errorf("encode record: got %d bytes, want %d", len(buf), rf.size)
	}
	if _, err := rf.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write record at %d: %w", off, err)
	}
	return nil
}

// Append writes rec after the last whole record and returns its offset. The
// caller must hold an exclusive lock on WholeFile. A torn trailing record left
// by a crashed writer is overwritten.
func (rf *File[T, P]) Append(rec T) (int64, error) {
	end, err := rf.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek end: %w", err)
	}
	off := end - end%rf.size
	if err := rf.WriteAt(off, rec); err != nil {
		return 0, err
	}
	return off, nil
}

// AppendLocked takes an exclusive whole-file lock, appends rec and unlocks.
// Concurrent appenders are serialized so record boundaries never interleave.
func (rf *File[T, P]) AppendLocked(rec T) (off int64, err error) {
	unlock, err := rf.LockRegion(WholeFile, Exclusive)
	if err != nil {
		return 0, err
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return rf.Append(rec)
}

// Count returns the number of whole records in the file.
func (rf *File[T, P]) Count() (int64, error) {
	st, err := rf.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat records: %w", err)
	}
	return st.Size() / rf.size, nil
}

// ------------------ Scanning ------------------

// Scan calls fn for each record in file order until fn returns false. It takes
// no lock; a trailing partial record is treated as end of file.
func (rf *File[T, P]) Scan(fn func(off int64, rec *T) bool) error {
	br := bufio.NewReaderSize(io.NewSectionReader(rf.f, 0, 1<<62), int(rf.size)*64)
	buf := make([]byte, rf.size)
	for off := int64(0); ; off += rf.size {
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("scan records: %w", err)
		}
		var rec T
		if err := P(&rec).UnmarshalBinary(buf); err != nil {
			return fmt.Errorf("decode record at %d: %w", off, err)
		}
		if !fn(off, &rec) {
			return nil
		}
	}
}

// ScanFind returns the offset and value of the first record matching pred.
func (rf *File[T, P]) ScanFind(pred func(*T) bool) (off int64, rec T, found bool, err error) {
	err = rf.Scan(func(o int64, r *T) bool {
		if pred(r) {
			off, rec, found = o, *r, true
			return false
		}
		return true
	})
	return off, rec, found, err
}

// ReadAll returns every record matching keep, read under a shared whole-file
// lock so the listing is a consistent snapshot. A nil keep returns everything.
func (rf *File[T, P]) ReadAll(keep func(*T) bool) (out []T, err error) {
	unlock, err := rf.LockRegion(WholeFile, Shared)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	err = rf.Scan(func(_ int64, r *T) bool {
		if keep == nil || keep(r) {
			out = append(out, *r)
		}
		return true
	})
	return out, err
}
