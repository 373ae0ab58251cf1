// Package spill provides a bounded append buffer that overflows from memory
// to a temp file once it grows past a soft cap, so a Recorder can hold large
// response bodies without pinning them all in RAM.
package spill

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultMemCap is the soft in-memory cap before a Buffer spills to disk.
const DefaultMemCap = 512 * 1024

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("spill: buffer closed")

// Buffer is an append-only, single-owner byte buffer. Writes accumulate in
// memory up to MemCap; past that point bytes go to a temp file opened lazily
// on first overflow. Buffer is not safe for concurrent use — it is owned by
// exactly one Recorder at a time.
type Buffer struct {
	memCap int64
	dir    string

	mem      bytes.Buffer
	file     *os.File
	size     int64
	readable bool // true once a reader has started consuming the buffer
	closed   bool
}

// New returns a Buffer that spills to a temp file in dir once it exceeds
// memCap bytes. A memCap <= 0 uses DefaultMemCap.
func New(dir string, memCap int64) *Buffer {
	if memCap <= 0 {
		memCap = DefaultMemCap
	}
	return &Buffer{memCap: memCap, dir: dir}
}

// Write appends p to the buffer, spilling to disk as needed. It is an error
// to Write after Close or after the buffer has begun being read.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if b.readable {
		return 0, errors.New("spill: write after read")
	}
	if b.file == nil && b.mem.Len()+len(p) > int(b.memCap) {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}
	var n int
	var err error
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

// spill moves any in-memory bytes to a newly created temp file and routes
// subsequent writes there.
func (b *Buffer) spill() error {
	f, err := os.CreateTemp(b.dir, "rec-*.spill")
	if err != nil {
		return fmt.Errorf("spill: create temp file: %w", err)
	}
	if b.mem.Len() > 0 {
		if _, err := f.Write(b.mem.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return fmt.Errorf("spill: migrate buffered bytes: %w", err)
		}
		b.mem.Reset()
	}
	b.file = f
	return nil
}

// Tell returns the number of bytes written so far.
func (b *Buffer) Tell() int64 {
	return b.size
}

// Len is an alias for Tell, matching bytes.Buffer-style callers.
func (b *Buffer) Len() int64 {
	return b.size
}

// Seek0 rewinds the buffer for a single read-to-end pass. After calling it,
// further Writes are rejected — SpillBuffers are append-then-read-once.
func (b *Buffer) Seek0() error {
	if b.closed {
		return ErrClosed
	}
	b.readable = true
	if b.file != nil {
		_, err := b.file.Seek(0, io.SeekStart)
		return err
	}
	return nil
}

// ReadAll performs the single-pass read described by Seek0, returning every
// byte written to the buffer.
func (b *Buffer) ReadAll() ([]byte, error) {
	if err := b.Seek0(); err != nil {
		return nil, err
	}
	if b.file != nil {
		return io.ReadAll(b.file)
	}
	return append([]byte(nil), b.mem.Bytes()...), nil
}

// Reader returns a reader over the buffer's current contents without
// requiring a full ReadAll, for callers that want to stream the bytes. It
// implies Seek0.
func (b *Buffer) Reader() (io.Reader, error) {
	if err := b.Seek0(); err != nil {
		return nil, err
	}
	if b.file != nil {
		return b.file, nil
	}
	return bytes.NewReader(b.mem.Bytes()), nil
}

// Close releases the buffer, deleting any spill file.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	err := b.file.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
