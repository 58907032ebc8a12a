// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// redacted is what every formatting path prints instead of the data.
const redacted = "[REDACTED]"

// Buffer holds sensitive data in memory that is excluded from core
// dumps and zeroed on close. The backing memory is allocated via mmap
// outside the Go heap and locked against swap when the process is
// allowed to lock memory.
//
// A Buffer must not be copied after creation; use Clone. After Close,
// any access to the buffer's contents panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
	closed bool
}

// New allocates a new secret buffer of the given size. The buffer is
// backed by an anonymous mmap region that is:
//   - Locked into physical RAM (mlock) when RLIMIT_MEMLOCK permits
//   - Excluded from core dumps (MADV_DONTDUMP)
//   - Outside the Go heap, invisible to the garbage collector
//
// A bootstore holds one page per share, and a peer collecting shares
// can briefly hold dozens. Containers commonly run with a 64 KiB
// memlock limit, so an mlock refusal (ENOMEM or EPERM) leaves the
// buffer unlocked instead of failing. [Buffer.Locked] reports which.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	locked := true
	if err := unix.Mlock(data); err != nil {
		if !errors.Is(err, unix.ENOMEM) && !errors.Is(err, unix.EPERM) {
			unix.Munmap(data)
			return nil, fmt.Errorf("secret: mlock failed: %w", err)
		}
		locked = false
	}

	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		if locked {
			unix.Munlock(data)
		}
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}

	buffer := &Buffer{
		data:   data,
		length: size,
		locked: locked,
	}
	runtime.SetFinalizer(buffer, (*Buffer).Close)
	return buffer, nil
}

// NewFromBytes creates a secret buffer from existing data. The source
// bytes are copied into the protected region and then zeroed in place,
// so the caller's original slice no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		Zero(source)
		return nil, err
	}

	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// Zero overwrites data with zeros. Use it on heap copies of secret
// material (decoded wire bytes, marshaled scalars) once they have been
// moved into a Buffer or are no longer needed.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
	runtime.KeepAlive(data)
}

// Bytes returns the secret data. The returned slice points directly into
// the mmap region; do not hold references to it beyond the lifetime of
// the Buffer. Panics if the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data[:b.length]
}

// Len returns the size of the secret data.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Locked reports whether the backing memory is locked against swap.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Clone copies the secret into a new, independently owned Buffer.
// Panics if the buffer has been closed.
func (b *Buffer) Clone() (*Buffer, error) {
	clone, err := New(b.Len())
	if err != nil {
		return nil, err
	}
	copy(clone.data, b.Bytes())
	return clone, nil
}

// Equal reports whether two buffers hold the same bytes, in time that
// depends only on the lengths. A nil buffer equals only another nil.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return subtle.ConstantTimeCompare(b.Bytes(), other.Bytes()) == 1
}

// Format implements fmt.Formatter. Every verb prints a redaction
// marker so %v, %+v, %x and %s never leak the contents.
func (b *Buffer) Format(state fmt.State, verb rune) {
	fmt.Fprint(state, redacted)
}

// GoString implements fmt.GoStringer for %#v.
func (b *Buffer) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (b *Buffer) LogValue() slog.Value { return slog.StringValue(redacted) }

// Close zeros the buffer contents, unlocks and unmaps the memory.
// After Close, any access to the buffer's Bytes() will panic.
// Close is idempotent and safe on a nil Buffer.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	runtime.SetFinalizer(b, nil)

	Zero(b.data)

	var firstError error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstError = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}

	b.data = nil
	return firstError
}
