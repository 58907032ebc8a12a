// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by [Lock] when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another process")

// Write atomically replaces the file at path with data. The data is
// written to a temporary file in the same directory, fsynced, and
// renamed into place, and the directory is fsynced so the rename
// survives power loss. Readers see either the old or the new contents.
//
// The file is created with mode 0600. The parent directory must exist.
func Write(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	directory, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("opening state directory: %w", err)
	}
	defer directory.Close()
	if err := directory.Sync(); err != nil {
		return fmt.Errorf("syncing state directory: %w", err)
	}
	return nil
}

// Read returns the contents of the file at path. When the file does
// not exist the error wraps os.ErrNotExist. A temporary file left by
// an interrupted Write is ignored.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	return data, nil
}

// Remove deletes the file at path and any temporary file beside it.
// Idempotent.
func Remove(path string) error {
	for _, candidate := range []string{path, path + ".tmp"} {
		if err := os.Remove(candidate); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", candidate, err)
		}
	}
	return nil
}

// DirLock is an exclusive advisory lock on a state directory.
type DirLock struct {
	file *os.File
}

// Lock takes an exclusive flock on a lock file inside directory, so
// two processes never drive the same state. Returns [ErrLocked] if
// another process holds it. The directory is created if needed.
func Lock(directory string) (*DirLock, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(directory, "lock"), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking state directory: %w", err)
	}
	return &DirLock{file: file}, nil
}

// Unlock releases the lock. Idempotent.
func (l *DirLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
