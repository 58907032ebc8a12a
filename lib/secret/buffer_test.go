// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New(32): %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 32 {
		t.Errorf("Len = %d, want 32", buffer.Len())
	}
	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("byte %d = %d, want zero-filled mapping", index, value)
		}
	}
}

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) should fail", size)
		}
	}
}

func TestNewFromBytes_ZerosSource(t *testing.T) {
	source := []byte("share-material-0123456789abcdef")
	want := string(source)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if got := string(buffer.Bytes()); got != want {
		t.Errorf("contents = %q, want %q", got, want)
	}
	if !bytes.Equal(source, make([]byte, len(source))) {
		t.Error("source slice was not zeroed")
	}
}

func TestNewFromBytes_Empty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestClone_Independent(t *testing.T) {
	original, err := NewFromBytes([]byte("abcdef"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer original.Close()

	clone, err := original.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if !clone.Equal(original) {
		t.Fatal("clone differs from original")
	}

	if err := clone.Close(); err != nil {
		t.Fatalf("closing clone: %v", err)
	}
	if got := string(original.Bytes()); got != "abcdef" {
		t.Errorf("closing the clone changed the original: %q", got)
	}
}

func TestEqual(t *testing.T) {
	first, _ := NewFromBytes([]byte("same"))
	second, _ := NewFromBytes([]byte("same"))
	third, _ := NewFromBytes([]byte("diff"))
	defer first.Close()
	defer second.Close()
	defer third.Close()

	if !first.Equal(second) {
		t.Error("equal contents compared unequal")
	}
	if first.Equal(third) {
		t.Error("different contents compared equal")
	}
	if first.Equal(nil) {
		t.Error("buffer compared equal to nil")
	}
	var none *Buffer
	if !none.Equal(nil) {
		t.Error("nil should equal nil")
	}
}

func TestFormatting_Redacted(t *testing.T) {
	buffer, err := NewFromBytes([]byte("hunter2"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	holder := struct{ Share *Buffer }{Share: buffer}
	for _, format := range []string{"%v", "%+v", "%#v", "%s", "%x", "%q"} {
		rendered := fmt.Sprintf(format, holder)
		if strings.Contains(rendered, "hunter2") || strings.Contains(rendered, "68756e74657232") {
			t.Errorf("%s leaked secret: %s", format, rendered)
		}
	}

	var logged strings.Builder
	logger := slog.New(slog.NewTextHandler(&logged, nil))
	logger.Info("loaded", "share", buffer)
	if strings.Contains(logged.String(), "hunter2") {
		t.Errorf("slog leaked secret: %s", logged.String())
	}
	if !strings.Contains(logged.String(), redacted) {
		t.Errorf("slog output missing redaction marker: %s", logged.String())
	}
}

func TestClose(t *testing.T) {
	buffer, err := NewFromBytes([]byte("to be zeroed"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buffer.data != nil {
		t.Error("data should be released after Close")
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes after Close should panic")
		}
	}()
	buffer.Bytes()
}

func TestClose_Nil(t *testing.T) {
	var buffer *Buffer
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Errorf("Zero left %v", data)
	}
}
