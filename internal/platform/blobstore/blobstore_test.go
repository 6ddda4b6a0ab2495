package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestPutAndGet(t *testing.T) {
	s := NewInMemoryStore()
	content := []byte("%PDF-1.7 consent form body")

	info, err := s.Put(context.Background(), "documents/consent-1.pdf", "application/pdf", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), info.Size)
	}
	want := fmt.Sprintf("%x", sha256.Sum256(content))
	if info.Hash != want {
		t.Errorf("expected hash %s, got %s", want, info.Hash)
	}

	rc, got, err := s.Get(context.Background(), "documents/consent-1.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, content) {
		t.Error("content round trip mismatch")
	}
	if got.ContentType != "application/pdf" {
		t.Errorf("unexpected content type %q", got.ContentType)
	}
}

func TestPutMissingKey(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Put(context.Background(), "", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestPutReplacesExisting(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	first, _ := s.Put(ctx, "k", "text/plain", strings.NewReader("version one"))
	second, err := s.Put(ctx, "k", "text/plain", strings.NewReader("version two"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Hash == second.Hash {
		t.Error("expected hash to change with content")
	}

	info, err := s.Stat(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Hash != second.Hash {
		t.Error("expected stat to reflect latest content")
	}
}

func TestGetNotFound(t *testing.T) {
	s := NewInMemoryStore()
	if _, _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
	if _, err := s.Stat(context.Background(), "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_, _ = s.Put(ctx, "k", "text/plain", strings.NewReader("x"))

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}
