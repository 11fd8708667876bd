package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"audiobrand-backend/internal/shared/storage/object"
)

func TestPutOpenExists(t *testing.T) {
	ctx := context.Background()
	store := New(t.TempDir())
	key := "projects/p1/artifacts/a1/audio-1.mp3"

	ok, err := store.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("expected missing object, got ok=%v err=%v", ok, err)
	}

	n, err := store.Put(ctx, key, bytes.NewReader([]byte("ID3audio")), "audio/mpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes written, got %d", n)
	}

	ok, err = store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected object to exist, got ok=%v err=%v", ok, err)
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "ID3audio" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Open(context.Background(), "nope/report.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	for _, key := range []string{"../escape.txt", "/abs/path", ""} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), "text/plain"); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestPresignGet(t *testing.T) {
	store := New(t.TempDir()).WithPublicBaseURL("http://localhost:8080/files/")
	url, err := store.PresignGet(context.Background(), "projects/p1/report.pdf", object.DefaultPresignTTL)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if url != "http://localhost:8080/files/projects/p1/report.pdf" {
		t.Fatalf("unexpected url %q", url)
	}

	fileURL, err := New(t.TempDir()).PresignGet(context.Background(), "a/b.mp3", 0)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.HasPrefix(fileURL, "file://") {
		t.Fatalf("expected file url, got %q", fileURL)
	}
}
