package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/dunamismax/imageq/internal/domain"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := OpenStore(ctx, "none", HTTPConfig{}, "")
	if err != nil || store != nil {
		t.Fatalf("none backend: store=%v err=%v", store, err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, _, err = OpenStore(ctx, "Memory", HTTPConfig{}, "")
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", store)
	}

	store, _, err = OpenStore(ctx, "http", HTTPConfig{BaseURL: "https://catalog.example.test/api/data/"}, "")
	if err != nil {
		t.Fatalf("http backend: %v", err)
	}
	if _, ok := store.(*HTTPStore); !ok {
		t.Fatalf("expected *HTTPStore, got %T", store)
	}

	if _, _, err := OpenStore(ctx, "http", HTTPConfig{}, ""); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for http without url, got %v", err)
	}
	if _, _, err := OpenStore(ctx, "mongo", HTTPConfig{}, ""); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unknown backend, got %v", err)
	}
}
