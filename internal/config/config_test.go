package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"IMAGEQ_API_ADDR", "SOURCE_PREFIX", "CATALOG_BACKEND", "CATALOG_POLICY", "WEBHOOK_MAX_ATTEMPTS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.API.Addr != ":8080" {
		t.Fatalf("unexpected api addr %q", cfg.API.Addr)
	}
	if cfg.Storage.SourcePrefix != "source" || cfg.Storage.DestPrefix != "derivative" {
		t.Fatalf("unexpected storage prefixes %+v", cfg.Storage)
	}
	if cfg.Catalog.Backend != "none" || cfg.Catalog.Policy != "replace" {
		t.Fatalf("unexpected catalog defaults %+v", cfg.Catalog)
	}
	if cfg.Worker.Concurrency < 2 || cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("unexpected worker defaults %+v", cfg.Worker)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMAGEQ_API_ADDR", ":9999")
	t.Setenv("WORKER_STAGING_ROOT", "/srv/staging")
	t.Setenv("WORKER_INPUT_ROOT", "/data")
	t.Setenv("CATALOG_BACKEND", "http")
	t.Setenv("CATALOG_POLICY", "merge")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("RATE_LIMIT_WINDOW", "90s")

	cfg := Load()
	if cfg.API.Addr != ":9999" {
		t.Fatalf("unexpected api addr %q", cfg.API.Addr)
	}
	if cfg.Worker.StagingRoot != "/srv/staging" {
		t.Fatalf("unexpected staging root %q", cfg.Worker.StagingRoot)
	}
	if cfg.Worker.InputRoot != "/data" {
		t.Fatalf("unexpected input root %q", cfg.Worker.InputRoot)
	}
	if cfg.Catalog.Backend != "http" || cfg.Catalog.Policy != "merge" {
		t.Fatalf("unexpected catalog config %+v", cfg.Catalog)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected ssl enabled")
	}
	if cfg.Queue.RedisDB != 4 {
		t.Fatalf("unexpected redis db %d", cfg.Queue.RedisDB)
	}
	if cfg.RateLimit.Window != 90*time.Second {
		t.Fatalf("unexpected window %s", cfg.RateLimit.Window)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")
	t.Setenv("MINIO_USE_SSL", "maybe")
	t.Setenv("WEBHOOK_TIMEOUT", "-5s")

	cfg := Load()
	if cfg.Queue.RedisDB != 0 {
		t.Fatalf("expected fallback redis db, got %d", cfg.Queue.RedisDB)
	}
	if cfg.Storage.UseSSL {
		t.Fatal("expected fallback ssl=false")
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Fatalf("expected fallback timeout, got %s", cfg.Webhook.Timeout)
	}
}
