package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/imageq/internal/domain"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTagCommand(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"tag", "--format", "TIFF", "--scale", "0.4"}, want: "tiff_040_antialias"},
		{args: []string{"tag", "-f", "jpeg", "-s", "0.4", "--crop", "10,10,200,200"}, want: "jpeg_040_antialias_10_10_200_200"},
		{args: []string{"tag", "-f", "png", "--filter", "nearest"}, want: "png_100"},
	}
	for _, tc := range cases {
		out, err := runCLI(t, tc.args...)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if got := strings.TrimSpace(out); got != tc.want {
			t.Fatalf("%v: got %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestTagCommandRejectsBadOptions(t *testing.T) {
	cases := [][]string{
		{"tag", "-f", "jpeg", "--crop", "1,2,3"},
		{"tag", "-f", "jpeg", "--crop", "10,10,5,5"},
		{"tag", "-f", "jpeg", "--scale", "0"},
		{"tag", "-f", "jpeg", "--filter", "blur"},
	}
	for _, args := range cases {
		if _, err := runCLI(t, args...); !errors.Is(err, domain.ErrConfiguration) {
			t.Fatalf("%v: expected ErrConfiguration, got %v", args, err)
		}
	}
}

func TestTagCommandRequiresFormat(t *testing.T) {
	if _, err := runCLI(t, "tag"); err == nil {
		t.Fatal("expected error without --format")
	}
}

func TestGenerateRequiresBag(t *testing.T) {
	if _, err := runCLI(t, "generate", "--format", "jpeg"); err == nil {
		t.Fatal("expected error without --bag")
	}
}

func TestParseCrop(t *testing.T) {
	crop, err := parseCrop(" 1, 2 ,3,4")
	if err != nil {
		t.Fatalf("parse crop: %v", err)
	}
	if crop != (domain.Crop{X0: 1, Y0: 2, X1: 3, Y1: 4}) {
		t.Fatalf("unexpected crop %+v", crop)
	}
	if _, err := parseCrop("a,b,c,d"); err == nil {
		t.Fatal("expected error for non-integer crop")
	}
}

func TestTransformCommandRunsInProcess(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, "staging")
	t.Setenv("WORKER_STAGING_ROOT", staging)
	t.Setenv("WORKER_PUBLIC_BASE_URL", "https://files.example.test/oulib_tasks")

	src := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	f, err := os.Create(filepath.Join(dir, "scan.png"))
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatalf("encode source: %v", err)
	}
	f.Close()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{
		"transform",
		"--input-root", dir,
		"--in", "scan.png",
		"--out", "web/scan.jpg",
		"--format", "jpeg",
		"--scale", "0.5",
		"--task-id", "cli-task",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("transform: %v (stderr=%s)", err, stderr.String())
	}

	var result domain.FileResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if result.LocalRef != "https://files.example.test/oulib_tasks/cli-task" {
		t.Fatalf("unexpected local ref %s", result.LocalRef)
	}
	if result.Width != 20 || result.Height != 10 {
		t.Fatalf("expected 20x10 output, got %dx%d", result.Width, result.Height)
	}
	if _, err := os.Stat(filepath.Join(staging, "cli-task", "web", "scan.jpg")); err != nil {
		t.Fatalf("expected derivative in task directory: %v", err)
	}
}

func TestTransformCommandRequiresPaths(t *testing.T) {
	if _, err := runCLI(t, "transform", "--format", "jpeg", "--out", "a.jpg"); err == nil {
		t.Fatal("expected error without --in")
	}
	if _, err := runCLI(t, "transform", "--format", "jpeg", "--in", "a.png", "--out", "../a.jpg"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for escaping --out, got %v", err)
	}
}
