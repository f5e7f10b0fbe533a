package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInterpolateFromEnv(t *testing.T) {
	os.Setenv("RTDB_TEST_VALUE", "hello")
	defer os.Unsetenv("RTDB_TEST_VALUE")

	out, err := Preprocess([]byte("name: ${RTDB_TEST_VALUE}\n"), t.TempDir())
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if string(out) != "name: hello\n" {
		t.Fatalf("got %q", out)
	}
}

func TestInterpolateUnresolvedLeftVerbatim(t *testing.T) {
	out, err := Preprocess([]byte("name: ${RTDB_TOTALLY_UNSET_VAR}\n"), t.TempDir())
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if string(out) != "name: ${RTDB_TOTALLY_UNSET_VAR}\n" {
		t.Fatalf("got %q", out)
	}
}

func TestDefineThenInterpolate(t *testing.T) {
	raw := "%define REGION us-east\naddr: host-${REGION}.example.com\n"
	out, err := Preprocess([]byte(raw), t.TempDir())
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if string(out) != "\naddr: host-us-east.example.com\n" {
		t.Fatalf("got %q", out)
	}
}

func TestIncludeInlinesFile(t *testing.T) {
	dir := t.TempDir()
	incPath := filepath.Join(dir, "extra.yaml")
	if err := os.WriteFile(incPath, []byte("extra_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	raw := "top_key: 2\n%include extra.yaml\n"
	out, err := Preprocess([]byte(raw), dir)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	want := "top_key: 2\n\nextra_key: 1\n\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestIncludeMissingFileErrors(t *testing.T) {
	_, err := Preprocess([]byte("%include nope.yaml\n"), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing include")
	}
}
