package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/H2Shami/LLM-Arena/internal/domain"
)

func TestPrepareOverlayWinsOnConflict(t *testing.T) {
	root := t.TempDir()
	template := t.TempDir()

	if err := os.WriteFile(filepath.Join(template, "package.json"), []byte(`{"name":"template"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(template, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(template, "src", "base.txt"), []byte("from template"), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr, err := New(root, template)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	dir, err := mgr.Prepare("run-1", map[string]string{
		"package.json":        `{"name":"generated"}`,
		"src/page.tsx":        "export default function Page() {}",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"name":"generated"}` {
		t.Fatalf("expected overlay to win, got %q", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "src", "base.txt")); err != nil {
		t.Fatalf("expected template file preserved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "page.tsx")); err != nil {
		t.Fatalf("expected overlay file written: %v", err)
	}
}

func TestPrepareRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = mgr.Prepare("run-2", map[string]string{
		"../../etc/passwd": "pwned",
	})
	if err == nil {
		t.Fatal("expected UnsafePathError, got nil")
	}
	var unsafe *domain.UnsafePathError
	if !errors.As(err, &unsafe) {
		t.Fatalf("expected *domain.UnsafePathError, got %T", err)
	}

	if _, statErr := os.Stat(filepath.Join(root, "run-2")); !os.IsNotExist(statErr) {
		t.Fatal("expected no partial workspace left behind")
	}
}

func TestPrepareRejectsAbsolutePath(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = mgr.Prepare("run-3", map[string]string{
		"/etc/passwd": "pwned",
	})
	var unsafe *domain.UnsafePathError
	if !errors.As(err, &unsafe) {
		t.Fatalf("expected *domain.UnsafePathError, got %T", err)
	}
}

func TestCleanupByIDIsIdempotent(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := mgr.Prepare("run-4", map[string]string{"a.txt": "hi"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if err := mgr.CleanupByID("run-4"); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if err := mgr.CleanupByID("run-4"); err != nil {
		t.Fatalf("second cleanup should be idempotent: %v", err)
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	mgr, err := New(root, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := mgr.Cleanup("/tmp"); err == nil {
		t.Fatal("expected refusal to clean up outside root")
	}
}
