package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestRevalidateNoChange verifies a cycle over unchanged files is a no-op
func TestRevalidateNoChange(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "echo", echoResponse)
	l, runtime := newTestLoader(t, dir, 1<<20)

	serveOnce(t, l, "echo")

	rev := l.NewRevalidator(1)
	rev.RunOnce(context.Background())

	if runtime.Opens() != 1 {
		t.Errorf("revalidation of unchanged module must not reload, got %d opens", runtime.Opens())
	}
	if runtime.Closes() != 0 {
		t.Errorf("revalidation of unchanged module must not release, got %d closes", runtime.Closes())
	}
}

// TestRevalidateRefresh verifies a size change releases the old handle,
// reloads the module and serves the new body on the next request
func TestRevalidateRefresh(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "echo", echoResponse)
	l, runtime := newTestLoader(t, dir, 1<<20)

	if got := serveOnce(t, l, "echo"); got != echoResponse {
		t.Fatalf("initial response: %q", got)
	}

	// Overwrite with a different-sized body
	updated := "HTTP/1.0 200 OK\r\n\r\nupdated body"
	writeModule(t, dir, "echo", updated)

	rev := l.NewRevalidator(1)
	rev.RunOnce(context.Background())

	if runtime.Closes() != 1 {
		t.Errorf("expected old handle released once, got %d", runtime.Closes())
	}
	if runtime.Opens() != 2 {
		t.Errorf("expected reload, got %d opens", runtime.Opens())
	}

	if got := serveOnce(t, l, "echo"); got != updated {
		t.Errorf("expected refreshed body %q, got %q", updated, got)
	}
	if runtime.Opens() != 2 {
		t.Errorf("refreshed module must be served from cache, got %d opens", runtime.Opens())
	}
}

// TestRevalidateMissingFile verifies a vanished backing file keeps the
// loaded copy serving
func TestRevalidateMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "echo", echoResponse)
	l, runtime := newTestLoader(t, dir, 1<<20)

	serveOnce(t, l, "echo")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	rev := l.NewRevalidator(1)
	rev.RunOnce(context.Background())

	if runtime.Closes() != 0 {
		t.Errorf("stale module must be retained when stat fails, got %d closes", runtime.Closes())
	}
	if got := serveOnce(t, l, "echo"); got != echoResponse {
		t.Errorf("expected stale body to keep serving, got %q", got)
	}

	// The key must still resolve through the cache, not the filesystem
	if _, err := os.Stat(filepath.Join(dir, "echo.so")); !os.IsNotExist(err) {
		t.Fatal("test setup: file should be gone")
	}
}
