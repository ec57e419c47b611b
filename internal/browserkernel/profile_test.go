package browserkernel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveSecurePathRejectsTraversal(t *testing.T) {
	base := t.TempDir()

	if _, err := resolveSecurePath(base, "../escape"); !errors.Is(err, ErrSecurityViolation) {
		t.Fatalf("expected security violation for traversal, got %v", err)
	}
}

func TestResolveSecurePathRejectsSymlink(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "linked")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink setup: %v", err)
	}

	if _, err := resolveSecurePath(base, "linked/child"); !errors.Is(err, ErrSecurityViolation) {
		t.Fatalf("expected security violation for symlinked ancestor, got %v", err)
	}
}

func TestResolveSecurePathCreatesOwnerOnlyDir(t *testing.T) {
	base := t.TempDir()

	resolved, err := resolveSecurePath(base, "profile_main")
	if err != nil {
		t.Fatalf("resolveSecurePath: %v", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		t.Fatalf("stat resolved dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("expected 0700 permissions, got %v", info.Mode().Perm())
	}
}

func TestPersistAndRestoreProfileRoundTrip(t *testing.T) {
	durable := t.TempDir()
	ephemeral := t.TempDir()

	if err := os.WriteFile(filepath.Join(ephemeral, "Cookies"), []byte("jar"), 0o600); err != nil {
		t.Fatalf("seed cookies: %v", err)
	}

	persistProfile(ephemeral, durable, testLogger())

	if _, err := os.Stat(filepath.Join(durable, "Cookies")); err != nil {
		t.Fatalf("expected cookies persisted to durable dir: %v", err)
	}

	restoreTarget := t.TempDir()
	restoreProfile(durable, restoreTarget, testLogger())

	if _, err := os.Stat(filepath.Join(restoreTarget, "Cookies")); err != nil {
		t.Fatalf("expected cookies restored into ephemeral dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(restoreTarget, "Default", "Cookies")); err != nil {
		t.Fatalf("expected cookies also restored into Default subdir: %v", err)
	}
}

func TestPersistProfilePrefersDefaultSubdirWhenRootHasNoCookies(t *testing.T) {
	durable := t.TempDir()
	ephemeral := t.TempDir()

	defaultDir := filepath.Join(ephemeral, "Default")
	if err := os.MkdirAll(defaultDir, 0o700); err != nil {
		t.Fatalf("mkdir Default: %v", err)
	}
	if err := os.WriteFile(filepath.Join(defaultDir, "Cookies"), []byte("jar"), 0o600); err != nil {
		t.Fatalf("seed cookies: %v", err)
	}

	persistProfile(ephemeral, durable, testLogger())

	if _, err := os.Stat(filepath.Join(durable, "Cookies")); err != nil {
		t.Fatalf("expected cookies found via Default subdir and persisted: %v", err)
	}
}

func TestKillStaleProcessNoMatchIsNonFatal(t *testing.T) {
	// No process will ever hold this throwaway directory; this only
	// verifies the best-effort call does not panic or block.
	killStaleProcess(context.Background(), filepath.Join(t.TempDir(), "nonexistent"), testLogger())
}
