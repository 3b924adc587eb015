package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newClone creates a bare remote with one commit on main and returns a
// clone of it.
func newClone(t *testing.T) (clone, remote string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	remote = t.TempDir()
	gitRun(t, remote, "init", "--bare")

	work := t.TempDir()
	gitRun(t, work, "clone", remote, "repo")
	clone = filepath.Join(work, "repo")
	gitRun(t, clone, "config", "user.email", "backup@example.com")
	gitRun(t, clone, "config", "user.name", "Backup")
	gitRun(t, clone, "symbolic-ref", "HEAD", "refs/heads/main")
	if err := os.WriteFile(filepath.Join(clone, ".gitkeep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, clone, "add", ".")
	gitRun(t, clone, "commit", "-m", "init")
	gitRun(t, clone, "push", "origin", "main")
	return clone, remote
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func commitCount(t *testing.T, dir string) string {
	return gitRun(t, dir, "rev-list", "--count", "main")
}

func TestGitDestination(t *testing.T) {
	clone, remote := newClone(t)
	dest := NewGitDestination(clone, "sitegate.jsonl", "main")
	dest.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	first := []byte(`{"version":"1","type":"header"}` + "\n")
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(clone, "sitegate.jsonl"))
	if err != nil || string(got) != string(first) {
		t.Fatalf("file = %q, %v", got, err)
	}
	if n := commitCount(t, remote); n != "2" {
		t.Fatalf("remote commits = %s, want 2", n)
	}
	if msg := gitRun(t, remote, "log", "-1", "--format=%s", "main"); msg != "backup: site state at 2026-03-01T12:00:00Z" {
		t.Errorf("commit message = %q", msg)
	}

	// Identical export: nothing to commit.
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("repeat write: %v", err)
	}
	if n := commitCount(t, remote); n != "2" {
		t.Fatalf("remote commits = %s after identical export, want 2", n)
	}

	second := []byte(`{"version":"1","type":"header","status_count":1}` + "\n")
	if err := dest.Write(ctx, second); err != nil {
		t.Fatalf("changed write: %v", err)
	}
	if n := commitCount(t, remote); n != "3" {
		t.Fatalf("remote commits = %s, want 3", n)
	}
}

func TestGitDestination_SubDirectory(t *testing.T) {
	clone, _ := newClone(t)
	dest := NewGitDestination(clone, "data/sitegate.jsonl", "main")

	data := []byte(`{"type":"header"}` + "\n")
	if err := dest.Write(context.Background(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(clone, "data", "sitegate.jsonl"))
	if err != nil || string(got) != string(data) {
		t.Fatalf("file = %q, %v", got, err)
	}
}

func TestGitDestination_ErrorCarriesOutput(t *testing.T) {
	clone, _ := newClone(t)
	dest := NewGitDestination(clone, "sitegate.jsonl", "no-such-branch")

	err := dest.Write(context.Background(), []byte("x\n"))
	if err == nil {
		t.Fatal("expected checkout of a missing branch to fail")
	}
	if !strings.Contains(err.Error(), "git checkout") || !strings.Contains(err.Error(), "no-such-branch") {
		t.Errorf("err = %v", err)
	}
}
