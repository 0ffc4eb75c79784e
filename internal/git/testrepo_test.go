package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// newTestRepo creates a repository with one commit on main.
func newTestRepo(t *testing.T) (*ExecRunner, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	r := NewRunner(dir)
	ctx := context.Background()

	mustGit(t, r, "init", "-q")
	mustGit(t, r, "symbolic-ref", "HEAD", "refs/heads/main")
	mustGit(t, r, "config", "user.email", "weave@example.com")
	mustGit(t, r, "config", "user.name", "weave")
	mustGit(t, r, "config", "commit.gpgsign", "false")

	writeFile(t, dir, "README.md", "base\n")
	if err := r.AddAll(ctx); err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}
	if err := r.Commit(ctx, "initial"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return r, dir
}

func mustGit(t *testing.T, r Runner, args ...string) string {
	t.Helper()
	out, err := r.Run(context.Background(), args...)
	if err != nil {
		t.Fatalf("git %v failed: %v", args, err)
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s failed: %v", name, err)
	}
	return string(data)
}

// commitOnLine checks out line, writes a file, commits, and returns to main.
func commitOnLine(t *testing.T, r *ExecRunner, dir, line, file, content string) {
	t.Helper()
	ctx := context.Background()
	mustGit(t, r, "checkout", "-q", line)
	writeFile(t, dir, file, content)
	if err := r.AddAll(ctx); err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}
	if err := r.Commit(ctx, "change "+file); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	mustGit(t, r, "checkout", "-q", "main")
}
