package exec

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestExecRunner_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := NewRunner()

	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(string(out), "out") || !strings.Contains(string(out), "err") {
		t.Errorf("combined output missing a stream: %q", out)
	}
}

func TestExecRunner_OutputAttachesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := NewRunner()

	_, err := r.Output(context.Background(), "", "sh", "-c", "echo broken 1>&2; exit 3")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not include stderr", err)
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}
}

func TestExecRunner_Env(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := &ExecRunner{Env: []string{"WEAVE_TEST_VALUE=42"}}

	out, err := r.Output(context.Background(), "", "sh", "-c", "printf %s \"$WEAVE_TEST_VALUE\"")
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if string(out) != "42" {
		t.Errorf("Output() = %q, want %q", out, "42")
	}
}

func TestExitCode_NonProcessError(t *testing.T) {
	if code := ExitCode(context.Canceled); code != -1 {
		t.Errorf("ExitCode() = %d, want -1", code)
	}
}
