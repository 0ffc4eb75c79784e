package git

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// recordingCommands captures every command instead of running it.
type recordingCommands struct {
	calls  [][]string
	output string
	err    error
}

func (c *recordingCommands) Run(_ context.Context, workDir, name string, args ...string) ([]byte, error) {
	c.calls = append(c.calls, append([]string{workDir, name}, args...))
	return []byte(c.output), c.err
}

func (c *recordingCommands) Output(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return c.Run(ctx, workDir, name, args...)
}

func (c *recordingCommands) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func TestExecRunner_CommandArgs(t *testing.T) {
	tests := []struct {
		name string
		call func(r *ExecRunner) error
		want []string
	}{
		{
			name: "merge no-ff",
			call: func(r *ExecRunner) error {
				return r.MergeNoFFMessage(context.Background(), "weave/a", "msg")
			},
			want: []string{"/repo", "git", "merge", "--no-ff", "-m", "msg", "weave/a"},
		},
		{
			name: "branch at base",
			call: func(r *ExecRunner) error {
				return r.CreateBranchAt(context.Background(), "weave/a", "main")
			},
			want: []string{"/repo", "git", "branch", "weave/a", "main"},
		},
		{
			name: "worktree add",
			call: func(r *ExecRunner) error {
				return r.WorktreeAdd(context.Background(), "/wt/a", "weave/a")
			},
			want: []string{"/repo", "git", "worktree", "add", "/wt/a", "weave/a"},
		},
		{
			name: "reset hard",
			call: func(r *ExecRunner) error {
				return r.ResetHard(context.Background(), "abc123")
			},
			want: []string{"/repo", "git", "reset", "--hard", "abc123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &recordingCommands{}
			r := NewRunnerWithCommands("/repo", cmds)
			if err := tt.call(r); err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if len(cmds.calls) != 1 || !reflect.DeepEqual(cmds.calls[0], tt.want) {
				t.Errorf("calls = %v, want [%v]", cmds.calls, tt.want)
			}
		})
	}
}

func TestExecRunner_At(t *testing.T) {
	cmds := &recordingCommands{}
	r := NewRunnerWithCommands("/repo", cmds)

	if err := r.At("/wt/a").AddAll(context.Background()); err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}
	if cmds.calls[0][0] != "/wt/a" {
		t.Errorf("command ran in %q, want /wt/a", cmds.calls[0][0])
	}
}

func TestExecRunner_ErrorIncludesOutput(t *testing.T) {
	cmds := &recordingCommands{output: "fatal: bad ref\n", err: errors.New("exit status 128")}
	r := NewRunnerWithCommands("/repo", cmds)

	_, err := r.RevParse(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "git rev-parse --verify nope") || !strings.Contains(err.Error(), "fatal: bad ref") {
		t.Errorf("error = %q", err)
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("a.go\n\n  b.go \n")
	if !reflect.DeepEqual(got, []string{"a.go", "b.go"}) {
		t.Errorf("splitLines() = %v", got)
	}
	if splitLines("") != nil {
		t.Error("splitLines(\"\") should be nil")
	}
}
