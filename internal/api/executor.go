package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	iexec "github.com/ShayCichocki/weave/internal/exec"
)

const (
	defaultBashTimeout = 2 * time.Minute
	maxToolOutput      = 30000
)

// ToolExecutor executes tool calls inside one sandbox directory.
// Paths that resolve outside the sandbox are refused.
type ToolExecutor struct {
	workDir    string
	cmd        iexec.CommandRunner
	maxTimeout time.Duration
}

// NewToolExecutor creates a tool executor rooted at workDir.
func NewToolExecutor(workDir string, cmd iexec.CommandRunner) *ToolExecutor {
	if cmd == nil {
		cmd = iexec.NewRunner()
	}
	return &ToolExecutor{workDir: filepath.Clean(workDir), cmd: cmd}
}

// LimitCommands caps the timeout a Bash call may request. Zero means no cap.
func (e *ToolExecutor) LimitCommands(d time.Duration) *ToolExecutor {
	e.maxTimeout = d
	return e
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Content string
	IsError bool
}

func failed(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Execute runs a tool by name with the given JSON input.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	switch name {
	case "Read":
		return e.read(input)
	case "Write":
		return e.write(input)
	case "Edit":
		return e.edit(input)
	case "Bash":
		return e.bash(ctx, input)
	case "Glob":
		return e.glob(input)
	case "ListDir":
		return e.listDir(input)
	default:
		return failed("Unknown tool: %s", name)
	}
}

func (e *ToolExecutor) read(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failed("Invalid parameters: %v", err)
	}
	path, err := e.resolve(params.FilePath)
	if err != nil {
		return failed("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return failed("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return failed("Offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(lines))
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: b.String()}
}

func (e *ToolExecutor) write(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failed("Invalid parameters: %v", err)
	}
	path, err := e.resolve(params.FilePath)
	if err != nil {
		return failed("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failed("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return failed("Failed to write file: %v", err)
	}
	return ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *ToolExecutor) edit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failed("Invalid parameters: %v", err)
	}
	if params.OldString == "" {
		return failed("old_string must not be empty")
	}
	path, err := e.resolve(params.FilePath)
	if err != nil {
		return failed("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return failed("Failed to read file: %v", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	switch {
	case count == 0:
		return failed("old_string not found in file")
	case count > 1 && !params.ReplaceAll:
		return failed("old_string found %d times; must be unique or use replace_all=true", count)
	}

	n := 1
	if params.ReplaceAll {
		n = -1
	}
	if err := os.WriteFile(path, []byte(strings.Replace(text, params.OldString, params.NewString, n)), 0644); err != nil {
		return failed("Failed to write file: %v", err)
	}
	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return ToolResult{Content: "Edit successful"}
}

func (e *ToolExecutor) bash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failed("Invalid parameters: %v", err)
	}

	timeout := defaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	if e.maxTimeout > 0 && timeout > e.maxTimeout {
		timeout = e.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.cmd.Run(ctx, e.workDir, "bash", "-c", params.Command)
	result := truncate(string(output))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failed("Command timed out after %v:\n%s", timeout, result)
		}
		return failed("%s\nError: %v", result, err)
	}
	return ToolResult{Content: result}
}

func (e *ToolExecutor) glob(input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failed("Invalid parameters: %v", err)
	}
	root, err := e.resolve(params.Path)
	if err != nil {
		return failed("%v", err)
	}

	pattern := filepath.Base(params.Pattern)
	var matches []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			rel, _ := filepath.Rel(root, path)
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})

	if len(matches) == 0 {
		return ToolResult{Content: "No files matched the pattern"}
	}
	return ToolResult{Content: truncate(strings.Join(matches, "\n"))}
}

func (e *ToolExecutor) listDir(input json.RawMessage) ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failed("Invalid parameters: %v", err)
	}
	path, err := e.resolve(params.Path)
	if err != nil {
		return failed("%v", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return failed("Failed to read directory: %v", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "d %s/\n", entry.Name())
			continue
		}
		if info, err := entry.Info(); err == nil {
			fmt.Fprintf(&b, "- %s (%d bytes)\n", entry.Name(), info.Size())
		} else {
			fmt.Fprintf(&b, "? %s\n", entry.Name())
		}
	}
	return ToolResult{Content: b.String()}
}

// resolve maps path into the sandbox. Empty means the sandbox root.
func (e *ToolExecutor) resolve(path string) (string, error) {
	if path == "" {
		return e.workDir, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workDir, path)
	}
	path = filepath.Clean(path)
	if path != e.workDir && !strings.HasPrefix(path, e.workDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the working directory", path)
	}
	return path, nil
}

func truncate(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}
