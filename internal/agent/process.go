package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// StreamEventType represents the type of stream event from the claude CLI.
type StreamEventType string

const (
	StreamEventSystem    StreamEventType = "system"
	StreamEventAssistant StreamEventType = "assistant"
	StreamEventUser      StreamEventType = "user"
	StreamEventResult    StreamEventType = "result"
	StreamEventError     StreamEventType = "error"
)

// StreamEvent represents a parsed event from stream-json output.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	// Message contains the event content when applicable.
	Message string `json:"message,omitempty"`
	// Error contains error details when Type is StreamEventError.
	Error string `json:"error,omitempty"`
	// Cost is total_cost_usd from a result event.
	Cost float64 `json:"cost,omitempty"`
	// IsError is set on result events that report a failed run.
	IsError bool `json:"is_error,omitempty"`
	// Raw contains the original JSON for debugging.
	Raw json.RawMessage `json:"-"`
}

// ProcessOptions configures a CLI worker process.
type ProcessOptions struct {
	// Binary is the executable to run. Defaults to "claude".
	Binary string
	// Prompt is passed with -p.
	Prompt string
	// WorkDir is the process working directory.
	WorkDir string
	// Model is passed with --model when set.
	Model string
	// AllowedTools is passed with --allowedTools when set.
	AllowedTools string
	// DrainDelay bounds how long output may stay open after the process
	// exits. Defaults to two seconds.
	DrainDelay time.Duration
}

// defaultDrainDelay bounds how long output may stay open after the worker
// process exits.
const defaultDrainDelay = 2 * time.Second

// ClaudeProcess manages one claude CLI subprocess and the process group it
// leads.
type ClaudeProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	outputCh   chan StreamEvent
	stderrBuf  []byte
	mu         sync.Mutex
	started    bool
	drainDelay time.Duration
	waitErr    error
	done       chan struct{} // stdout drained
	stderrDone chan struct{}
	exited     chan struct{}
	termOnce   sync.Once
	killTimer  *time.Timer
}

// NewClaudeProcess creates an unstarted process.
func NewClaudeProcess() *ClaudeProcess {
	return &ClaudeProcess{
		outputCh:   make(chan StreamEvent, 100),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
}

// buildArgs returns the CLI arguments for opts.
func buildArgs(opts ProcessOptions) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if opts.AllowedTools != "" {
		args = append(args, "--allowedTools", opts.AllowedTools)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	return append(args, "-p", opts.Prompt)
}

// Start launches the subprocess in its own process group. The process is
// not bound to a context; callers stop it with Terminate.
func (p *ClaudeProcess) Start(opts ProcessOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process already started")
	}

	binary := opts.Binary
	if binary == "" {
		binary = "claude"
	}
	p.drainDelay = opts.DrainDelay
	if p.drainDelay <= 0 {
		p.drainDelay = defaultDrainDelay
	}
	p.cmd = exec.Command(binary, buildArgs(opts)...)
	if opts.WorkDir != "" {
		p.cmd.Dir = opts.WorkDir
	}
	setProcessGroup(p.cmd)

	// Pipes are owned here so cmd.Wait never closes them under the readers.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	p.cmd.Stdout = outW
	p.cmd.Stderr = errW

	startErr := p.cmd.Start()
	outW.Close()
	errW.Close()
	if startErr != nil {
		outR.Close()
		errR.Close()
		return fmt.Errorf("start process: %w", startErr)
	}
	p.stdout, p.stderr = outR, errR
	p.started = true

	go p.readOutput()
	go p.readStderr()
	go p.reap()

	return nil
}

// reap waits for the worker to exit. Output still open drainDelay later is
// held by a descendant, so the group is killed and the pipes are closed.
func (p *ClaudeProcess) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)

	timer := time.NewTimer(p.drainDelay)
	defer timer.Stop()
	for _, ch := range []chan struct{}{p.done, p.stderrDone} {
		select {
		case <-ch:
		case <-timer.C:
			_ = signalGroup(p.cmd.Process, syscall.SIGKILL)
			p.stdout.Close()
			p.stderr.Close()
			return
		}
	}
}

// readOutput reads and parses JSON events from stdout.
func (p *ClaudeProcess) readOutput() {
	defer close(p.outputCh)
	defer close(p.done)
	defer p.stdout.Close()

	scanner := bufio.NewScanner(p.stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := parseStreamEvent(line)
		if err != nil {
			// Non-JSON lines are surfaced but do not end the stream.
			event = StreamEvent{
				Type:  StreamEventError,
				Error: fmt.Sprintf("parse error: %v", err),
				Raw:   append([]byte(nil), line...),
			}
		}
		p.outputCh <- event
	}

	if err := scanner.Err(); err != nil {
		p.outputCh <- StreamEvent{
			Type:  StreamEventError,
			Error: fmt.Sprintf("read error: %v", err),
		}
	}
}

// readStderr buffers stderr for error reporting.
func (p *ClaudeProcess) readStderr() {
	defer close(p.stderrDone)
	defer p.stderr.Close()
	scanner := bufio.NewScanner(p.stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		p.stderrBuf = append(p.stderrBuf, line...)
		p.stderrBuf = append(p.stderrBuf, '\n')
		p.mu.Unlock()
	}
}

// parseStreamEvent parses a JSON line into a StreamEvent.
func parseStreamEvent(data []byte) (StreamEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}, fmt.Errorf("unmarshal json: %w", err)
	}

	event := StreamEvent{
		Raw: append([]byte(nil), data...),
	}
	if t, ok := raw["type"].(string); ok {
		event.Type = StreamEventType(t)
	}

	switch event.Type {
	case StreamEventSystem, StreamEventAssistant, StreamEventUser:
		if msg, ok := raw["message"].(string); ok {
			event.Message = msg
		} else if content, ok := raw["content"].(string); ok {
			event.Message = content
		}
	case StreamEventResult:
		if result, ok := raw["result"].(string); ok {
			event.Message = result
		}
		if cost, ok := raw["total_cost_usd"].(float64); ok {
			event.Cost = cost
		}
		if isErr, ok := raw["is_error"].(bool); ok {
			event.IsError = isErr
		}
	case StreamEventError:
		if errMsg, ok := raw["error"].(string); ok {
			event.Error = errMsg
		} else if msg, ok := raw["message"].(string); ok {
			event.Error = msg
		}
	}

	return event, nil
}

// Output returns a channel that receives stream events from the process.
// The channel is closed when stdout closes.
func (p *ClaudeProcess) Output() <-chan StreamEvent {
	return p.outputCh
}

// Wait waits for the process to exit and its output to drain, then returns
// any exit error.
func (p *ClaudeProcess) Wait() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("process not started")
	}
	p.mu.Unlock()

	<-p.exited
	<-p.done
	<-p.stderrDone

	p.mu.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	stderr := string(p.stderrBuf)
	p.mu.Unlock()

	if err := p.waitErr; err != nil {
		if stderr != "" {
			return fmt.Errorf("process exited with error: %w; stderr: %s", err, stderr)
		}
		return fmt.Errorf("process exited with error: %w", err)
	}
	return nil
}

// Terminate sends SIGTERM to the process group and, if anything in it is
// still running after grace, SIGKILL. It is safe to call more than once.
func (p *ClaudeProcess) Terminate(grace time.Duration) {
	p.termOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if !p.started || p.cmd.Process == nil {
			return
		}
		proc := p.cmd.Process
		if err := signalGroup(proc, syscall.SIGTERM); err != nil {
			_ = signalGroup(proc, syscall.SIGKILL)
			return
		}
		p.killTimer = time.AfterFunc(grace, func() {
			select {
			case <-p.exited:
				select {
				case <-p.done:
					return
				default:
				}
			default:
			}
			_ = signalGroup(proc, syscall.SIGKILL)
		})
	})
}

// PID returns the process ID of the subprocess, or 0 if not started.
func (p *ClaudeProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// runProcess starts a process and drains it, terminating on ctx done.
// It returns the final result event, or an error.
func runProcess(ctx context.Context, opts ProcessOptions, grace time.Duration) (StreamEvent, error) {
	p := NewClaudeProcess()
	if err := p.Start(opts); err != nil {
		return StreamEvent{}, err
	}

	stop := context.AfterFunc(ctx, func() { p.Terminate(grace) })
	defer stop()

	var result StreamEvent
	var gotResult bool
	var lastErr string
	for event := range p.Output() {
		switch event.Type {
		case StreamEventResult:
			// Only the first result counts; later ones repeat it.
			if !gotResult {
				result = event
				gotResult = true
			}
		case StreamEventError:
			lastErr = event.Error
		}
	}

	waitErr := p.Wait()
	if ctx.Err() != nil {
		return StreamEvent{}, ctx.Err()
	}
	if waitErr != nil {
		return StreamEvent{}, waitErr
	}
	if !gotResult {
		if lastErr != "" {
			return StreamEvent{}, fmt.Errorf("no result event: %s", lastErr)
		}
		return StreamEvent{}, fmt.Errorf("no result event")
	}
	if result.IsError {
		return result, fmt.Errorf("worker reported error: %s", result.Message)
	}
	return result, nil
}
