package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ShayCichocki/weave/internal/agent"
	iexec "github.com/ShayCichocki/weave/internal/exec"
	"github.com/ShayCichocki/weave/pkg/models"
)

const (
	// DefaultMaxTurns bounds the request/tool-result cycles of one invocation.
	DefaultMaxTurns = 30
	// DefaultMaxTokens is the per-request output token limit.
	DefaultMaxTokens = 8192

	statusOverloaded = 529
)

// messageSender is the subset of the SDK used by the Invoker.
type messageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Invoker runs a worker as a Messages API tool-use loop. It implements
// agent.WorkerInvoker.
type Invoker struct {
	sender    messageSender
	client    *Client
	tracker   *TokenTracker
	cmd       iexec.CommandRunner
	timeouts  *agent.TimeoutHandler
	maxTurns  int
	maxTokens int64
	logger    *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMaxTurns sets the turn limit of one invocation.
func WithMaxTurns(n int) InvokerOption {
	return func(i *Invoker) {
		if n > 0 {
			i.maxTurns = n
		}
	}
}

// WithMaxTokens sets the per-request output token limit.
func WithMaxTokens(n int64) InvokerOption {
	return func(i *Invoker) {
		if n > 0 {
			i.maxTokens = n
		}
	}
}

// WithCommandRunner sets the runner used by the Bash tool.
func WithCommandRunner(r iexec.CommandRunner) InvokerOption {
	return func(i *Invoker) { i.cmd = r }
}

// WithCommandTimeouts caps Bash tool calls at the invoking role's timeout.
func WithCommandTimeouts(h *agent.TimeoutHandler) InvokerOption {
	return func(i *Invoker) { i.timeouts = h }
}

// WithInvokerLogger sets the logger.
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker creates an Invoker backed by client.
func NewInvoker(client *Client, opts ...InvokerOption) *Invoker {
	return newInvoker(&client.inner.Messages, client, opts...)
}

func newInvoker(sender messageSender, client *Client, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		sender:    sender,
		client:    client,
		tracker:   client.Tracker(),
		cmd:       iexec.NewRunner(),
		maxTurns:  DefaultMaxTurns,
		maxTokens: DefaultMaxTokens,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke runs the worker until it ends its turn or reports a decision.
func (i *Invoker) Invoke(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
	start := time.Now()
	model := i.client.ResolveModel(inv.Model)
	sandboxed := inv.WorkDir != ""

	var executor *ToolExecutor
	if sandboxed {
		executor = NewToolExecutor(inv.WorkDir, i.cmd)
		if i.timeouts != nil {
			executor.LimitCommands(i.timeouts.GetTimeout(inv.Role))
		}
	}

	result := &agent.Result{}
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(inv.Prompt)),
	}

	for turn := 1; turn <= i.maxTurns; turn++ {
		resp, err := i.sender.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: i.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt(inv.Role, sandboxed)}},
			Messages:  messages,
			Tools:     Tools(sandboxed),
		})
		if err != nil {
			result.Duration = time.Since(start)
			return result, classify(err)
		}
		result.Cost += i.tracker.Add(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var (
			assistant []anthropic.ContentBlockParamUnion
			results   []anthropic.ContentBlockParamUnion
			text      strings.Builder
			otherUse  bool
		)
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				assistant = append(assistant, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistant = append(assistant, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				if variant.Name == RouteDecisionTool {
					d, derr := parseDecision(variant.Input)
					if derr != nil {
						results = append(results, anthropic.NewToolResultBlock(variant.ID, derr.Error(), true))
						otherUse = true
						continue
					}
					result.Decision = &d
					results = append(results, anthropic.NewToolResultBlock(variant.ID, "recorded", false))
					continue
				}

				otherUse = true
				var tr ToolResult
				if executor == nil {
					tr = failed("Tool %s is not available without a sandbox", variant.Name)
				} else {
					tr = executor.Execute(ctx, variant.Name, variant.Input)
				}
				i.logger.Debug("tool call",
					"role", inv.Role,
					"tool", variant.Name,
					"error", tr.IsError,
				)
				results = append(results, anthropic.NewToolResultBlock(variant.ID, tr.Content, tr.IsError))
			}
		}
		if text.Len() > 0 {
			result.Text = text.String()
		}

		if resp.StopReason != anthropic.StopReasonToolUse || len(results) == 0 || (result.Decision != nil && !otherUse) {
			result.Duration = time.Since(start)
			i.logger.Debug("worker finished",
				"role", inv.Role,
				"turns", turn,
				"cost", result.Cost,
				"decision", result.Decision != nil,
			)
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		messages = append(messages,
			anthropic.NewAssistantMessage(assistant...),
			anthropic.NewUserMessage(results...),
		)
	}

	result.Duration = time.Since(start)
	return result, fmt.Errorf("worker %s exceeded %d turns", inv.Role, i.maxTurns)
}

func systemPrompt(role string, sandboxed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a software engineering worker acting as the %q role in a multi-role pipeline.\n", role)
	if sandboxed {
		b.WriteString("You work inside an isolated checkout of the repository. Use the file and shell tools to make your changes there; paths are relative to the checkout.\n")
	} else {
		b.WriteString("You have no file access; answer from the prompt alone.\n")
	}
	fmt.Fprintf(&b, "When you are done, call the %s tool once with the next role or COMPLETE. Also end your reply with a line \"NEXT: <role>\" or \"NEXT: COMPLETE\".\n", RouteDecisionTool)
	return b.String()
}

func parseDecision(input json.RawMessage) (models.RoutingDecision, error) {
	var params struct {
		NextRole string `json:"next_role"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return models.RoutingDecision{}, fmt.Errorf("invalid route_decision input: %w", err)
	}
	next := strings.TrimSpace(params.NextRole)
	if next == "" {
		return models.RoutingDecision{}, errors.New("next_role is required")
	}
	if strings.EqualFold(next, "COMPLETE") {
		return models.Complete(params.Reason, true), nil
	}
	return models.RouteTo(strings.ToLower(next), params.Reason, true), nil
}

// classify marks rate limiting, overload and server errors as transient.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code == http.StatusTooManyRequests || code == statusOverloaded || code >= http.StatusInternalServerError {
			return agent.Transient(fmt.Errorf("messages api: %w", err))
		}
	}
	return fmt.Errorf("messages api: %w", err)
}
