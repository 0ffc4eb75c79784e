package api

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// RouteDecisionTool is the tool a worker calls to report its next step.
const RouteDecisionTool = "route_decision"

type prop struct {
	kind string
	desc string
}

func tool(name, description string, props map[string]prop, required ...string) anthropic.ToolUnionParam {
	properties := make(map[string]any, len(props))
	for k, p := range props {
		properties[k] = map[string]any{"type": p.kind, "description": p.desc}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}
}

// routeDecisionTool describes the structured routing decision.
func routeDecisionTool() anthropic.ToolUnionParam {
	return tool(RouteDecisionTool,
		"Report which role should act next once your part is done. Call it exactly once, as your last action.",
		map[string]prop{
			"next_role": {"string", "Name of the next role, or COMPLETE when the whole task is finished"},
			"reason":    {"string", "One sentence explaining the choice"},
		},
		"next_role",
	)
}

// sandboxTools are the file and shell tools available inside a sandbox.
func sandboxTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		tool("Read", "Read a file. Returns its contents with line numbers.",
			map[string]prop{
				"file_path": {"string", "Path of the file, relative to the working directory"},
				"offset":    {"integer", "Line number to start from (1-indexed, optional)"},
				"limit":     {"integer", "Maximum number of lines (optional)"},
			}, "file_path"),
		tool("Write", "Write a file, creating parent directories as needed.",
			map[string]prop{
				"file_path": {"string", "Path of the file, relative to the working directory"},
				"content":   {"string", "Full file content"},
			}, "file_path", "content"),
		tool("Edit", "Replace text in a file. old_string must be unique unless replace_all is true.",
			map[string]prop{
				"file_path":   {"string", "Path of the file, relative to the working directory"},
				"old_string":  {"string", "Exact text to replace"},
				"new_string":  {"string", "Replacement text"},
				"replace_all": {"boolean", "Replace every occurrence (default false)"},
			}, "file_path", "old_string", "new_string"),
		tool("Bash", "Run a bash command in the working directory.",
			map[string]prop{
				"command": {"string", "The command to run"},
				"timeout": {"integer", "Timeout in milliseconds (optional, default 120000)"},
			}, "command"),
		tool("Glob", "Find files whose names match a pattern.",
			map[string]prop{
				"pattern": {"string", "File name pattern, e.g. '*.go'"},
				"path":    {"string", "Directory to search (optional)"},
			}, "pattern"),
		tool("ListDir", "List a directory.",
			map[string]prop{
				"path": {"string", "Directory path (optional)"},
			}),
	}
}

// Tools returns the tool set for an invocation. Workers without a sandbox
// only get the routing tool.
func Tools(withSandbox bool) []anthropic.ToolUnionParam {
	if !withSandbox {
		return []anthropic.ToolUnionParam{routeDecisionTool()}
	}
	return append(sandboxTools(), routeDecisionTool())
}
