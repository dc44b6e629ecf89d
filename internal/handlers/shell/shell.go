// Package shell implements the shell.exec task handler.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"cronagent/internal/executor"
)

// Name is the registry key.
const Name = "shell.exec"

// maxOutput bounds the output quoted in errors.
const maxOutput = 2 << 10

// Params are the task constructor parameters.
type Params struct {
	// Dir is the working directory; empty keeps the agent's.
	Dir string `json:"dir"`
	// Env entries in KEY=VALUE form are appended to the agent's environment.
	Env []string `json:"env"`
}

// Cmd is the per-instance argument.
type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Shell runs one command per invocation. The command is executed directly,
// not through a shell interpreter.
type Shell struct {
	dir string
	env []string
}

// Factory builds Shell handlers.
func Factory(raw json.RawMessage) (executor.TaskHandler, error) {
	var p Params
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("shell.exec parameters: %w", err)
		}
	}
	return &Shell{dir: p.Dir, env: p.Env}, nil
}

// Invoke implements executor.TaskHandler.
func (h *Shell) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var c Cmd
	if len(args) > 0 {
		if err := json.Unmarshal(args, &c); err != nil {
			return nil, fmt.Errorf("invalid command arguments: %w", err)
		}
	}
	if c.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = h.dir
	if len(h.env) > 0 {
		cmd.Env = append(cmd.Environ(), h.env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", c.Command, err, truncate(strings.TrimSpace(string(out))))
	}
	return true, nil
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "..."
}
