package generators

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
)

// CommandGenerator shells out to a local generation CLI. The prompt is
// written to stdin and the generated text is read from stdout.
type CommandGenerator struct {
	command string
	model   string
	logger  logger.Logger
}

// NewCommandGenerator creates a command backed generator. An empty
// command defaults to "claude".
func NewCommandGenerator(command, model string, log logger.Logger) *CommandGenerator {
	if command == "" {
		command = "claude"
	}
	return &CommandGenerator{
		command: command,
		model:   model,
		logger:  log,
	}
}

// Name returns the backend name
func (g *CommandGenerator) Name() string { return "command" }

// IsAvailable reports whether the command can be found on PATH
func (g *CommandGenerator) IsAvailable() bool {
	_, err := exec.LookPath(g.command)
	return err == nil
}

// Generate performs one generation call
func (g *CommandGenerator) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	args := []string{"-p"}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	model := req.Model
	if model == "" {
		model = g.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	cmd := exec.CommandContext(ctx, g.command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s failed: %s", g.command, msg)
	}

	return &interfaces.GenerateResult{
		Text:    stdout.String(),
		Backend: g.Name(),
	}, nil
}
