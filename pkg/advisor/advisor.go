// Package advisor implements the optional language-model side channel
// for prioritization hints and decision confirmation. All advisory
// output is validated before use; anything malformed is discarded.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// ModelAdvisor consults a generator for ordering hints and decision
// confirmation. It never escalates severity on its own: the caller
// discards anything outside the expected shape.
type ModelAdvisor struct {
	generator interfaces.Generator
	logger    logger.Logger
}

// New creates a model-backed advisor
func New(g interfaces.Generator, log logger.Logger) *ModelAdvisor {
	return &ModelAdvisor{generator: g, logger: log}
}

// SuggestRoleOrder asks the model for a role processing order given the
// pending task counts per role. The reply must be a JSON array of role
// names; anything else is an error and the caller falls back to the
// static order.
func (a *ModelAdvisor) SuggestRoleOrder(ctx context.Context, pending map[types.Role]int) ([]types.Role, error) {
	counts, err := json.Marshal(pending)
	if err != nil {
		return nil, err
	}

	result, err := a.generator.Generate(ctx, &interfaces.GenerateRequest{
		Prompt: fmt.Sprintf("Pending task counts per role: %s\nReply with a JSON array ordering the roles executor, tester, documenter by processing priority. Reply with the array only.", counts),
		SystemPrompt: "You prioritize work for a code generation pipeline. Reply with strict JSON.",
	})
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &names); err != nil {
		return nil, fmt.Errorf("advisor returned malformed role order: %w", err)
	}

	order := make([]types.Role, 0, len(names))
	for _, name := range names {
		role, err := types.ParseRole(name)
		if err != nil {
			return nil, err
		}
		order = append(order, role)
	}
	return order, nil
}

// ConfirmDecision asks the model to confirm or soften an algorithmic
// recommendation. An unknown reply is an error; the caller keeps the
// algorithmic decision in that case.
func (a *ModelAdvisor) ConfirmDecision(ctx context.Context, algorithmic types.Recommendation, tctx types.TestContext) (types.Recommendation, error) {
	detail, err := json.Marshal(tctx)
	if err != nil {
		return "", err
	}

	result, err := a.generator.Generate(ctx, &interfaces.GenerateRequest{
		Prompt: fmt.Sprintf("Algorithmic decision: %s\nTest context: %s\nReply with exactly one of: accept, rework, manual_review.", algorithmic, detail),
		SystemPrompt: "You confirm decisions for a code generation pipeline. Reply with a single word.",
	})
	if err != nil {
		return "", err
	}

	decision, err := types.ParseRecommendation(strings.TrimSpace(strings.ToLower(result.Text)))
	if err != nil {
		return "", err
	}
	return decision, nil
}

// extractJSON pulls the first JSON array out of a reply that may be
// wrapped in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
