// Package perception provides the LLM analysis backend behind a narrow client
// interface. The engine treats the backend as a collaborator: when it is
// unavailable the current phase halts rather than degrading to a cheaper
// heuristic, so every client maps transport failures to
// plan.ErrBackendUnavailable.
package perception

import (
	"context"
	"fmt"
	"strings"

	"planwright/internal/plan"
)

// LLMClient defines the interface for LLM providers.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// CleanJSONResponse removes markdown code fences from a JSON response.
func CleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// backendErr wraps a transport-level failure so callers can detect it with
// errors.Is(err, plan.ErrBackendUnavailable).
func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, plan.ErrBackendUnavailable)
}
