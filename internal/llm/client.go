// Package llm defines the model-provider boundary VoxCortex reasons
// through. The interface is deliberately text-in/text-out: there is no
// ToolDefinition or ToolCall type here, because the reasoner never lets
// the model invoke anything — its only output is prose the policy gate
// will validate.
package llm

import "context"

// Client generates a single completion for a prompt.
type Client interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// ErrUpstream wraps a transport/provider failure, distinguishing it from
// a policy rejection of valid model output.
type ErrUpstream struct {
	Model string
	Err   error
}

func (e *ErrUpstream) Error() string {
	return "llm: " + e.Model + ": " + e.Err.Error()
}

func (e *ErrUpstream) Unwrap() error { return e.Err }
