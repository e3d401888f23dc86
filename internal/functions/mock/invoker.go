package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/invoke"
	"github.com/kiranshivaraju/codereview/internal/templates"
)

// Invoker satisfies invoke.Invoker for tests and local development.
type Invoker struct {
	Name_      string
	InvokeFunc func(ctx context.Context, req invoke.Request) ([]byte, error)
}

func (m *Invoker) Name() string { return m.Name_ }

func (m *Invoker) Invoke(ctx context.Context, req invoke.Request) ([]byte, error) {
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return []byte(`{"status":"success"}`), nil
}

// NewInvoker returns an Invoker that answers the three stage functions locally:
// screening keeps every file, detection runs the local pattern detector and
// suggestions returns template suggestions.
func NewInvoker(fns config.FunctionsConfig) *Invoker {
	return &Invoker{
		Name_: "mock",
		InvokeFunc: func(_ context.Context, req invoke.Request) ([]byte, error) {
			var payload stagePayload
			if err := json.Unmarshal(req.Payload, &payload); err != nil {
				return nil, fmt.Errorf("%w: decoding payload: %v", invoke.ErrRemoteExecution, err)
			}
			switch req.Function {
			case fns.Screening:
				return json.Marshal(map[string]any{"status": "success", "files": payload.Files})
			case fns.Detection:
				return json.Marshal(map[string]any{"status": "success", "issues": detect(payload.Files)})
			case fns.Suggestions:
				return json.Marshal(map[string]any{"status": "success", "suggestions": templates.SuggestAll(payload.Issues)})
			default:
				return nil, fmt.Errorf("mock backend: unknown function %q", req.Function)
			}
		},
	}
}

// NewFailingInvoker returns an Invoker that always returns the given error.
func NewFailingInvoker(err error) *Invoker {
	return &Invoker{
		Name_: "mock-failing",
		InvokeFunc: func(_ context.Context, _ invoke.Request) ([]byte, error) {
			return nil, err
		},
	}
}

// NewTimeoutInvoker returns an Invoker that blocks until the context is cancelled.
func NewTimeoutInvoker() *Invoker {
	return &Invoker{
		Name_: "mock-timeout",
		InvokeFunc: func(ctx context.Context, _ invoke.Request) ([]byte, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %v", invoke.ErrTransient, ctx.Err())
		},
	}
}

var _ invoke.Invoker = (*Invoker)(nil)
