// Package functions selects the backend that hosts the screening, detection and
// suggestion functions.
package functions

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/functions/httpfn"
	"github.com/kiranshivaraju/codereview/internal/functions/lambda"
	"github.com/kiranshivaraju/codereview/internal/functions/mock"
	"github.com/kiranshivaraju/codereview/internal/functions/openai"
	"github.com/kiranshivaraju/codereview/internal/invoke"
)

// NewInvoker constructs the configured backend. Called once at startup.
func NewInvoker(ctx context.Context, cfg config.FunctionsConfig) (invoke.Invoker, error) {
	switch cfg.Backend {
	case "lambda":
		c, err := lambda.New(ctx, cfg.Lambda)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "http":
		return httpfn.NewClient(cfg.HTTP.BaseURL, cfg.HTTP.APIKey, cfg.Timeout), nil
	case "openai":
		return openai.NewClient(cfg.OpenAI, cfg), nil
	case "mock":
		return mock.NewInvoker(cfg), nil
	default:
		return nil, fmt.Errorf("unknown functions backend %q: must be one of lambda, http, openai, mock", cfg.Backend)
	}
}
