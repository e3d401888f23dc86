// Package openai runs the stage functions as chat completions against an
// OpenAI-compatible endpoint. Each stage gets a system prompt describing its JSON
// contract; the request payload is sent verbatim as the user message.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/invoke"
)

const maxTokens = 4096

const screeningPrompt = `You screen source files before a code review.
The user message is JSON with a "files" array of {path, name, content, language}.
Drop generated, vendored, binary and trivially small files.
Reply with a JSON object: {"status":"success","files":[...kept files, unchanged...],"skipped":{"<path>":"<reason>"}}.`

const detectionPrompt = `You are a code reviewer looking for security, performance and quality issues.
The user message is JSON with a "files" array of {path, content, language}.
Reply with a JSON object: {"status":"success","issues":[{"id","type","severity","category","file","line","code","description","title"}]}.
severity is one of CRITICAL, HIGH, MEDIUM, LOW. category is one of security, performance, quality.
type is an UPPER_SNAKE_CASE identifier such as SQL_INJECTION or INEFFICIENT_LOOP.`

const suggestionsPrompt = `You write remediation advice for code review findings.
The user message is JSON with an "issues" array.
Reply with a JSON object: {"status":"success","suggestions":[{"issueId","issueDescription",
"immediateFix":{"title","searchCode","replaceCode","explanation"},
"bestPractice":{"title","code","benefits":[]},
"testing":{"testCase","validationSteps":[]},
"prevention":{"guidelines":[],"tools":[{"name","description"}],"codeReviewChecklist":[]}}]}.
Copy issueId from the issue you address.`

// Client implements invoke.Invoker with chat completions in JSON mode.
type Client struct {
	api     *openai.Client
	model   string
	prompts map[string]string
}

func NewClient(cfg config.OpenAIConfig, fns config.FunctionsConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(oc),
		model: cfg.Model,
		prompts: map[string]string{
			fns.Screening:   screeningPrompt,
			fns.Detection:   detectionPrompt,
			fns.Suggestions: suggestionsPrompt,
		},
	}
}

func (c *Client) Name() string { return "openai" }

// Invoke runs one stage function. Async invocation is not supported.
func (c *Client) Invoke(ctx context.Context, req invoke.Request) ([]byte, error) {
	if req.Mode == invoke.ModeAsync {
		return nil, fmt.Errorf("openai backend: async invocation of %s is not supported", req.Function)
	}
	prompt, ok := c.prompts[req.Function]
	if !ok {
		return nil, fmt.Errorf("openai backend: unknown function %q", req.Function)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: string(req.Payload)},
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", invoke.ErrRemoteExecution)
	}

	return withUsage([]byte(resp.Choices[0].Message.Content), resp.Usage.TotalTokens), nil
}

// withUsage records token usage in the response summary when the model did not.
// Non-object content is returned unchanged.
func withUsage(content []byte, tokens int) []byte {
	var obj map[string]any
	if err := json.Unmarshal(content, &obj); err != nil {
		return content
	}
	summary, _ := obj["summary"].(map[string]any)
	if summary == nil {
		summary = map[string]any{}
	}
	if _, ok := summary["tokensUsed"]; ok {
		return content
	}
	summary["tokensUsed"] = tokens
	obj["summary"] = summary
	out, err := json.Marshal(obj)
	if err != nil {
		return content
	}
	return out
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status != 0 && status != http.StatusTooManyRequests && status < 500 {
		return fmt.Errorf("openai request rejected: %w", err)
	}
	return fmt.Errorf("%w: %v", invoke.ErrTransient, err)
}

var _ invoke.Invoker = (*Client)(nil)
