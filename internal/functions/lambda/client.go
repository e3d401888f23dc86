// Package lambda invokes the stage functions deployed as AWS Lambda functions.
package lambda

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/invoke"
)

const maxErrorPayload = 512

// API is the subset of the Lambda client used here.
type API interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// Client implements invoke.Invoker on top of the Lambda Invoke API.
type Client struct {
	api API
}

// New loads the default AWS credential chain for the configured region.
func New(ctx context.Context, cfg config.LambdaConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewWithAPI(awslambda.NewFromConfig(awsCfg)), nil
}

func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

func (c *Client) Name() string { return "lambda" }

// Invoke calls the function with RequestResponse for sync requests and Event for
// async ones. A function error reported by Lambda maps to invoke.ErrRemoteExecution.
func (c *Client) Invoke(ctx context.Context, req invoke.Request) ([]byte, error) {
	in := &awslambda.InvokeInput{
		FunctionName:   aws.String(req.Function),
		Payload:        req.Payload,
		InvocationType: types.InvocationTypeRequestResponse,
	}
	if req.Mode == invoke.ModeAsync {
		in.InvocationType = types.InvocationTypeEvent
	}

	out, err := c.api.Invoke(ctx, in)
	if err != nil {
		return nil, classifyError(err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("%w: %s: %s", invoke.ErrRemoteExecution, aws.ToString(out.FunctionError), truncate(out.Payload))
	}
	return out.Payload, nil
}

// classifyError maps Lambda client errors to invoke sentinels. Requests the service
// rejects as malformed or unknown are not retried.
func classifyError(err error) error {
	var (
		notFound   *types.ResourceNotFoundException
		badContent *types.InvalidRequestContentException
		tooLarge   *types.RequestTooLargeException
	)
	if errors.As(err, &notFound) || errors.As(err, &badContent) || errors.As(err, &tooLarge) {
		return fmt.Errorf("lambda request rejected: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", invoke.ErrTransient, err)
}

func truncate(b []byte) string {
	if len(b) > maxErrorPayload {
		return string(b[:maxErrorPayload]) + "..."
	}
	return string(b)
}

var _ invoke.Invoker = (*Client)(nil)
