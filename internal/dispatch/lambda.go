package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"turing-game/internal/domain"
)

// lambdaAPI is the minimal Lambda interface required by LambdaInvoker.
type lambdaAPI interface {
	Invoke(ctx context.Context, in *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// LambdaInvoker hands reply requests to the responder function with an
// asynchronous (Event) invocation. Lambda queues the event and retries it on
// function errors; the caller never waits for the reply.
type LambdaInvoker struct {
	api      lambdaAPI
	function string
}

func NewLambdaInvoker(api lambdaAPI, function string) (*LambdaInvoker, error) {
	if api == nil {
		return nil, errors.New("dispatch: lambda api must not be nil")
	}
	function = strings.TrimSpace(function)
	if function == "" {
		return nil, errors.New("dispatch: function name must not be empty")
	}
	return &LambdaInvoker{api: api, function: function}, nil
}

func (l *LambdaInvoker) DispatchReply(ctx context.Context, req domain.ReplyRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("dispatch: marshal reply request: %w", err)
	}
	out, err := l.api.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("dispatch: invoke %s: %w", l.function, err)
	}
	if out != nil && out.StatusCode != 202 {
		return fmt.Errorf("dispatch: invoke %s: unexpected status %d", l.function, out.StatusCode)
	}
	return nil
}
