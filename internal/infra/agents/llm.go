package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// LLMClient wraps the OpenAI chat completions API with rate limiting and
// failure classification. It performs a single call per invocation; retrying
// is the scheduler's responsibility.
type LLMClient struct {
	client      openai.Client
	model       string
	temperature float64
	limiter     *common.RateLimiter
}

// NewLLMClient creates a client for the given model.
func NewLLMClient(apiKey, model string, temperature float64, rps float64, burst int) *LLMClient {
	return &LLMClient{
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
		limiter:     common.NewRateLimiter(rps, burst),
	}
}

// Complete sends one prompt and returns the model's JSON object response.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(completion.Choices) == 0 {
		return "", audit.NewFailure(audit.FailureTransient, errors.New("no completion choices returned"))
	}

	return completion.Choices[0].Message.Content, nil
}

// classifyAPIError maps OpenAI API errors to the failure taxonomy: rate
// limits and server errors are transient, other API rejections permanent,
// everything else falls through to generic classification.
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return audit.NewFailure(audit.FailureTransient, err)
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return audit.NewFailure(audit.FailureTimeout, err)
		default:
			return audit.NewFailure(audit.FailurePermanent, err)
		}
	}
	return err
}

// PromptBuilder renders the prompt for one specialist from the agent input.
type PromptBuilder func(input audit.AgentInput) string

var _ audit.AgentTask = (*SpecialistAgent)(nil)

// SpecialistAgent is an LLM-backed analyst. Each instance serves one task ID
// with its own prompt; all share one client.
type SpecialistAgent struct {
	id     string
	prompt PromptBuilder
	llm    *LLMClient

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSpecialistAgent creates an analyst for the given task.
func NewSpecialistAgent(id string, prompt PromptBuilder, llm *LLMClient, logger *logger.Logger, tracer trace.Tracer) *SpecialistAgent {
	return &SpecialistAgent{
		id:     id,
		prompt: prompt,
		llm:    llm,
		logger: logger.With("component", "specialist_agent", "task_id", id),
		tracer: tracer,
	}
}

// ID returns the stable task name this adapter serves.
func (a *SpecialistAgent) ID() string { return a.id }

// Execute runs one analysis attempt.
func (a *SpecialistAgent) Execute(ctx context.Context, input audit.AgentInput) (audit.Result, error) {
	ctx, span := a.tracer.Start(ctx, "specialist.execute",
		trace.WithAttributes(
			attribute.String("task_id", a.id),
			attribute.String("job_id", input.JobID.String()),
		))
	defer span.End()

	content, err := a.llm.Complete(ctx, a.prompt(input))
	if err != nil {
		return nil, err
	}

	if !json.Valid([]byte(content)) {
		return nil, audit.NewFailure(audit.FailureTransient, fmt.Errorf("model returned invalid JSON for task %s", a.id))
	}

	a.logger.Debug(ctx, "analysis complete", "job_id", input.JobID, "result_len", len(content))
	return audit.Result(content), nil
}
