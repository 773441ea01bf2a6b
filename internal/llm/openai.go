package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"tabular/internal/errs"
	"tabular/internal/observability"
)

// chunkInactivityTimeout aborts a stream when the provider stalls between
// chunks.
const chunkInactivityTimeout = 60 * time.Second

// OpenAIClient implements Provider over any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	sdk   sdk.Client
	model string
}

func NewOpenAIClient(baseURL, apiKey, defaultModel string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &OpenAIClient{sdk: sdk.NewClient(opts...), model: defaultModel}
}

func (c *OpenAIClient) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

func (c *OpenAIClient) buildParams(msgs []Message, tools []ToolSchema, model string, opts Options) sdk.ChatCompletionNewParams {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.pickModel(model)),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(opts.MaxTokens))
	}
	if opts.JSONResponse {
		params.SetExtraFields(map[string]any{
			"response_format": map[string]string{"type": "json_object"},
		})
	}
	return params
}

// Chat implements Provider.Chat.
func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, opts Options) (Message, error) {
	log := observability.LoggerWithTrace(ctx)
	params := c.buildParams(msgs, tools, model, opts)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Int("tools", len(tools)).Dur("duration", dur).Msg("chat_completion_error")
		return Message{}, wrapUpstream(err)
	}
	log.Debug().Str("model", string(params.Model)).Int("tools", len(tools)).Dur("duration", dur).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Msg("chat_completion_ok")

	if len(comp.Choices) == 0 {
		return Message{Role: "assistant"}, nil
	}
	msg := comp.Choices[0].Message
	out := Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   v.ID,
				Name: v.Function.Name,
				Args: json.RawMessage(v.Function.Arguments),
			})
		}
	}
	return out, nil
}

// ChatStream implements Provider.ChatStream. Tool-call argument fragments are
// surfaced through OnToolCallDelta as they arrive and flushed as complete
// calls when the choice finishes.
func (c *OpenAIClient) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, opts Options, h StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	params := c.buildParams(msgs, tools, model, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	// Abort when the provider goes silent between chunks.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(chunkInactivityTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	// Accumulate tool calls across chunks; arguments arrive incrementally,
	// keyed by the API-provided index.
	toolCalls := make(map[int]*ToolCall)
	started := make(map[int]bool)
	flushed := false

	for stream.Next() {
		watchdog.Reset(chunkInactivityTimeout)
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if toolCalls[idx] == nil {
				toolCalls[idx] = &ToolCall{ID: tc.ID}
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if !started[idx] && toolCalls[idx].Name != "" {
				started[idx] = true
				h.OnToolCallStart(idx, toolCalls[idx].ID, toolCalls[idx].Name)
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Args = append(toolCalls[idx].Args, tc.Function.Arguments...)
				h.OnToolCallDelta(idx, toolCalls[idx].ID, tc.Function.Arguments)
			}
		}

		if chunk.Choices[0].FinishReason != "" && !flushed {
			for i := 0; i < len(toolCalls); i++ {
				tc := toolCalls[i]
				if tc != nil && tc.Name != "" {
					h.OnToolCall(*tc)
				}
			}
			flushed = true
		}
	}

	err := stream.Err()
	dur := time.Since(start)
	if timedOut.Load() {
		log.Error().Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_stream_inactivity_timeout")
		return errs.UpstreamTimeout("llm")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_stream_error")
		return wrapUpstream(err)
	}
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Msg("chat_stream_ok")
	return nil
}

func wrapUpstream(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.UpstreamTimeout("llm")
	}
	return errs.UpstreamError("llm", err.Error())
}

func adaptSchemas(schemas []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		def := sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

func adaptMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system", "developer":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			content := m.Content
			if content == "" {
				content = " "
			}
			out = append(out, sdk.UserMessage(content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			content := m.Content
			if content == "" {
				content = " "
			}
			asst.Content.OfString = sdk.String(content)
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			content := m.Content
			if content == "" {
				content = `{"error": "empty tool response"}`
			}
			out = append(out, sdk.ToolMessage(content, m.ToolID))
		}
	}
	return out
}
