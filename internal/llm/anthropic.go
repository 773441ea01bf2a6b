package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tabular/internal/errs"
	"tabular/internal/observability"
)

const anthropicDefaultMaxTokens int64 = 8192

// AnthropicClient implements Provider over the Anthropic Messages API, for
// deployments that route the agent to Claude models instead of an
// OpenAI-compatible gateway.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

func NewAnthropicClient(baseURL, apiKey, defaultModel string, httpClient *http.Client) *AnthropicClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), model: defaultModel}
}

func (c *AnthropicClient) buildParams(msgs []Message, tools []ToolSchema, model string, opts Options) anthropic.MessageNewParams {
	system, converted := adaptAnthropicMessages(msgs)
	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	m := model
	if strings.TrimSpace(m) == "" {
		m = c.model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m),
		Messages:  converted,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = adaptAnthropicTools(tools)
	}
	return params
}

func (c *AnthropicClient) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, opts Options) (Message, error) {
	log := observability.LoggerWithTrace(ctx)
	params := c.buildParams(msgs, tools, model, opts)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_chat_error")
		return Message{}, wrapUpstream(err)
	}
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_chat_ok")

	out := Message{Role: "assistant"}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: json.RawMessage(b.Input),
			})
		}
	}
	return out, nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, opts Options, h StreamHandler) error {
	log := observability.LoggerWithTrace(ctx)
	params := c.buildParams(msgs, tools, model, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(chunkInactivityTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	toolCalls := make(map[int]*ToolCall)
	for stream.Next() {
		watchdog.Reset(chunkInactivityTimeout)
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				idx := int(ev.Index)
				toolCalls[idx] = &ToolCall{ID: tu.ID, Name: tu.Name}
				h.OnToolCallStart(idx, tu.ID, tu.Name)
			}
		case anthropic.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				h.OnDelta(d.Text)
			case anthropic.InputJSONDelta:
				if tc := toolCalls[idx]; tc != nil && d.PartialJSON != "" {
					tc.Args = append(tc.Args, d.PartialJSON...)
					h.OnToolCallDelta(idx, tc.ID, d.PartialJSON)
				}
			}
		case anthropic.ContentBlockStopEvent:
			if tc := toolCalls[int(ev.Index)]; tc != nil {
				h.OnToolCall(*tc)
			}
		}
	}
	if timedOut.Load() {
		log.Error().Str("model", string(params.Model)).Msg("anthropic_stream_inactivity_timeout")
		return errs.UpstreamTimeout("llm")
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("model", string(params.Model)).Msg("anthropic_stream_error")
		return wrapUpstream(err)
	}
	return nil
}

func adaptAnthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"].(map[string]any); ok {
			schema.Properties = props
		}
		if req, ok := t.Parameters["required"]; ok {
			schema.SetExtraFields(map[string]any{"required": req})
		}
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func adaptAnthropicMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system", "developer":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Args, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolID, m.Content, false)))
		}
	}
	return system, out
}
