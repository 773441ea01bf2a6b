package chats

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"tabular/internal/agent"
	"tabular/internal/errs"
	"tabular/internal/llm"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/tools"
)

// TurnRequest starts or continues a chat with a user prompt.
type TurnRequest struct {
	ChatID *uuid.UUID
	Prompt string
}

// TurnResult is what RunTurn hands back: the persisted message and the live
// event stream for the caller to forward.
type TurnResult struct {
	ChatID    uuid.UUID
	MessageID uuid.UUID
	Events    <-chan agent.Event
}

// RunTurn creates the chat when needed, seeds the turn's message row, runs
// the agent, and persists the outcome when the run finishes. The returned
// event channel is the agent's ordered stream; dropping it cancels the run
// via ctx while already-committed tool writes remain committed.
func (s *Service) RunTurn(ctx context.Context, user *models.AuthenticatedUser, ag *agent.Agent, req TurnRequest) (*TurnResult, error) {
	var chat *models.Chat
	var err error
	if req.ChatID != nil {
		if _, err := s.Get(ctx, user, *req.ChatID); err != nil {
			return nil, err
		}
		chat, err = s.chats.Get(ctx, *req.ChatID)
	} else {
		chat, err = s.CreateChat(ctx, user, s.GenerateTitle(ctx, req.Prompt))
	}
	if err != nil {
		return nil, err
	}

	// Replay the previous transcript so the model sees the whole thread.
	var thread []llm.Message
	if last, err := s.chats.LastMessage(ctx, chat.ID); err == nil && last != nil {
		thread = decodeRawMessages(last.RawLLMMessages)
	}
	thread = append(thread, llm.Message{Role: "user", Content: req.Prompt})

	// Only one agent run may be in flight per chat.
	if ok, err := s.cache.MarkRunning(ctx, chat.ID); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("session_cache_unavailable")
	} else if !ok {
		return nil, &errs.Error{Kind: errs.KindConflictingUpdate}
	}

	now := s.now()
	prompt := req.Prompt
	message := &models.Message{
		ID:               uuid.New(),
		ChatID:           chat.ID,
		RequestMessage:   &prompt,
		ResponseMessages: json.RawMessage(`[]`),
		Reasoning:        json.RawMessage(`[]`),
		RawLLMMessages:   mustMarshal(thread),
		Title:            chat.Title,
		IsCompleted:      false,
		CreatedBy:        user.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.chats.InsertMessage(ctx, message); err != nil {
		return nil, err
	}

	source := ag.Run(ctx, thread)
	events := make(chan agent.Event, 100)
	go func() {
		defer close(events)
		collector := newTurnCollector()
		for ev := range source {
			collector.observe(ev)
			select {
			case events <- ev:
			case <-ctx.Done():
				// Consumer dropped; the agent's own ctx handling stops the
				// run. Fall through to persist what completed.
			}
		}
		s.finishTurn(ctx, user, chat, message, ag, collector)
		_ = s.cache.ClearRunning(context.WithoutCancel(ctx), chat.ID)
	}()

	return &TurnResult{ChatID: chat.ID, MessageID: message.ID, Events: events}, nil
}

// turnCollector folds the event stream into the persisted message fields.
type turnCollector struct {
	finalContent string
	failed       bool
	reasoning    []json.RawMessage
}

func newTurnCollector() *turnCollector {
	return &turnCollector{}
}

func (c *turnCollector) observe(ev agent.Event) {
	switch ev.Kind {
	case agent.EventReasoningDelta:
		if ev.ReasoningFile != nil {
			c.reasoning = append(c.reasoning, mustMarshal(ev.ReasoningFile))
		}
		if ev.ReasoningText != nil {
			c.reasoning = append(c.reasoning, mustMarshal(ev.ReasoningText))
		}
	case agent.EventMessageComplete:
		c.finalContent = ev.FinalContent
	case agent.EventError:
		c.failed = true
	}
}

func (c *turnCollector) responseBlocks(created []tools.CreatedFile, at int64) json.RawMessage {
	var blocks []map[string]any
	if c.finalContent != "" {
		blocks = append(blocks, map[string]any{
			"type":             "text",
			"id":               uuid.NewString(),
			"message":          c.finalContent,
			"is_final_message": true,
		})
	}
	for _, f := range created {
		fileType := "metric"
		if f.FileType == models.AssetTypeDashboardFile {
			fileType = "dashboard"
		}
		blocks = append(blocks, map[string]any{
			"type":           "file",
			"id":             f.ID.String(),
			"file_type":      fileType,
			"file_name":      f.Name,
			"version_number": f.VersionNumber,
			"metadata": []map[string]any{{
				"status":    "completed",
				"message":   "Created",
				"timestamp": at,
			}},
		})
	}
	return mustMarshal(blocks)
}

// finishTurn persists the completed message and its file links.
func (s *Service) finishTurn(ctx context.Context, user *models.AuthenticatedUser, chat *models.Chat, message *models.Message, ag *agent.Agent, c *turnCollector) {
	// Persist even when the surrounding request context was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	now := s.now()
	created := tools.CreatedFiles(ag.State)

	message.ResponseMessages = c.responseBlocks(created, now.Unix())
	message.Reasoning = mustMarshal(c.reasoning)
	if transcript := ag.Transcript(); len(transcript) > 0 {
		message.RawLLMMessages = mustMarshal(transcript)
	}
	message.IsCompleted = !c.failed
	message.UpdatedAt = now
	if err := s.chats.UpdateMessage(persistCtx, message); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).
			Str("message_id", message.ID.String()).Msg("turn_message_persist_failed")
		return
	}

	for i, f := range created {
		mtf := &models.MessageToFile{
			ID:            uuid.New(),
			MessageID:     message.ID,
			FileID:        f.ID,
			VersionNumber: f.VersionNumber,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.chats.InsertMessageToFile(persistCtx, mtf); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).
				Str("file_id", f.ID.String()).Msg("message_to_file_persist_failed")
			continue
		}
		// The last produced file becomes the chat's most recent.
		if i == len(created)-1 {
			chat.MostRecentFileID = &created[i].ID
			ft := f.FileType
			chat.MostRecentFileType = &ft
			vn := f.VersionNumber
			chat.MostRecentVersionNumber = &vn
			chat.UpdatedAt = now
			chat.UpdatedBy = user.ID
			if err := s.chats.Update(persistCtx, chat); err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).
					Str("chat_id", chat.ID.String()).Msg("chat_most_recent_update_failed")
			}
		}
	}
}

func decodeRawMessages(raw json.RawMessage) []llm.Message {
	var msgs []llm.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}
