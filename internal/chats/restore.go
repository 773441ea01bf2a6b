package chats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/observability"
)

// RestoreRequest names the asset version to bring back.
type RestoreRequest struct {
	AssetID       uuid.UUID        `json:"asset_id"`
	AssetType     models.AssetType `json:"asset_type"`
	VersionNumber int              `json:"version_number"`
}

// Restore restores an asset version and documents it in the chat: the asset
// store appends a new latest version, then one message carrying a synthetic
// restore_<type> tool-call transcript and a file response block is inserted
// together with the message_to_file row and the chat's most_recent_file_*
// update.
func (s *Service) Restore(ctx context.Context, user *models.AuthenticatedUser, chatID uuid.UUID, req RestoreRequest) (*ChatWithMessages, error) {
	var (
		fileType    string
		wireType    string
		fileName    string
		fileID      uuid.UUID
		newVersion  int
		fileContent string
	)

	switch req.AssetType {
	case models.AssetTypeMetricFile:
		metric, err := s.metrics.Restore(ctx, user, req.AssetID, req.VersionNumber)
		if err != nil {
			return nil, err
		}
		yml, err := metric.Content.ToYaml()
		if err != nil {
			return nil, err
		}
		fileType, wireType = "metric_file", "metric"
		fileName, fileID = metric.Name, metric.ID
		newVersion = metric.VersionHistory.LatestNumber()
		fileContent = yml
	case models.AssetTypeDashboardFile:
		dashboard, err := s.dashboards.Restore(ctx, user, req.AssetID, req.VersionNumber)
		if err != nil {
			return nil, err
		}
		yml, err := dashboard.Content.ToYaml()
		if err != nil {
			return nil, err
		}
		fileType, wireType = "dashboard_file", "dashboard"
		fileName, fileID = dashboard.Name, dashboard.ID
		newVersion = dashboard.VersionHistory.LatestNumber()
		fileContent = yml
	default:
		return nil, errs.InvalidInput("asset_type", fmt.Sprintf("unsupported asset type for restoration: %s", req.AssetType))
	}

	// The new message continues the previous transcript so the agent can
	// replay the restoration on its next turn.
	lastMessage, err := s.chats.LastMessage(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var rawMessages []json.RawMessage
	if lastMessage != nil && len(lastMessage.RawLLMMessages) > 0 {
		_ = json.Unmarshal(lastMessage.RawLLMMessages, &rawMessages)
	}

	toolCallID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	toolName := "restore_" + fileType
	rawMessages = append(rawMessages,
		mustMarshal(map[string]any{
			"name": "analyst_agent",
			"role": "assistant",
			"tool_calls": []map[string]any{{
				"id":   toolCallID,
				"type": "function",
				"function": map[string]any{
					"name":      toolName,
					"arguments": mustString(map[string]any{"version_number": req.VersionNumber}),
				},
			}},
		}),
		mustMarshal(map[string]any{
			"name": toolName,
			"role": "tool",
			"content": mustString(map[string]any{
				"message":       fmt.Sprintf("Successfully restored 1 %s file.", wireType),
				"file_contents": fileContent,
			}),
			"tool_call_id": toolCallID,
		}),
	)

	now := s.now()
	responseBlocks := mustMarshal([]map[string]any{{
		"type":           "file",
		"id":             fileID.String(),
		"file_type":      wireType,
		"file_name":      fileName,
		"version_number": newVersion,
		"metadata": []map[string]any{{
			"status":    "completed",
			"message":   fmt.Sprintf("Restored from version %d", req.VersionNumber),
			"timestamp": now.Unix(),
		}},
	}})

	message := &models.Message{
		ID:                    uuid.New(),
		ChatID:                chatID,
		ResponseMessages:      responseBlocks,
		Reasoning:             json.RawMessage(`[]`),
		RawLLMMessages:        mustMarshal(rawMessages),
		FinalReasoningMessage: strRef(fmt.Sprintf("v%d was created by restoring v%d", newVersion, req.VersionNumber)),
		Title:                 "Version Restoration",
		IsCompleted:           false,
		CreatedBy:             user.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	mtf := &models.MessageToFile{
		ID:            uuid.New(),
		MessageID:     message.ID,
		FileID:        fileID,
		VersionNumber: newVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.chats.AppendMessageWithFile(ctx, message, mtf, req.AssetType); err != nil {
		return nil, err
	}

	observability.LoggerWithTrace(ctx).Info().
		Str("chat_id", chatID.String()).
		Str("asset_id", fileID.String()).
		Int("restored_version", req.VersionNumber).
		Int("new_version", newVersion).
		Msg("chat_version_restored")

	return s.Get(ctx, user, chatID)
}

func mustString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
