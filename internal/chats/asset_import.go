package chats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/sharing"
)

// assetContext is one file's structured dump seeded into raw_llm_messages
// so the agent has full context despite the chat having no user prompt.
type assetContext struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	FileType      string `json:"file_type"`
	AssetType     string `json:"asset_type"`
	YmlContent    string `json:"yml_content"`
	VersionNumber int    `json:"version_number"`
}

// ImportAsset creates a chat by pulling an asset into it: one synthesized
// message carrying a file response block and a text block, with
// raw_llm_messages seeded from the asset's YAML (and, for dashboards, every
// referenced metric's YAML).
func (s *Service) ImportAsset(ctx context.Context, user *models.AuthenticatedUser, assetID uuid.UUID, assetType models.AssetType) (*ChatWithMessages, error) {
	if ok, err := s.resolver.CheckAccess(ctx, user, assetID, assetType, sharing.Options{},
		models.RoleCanView, models.RoleCanEdit, models.RoleFullAccess, models.RoleOwner); err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Unauthorized()
	}

	main, extra, err := s.loadAssetContext(ctx, assetID, assetType)
	if err != nil {
		return nil, err
	}

	chat, err := s.CreateChat(ctx, user, main.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	messageText := fmt.Sprintf("Successfully imported 1 %s file.", main.FileType)
	if len(extra) > 0 {
		messageText = fmt.Sprintf("Successfully imported 1 %s file with %d additional context files.", main.FileType, len(extra))
	}

	allFiles := append([]assetContext{*main}, extra...)
	fileDetails, err := json.MarshalIndent(allFiles, "", "  ")
	if err != nil {
		fileDetails = []byte("Unable to format file details")
	}
	rawMessages := mustMarshal([]map[string]any{{
		"role": "user",
		"content": fmt.Sprintf("I've imported the following %s:\n\n%s\n\nFile details:\n%s",
			main.FileType, messageText, string(fileDetails)),
	}})

	responseBlocks := mustMarshal([]map[string]any{
		{
			"type":             "text",
			"id":               uuid.NewString(),
			"message":          fmt.Sprintf("%s has been pulled into a new chat.\n\nContinue chatting to modify or make changes to it.", main.Name),
			"is_final_message": true,
		},
		{
			"type":           "file",
			"id":             main.ID,
			"file_type":      main.FileType,
			"file_name":      main.Name,
			"version_number": main.VersionNumber,
			"metadata": []map[string]any{{
				"status":    "completed",
				"message":   "Pulled into new chat",
				"timestamp": now.Unix(),
			}},
		},
	})

	message := &models.Message{
		ID:                    uuid.New(),
		ChatID:                chat.ID,
		ResponseMessages:      responseBlocks,
		Reasoning:             json.RawMessage(`[]`),
		RawLLMMessages:        rawMessages,
		FinalReasoningMessage: strRef(""),
		Title:                 main.Name,
		IsCompleted:           true,
		CreatedBy:             user.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	mtf := &models.MessageToFile{
		ID:            uuid.New(),
		MessageID:     message.ID,
		FileID:        assetID,
		VersionNumber: main.VersionNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.chats.AppendMessageWithFile(ctx, message, mtf, assetType); err != nil {
		return nil, err
	}

	observability.LoggerWithTrace(ctx).Info().
		Str("chat_id", chat.ID.String()).
		Str("asset_id", assetID.String()).
		Int("context_files", len(extra)).
		Msg("asset_imported_into_chat")

	return s.Get(ctx, user, chat.ID)
}

// loadAssetContext reads the asset's YAML dump plus, for dashboards, the
// YAML of every referenced metric.
func (s *Service) loadAssetContext(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*assetContext, []assetContext, error) {
	switch assetType {
	case models.AssetTypeMetricFile:
		metric, err := s.metricRows.Get(ctx, assetID)
		if err != nil {
			return nil, nil, err
		}
		yml, err := metric.Content.ToYaml()
		if err != nil {
			return nil, nil, err
		}
		return &assetContext{
			ID:            metric.ID.String(),
			Name:          metric.Name,
			FileType:      "metric",
			AssetType:     "metric_file",
			YmlContent:    yml,
			VersionNumber: metric.VersionHistory.LatestNumber(),
		}, nil, nil

	case models.AssetTypeDashboardFile:
		dashboard, err := s.dashRows.Get(ctx, assetID)
		if err != nil {
			return nil, nil, err
		}
		yml, err := dashboard.Content.ToYaml()
		if err != nil {
			return nil, nil, err
		}
		main := &assetContext{
			ID:            dashboard.ID.String(),
			Name:          dashboard.Name,
			FileType:      "dashboard",
			AssetType:     "dashboard_file",
			YmlContent:    yml,
			VersionNumber: dashboard.VersionHistory.LatestNumber(),
		}
		var extra []assetContext
		metrics, err := s.metricRows.GetMany(ctx, dashboard.Content.MetricIDs())
		if err != nil {
			return nil, nil, err
		}
		for _, m := range metrics {
			myml, err := m.Content.ToYaml()
			if err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).
					Str("metric_id", m.ID.String()).
					Msg("dashboard_context_metric_render_failed")
				continue
			}
			extra = append(extra, assetContext{
				ID:            m.ID.String(),
				Name:          m.Name,
				FileType:      "metric",
				AssetType:     "metric_file",
				YmlContent:    myml,
				VersionNumber: m.VersionHistory.LatestNumber(),
			})
		}
		return main, extra, nil

	default:
		return nil, nil, errs.InvalidInput("asset_type", fmt.Sprintf("unsupported asset type for import: %s", assetType))
	}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return b
}

func strRef(s string) *string { return &s }
