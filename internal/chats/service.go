// Package chats materializes chats with their messages, including the
// auto-generated asset-import and version-restore messages, and runs agent
// turns against a chat thread.
package chats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tabular/internal/database"
	"tabular/internal/errs"
	"tabular/internal/files"
	"tabular/internal/llm"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/search"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

// Service aggregates chats and coordinates the handlers around them.
type Service struct {
	chats      stores.ChatStore
	metrics    *files.MetricService
	dashboards *files.DashboardService
	metricRows stores.MetricStore
	dashRows   stores.DashboardStore
	perms      stores.PermissionStore
	resolver   *sharing.Resolver
	index      search.Index
	provider   llm.Provider
	titleModel string
	cache      *database.SessionCache
	now        func() time.Time
}

type ServiceConfig struct {
	Chats      stores.ChatStore
	Metrics    *files.MetricService
	Dashboards *files.DashboardService
	MetricRows stores.MetricStore
	DashRows   stores.DashboardStore
	Perms      stores.PermissionStore
	Resolver   *sharing.Resolver
	Index      search.Index
	Provider   llm.Provider
	TitleModel string
	Cache      *database.SessionCache
	Now        func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		chats:      cfg.Chats,
		metrics:    cfg.Metrics,
		dashboards: cfg.Dashboards,
		metricRows: cfg.MetricRows,
		dashRows:   cfg.DashRows,
		perms:      cfg.Perms,
		resolver:   cfg.Resolver,
		index:      cfg.Index,
		provider:   cfg.Provider,
		titleModel: cfg.TitleModel,
		cache:      cfg.Cache,
		now:        func() time.Time { return now().UTC() },
	}
}

// ChatWithMessages is the aggregate read model for a chat.
type ChatWithMessages struct {
	Chat                  models.Chat               `json:"chat"`
	Messages              []models.Message          `json:"messages"`
	IndividualPermissions []models.AssetPermission  `json:"individual_permissions"`
	PubliclyAccessible    bool                      `json:"publicly_accessible"`
	PublicExpiryDate      *time.Time                `json:"public_expiry_date,omitempty"`
	PubliclyEnabledBy     *uuid.UUID                `json:"publicly_enabled_by,omitempty"`
	EffectivePermission   models.AssetPermissionRole `json:"effective_permission"`
}

// Get authorizes at least CanView and returns the chat with its messages
// ordered created_at ASC, individual grants, and the caller's effective
// role. The independent reads run concurrently.
func (s *Service) Get(ctx context.Context, user *models.AuthenticatedUser, chatID uuid.UUID) (*ChatWithMessages, error) {
	role, ok, err := s.resolver.EffectiveRole(ctx, user, chatID, models.AssetTypeChat, sharing.Options{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Unauthorized()
	}

	var (
		chat        *models.Chat
		messages    []models.Message
		permissions []models.AssetPermission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chat, err = s.chats.Get(gctx, chatID)
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = s.chats.Messages(gctx, chatID)
		return err
	})
	g.Go(func() error {
		var err error
		permissions, err = s.perms.ListForAsset(gctx, chatID, models.AssetTypeChat)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ChatWithMessages{
		Chat:                  *chat,
		Messages:              messages,
		IndividualPermissions: permissions,
		PubliclyAccessible:    chat.PubliclyAccessible,
		PublicExpiryDate:      chat.PublicExpiryDate,
		PubliclyEnabledBy:     chat.PubliclyEnabledBy,
		EffectivePermission:   role,
	}, nil
}

// CreateChat inserts an empty chat owned by the user and indexes it.
func (s *Service) CreateChat(ctx context.Context, user *models.AuthenticatedUser, title string) (*models.Chat, error) {
	orgID := uuid.Nil
	if len(user.Organizations) > 0 {
		orgID = user.Organizations[0].OrganizationID
	} else {
		return nil, errs.Unauthorized()
	}
	now := s.now()
	chat := &models.Chat{
		ID:               uuid.New(),
		Title:            title,
		OrganizationID:   orgID,
		CreatedBy:        user.ID,
		UpdatedBy:        user.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
		WorkspaceSharing: models.WorkspaceSharingNone,
	}
	if err := s.chats.Insert(ctx, chat); err != nil {
		return nil, err
	}
	if err := s.perms.Upsert(ctx, &models.AssetPermission{
		AssetID:      chat.ID,
		AssetType:    models.AssetTypeChat,
		IdentityID:   user.ID,
		IdentityType: models.IdentityTypeUser,
		Role:         models.RoleOwner,
		CreatedBy:    user.ID,
		UpdatedBy:    user.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, err
	}
	if s.index != nil {
		if err := s.index.Upsert(ctx, chat.ID, models.AssetTypeChat, chat.Title); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("chat_id", chat.ID.String()).Msg("search_index_update_failed")
		}
	}
	return chat, nil
}

// GenerateTitle asks the model for a short chat title from the first user
// prompt. Failures fall back to a truncation.
func (s *Service) GenerateTitle(ctx context.Context, prompt string) string {
	fallback := prompt
	if len(fallback) > 60 {
		fallback = fallback[:60]
	}
	if s.provider == nil {
		return fallback
	}
	msg, err := s.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Generate a concise title (max 8 words) for a chat that starts with the following message. Return only the title."},
		{Role: "user", Content: prompt},
	}, nil, s.titleModel, llm.Options{MaxTokens: 32})
	if err != nil || msg.Content == "" {
		return fallback
	}
	title := msg.Content
	if len(title) > 120 {
		title = title[:120]
	}
	return title
}

// List returns chats the user can reach, ordered updated_at DESC with id
// ASC tie-break.
func (s *Service) List(ctx context.Context, user *models.AuthenticatedUser, f stores.ListFilter) ([]models.Chat, error) {
	ids := make([]uuid.UUID, 0, len(user.Organizations))
	for _, m := range user.Organizations {
		ids = append(ids, m.OrganizationID)
	}
	return s.chats.ListAccessible(ctx, user.ID, ids, f)
}
