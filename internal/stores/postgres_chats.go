package stores

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/errs"
	"tabular/internal/models"
)

const chatColumns = `
id, title, organization_id, created_by, updated_by, created_at, updated_at,
deleted_at, publicly_accessible, publicly_enabled_by, public_expiry_date,
workspace_sharing, most_recent_file_id, most_recent_file_type,
most_recent_version_number`

const messageColumns = `
id, chat_id, request_message, response_messages, reasoning, raw_llm_messages,
final_reasoning_message, title, feedback, is_completed, created_by, created_at,
updated_at, deleted_at`

// NewPostgresChatStore returns a Postgres-backed chat and message store.
func NewPostgresChatStore(pool *pgxpool.Pool) ChatStore {
	return &pgChatStore{pool: pool}
}

type pgChatStore struct {
	pool *pgxpool.Pool
}

func scanChat(row pgx.Row) (*models.Chat, error) {
	var c models.Chat
	if err := row.Scan(
		&c.ID, &c.Title, &c.OrganizationID, &c.CreatedBy, &c.UpdatedBy,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
		&c.PubliclyAccessible, &c.PubliclyEnabledBy, &c.PublicExpiryDate,
		&c.WorkspaceSharing, &c.MostRecentFileID, &c.MostRecentFileType,
		&c.MostRecentVersionNumber,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("chat")
		}
		return nil, err
	}
	return &c, nil
}

func chatArgs(c *models.Chat) []any {
	return []any{
		c.ID, c.Title, c.OrganizationID, c.CreatedBy, c.UpdatedBy,
		c.CreatedAt, c.UpdatedAt, c.DeletedAt,
		c.PubliclyAccessible, c.PubliclyEnabledBy, c.PublicExpiryDate,
		c.WorkspaceSharing, c.MostRecentFileID, c.MostRecentFileType,
		c.MostRecentVersionNumber,
	}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(
		&m.ID, &m.ChatID, &m.RequestMessage, &m.ResponseMessages, &m.Reasoning,
		&m.RawLLMMessages, &m.FinalReasoningMessage, &m.Title, &m.Feedback,
		&m.IsCompleted, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("message")
		}
		return nil, err
	}
	return &m, nil
}

func messageArgs(m *models.Message) []any {
	return []any{
		m.ID, m.ChatID, m.RequestMessage, m.ResponseMessages, m.Reasoning,
		m.RawLLMMessages, m.FinalReasoningMessage, m.Title, m.Feedback,
		m.IsCompleted, m.CreatedBy, m.CreatedAt, m.UpdatedAt, m.DeletedAt,
	}
}

func (s *pgChatStore) Insert(ctx context.Context, c *models.Chat) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO chats (`+chatColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, chatArgs(c)...)
	return err
}

func (s *pgChatStore) Get(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+chatColumns+`
FROM chats
WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanChat(row)
}

func (s *pgChatStore) Update(ctx context.Context, c *models.Chat) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE chats SET
  title=$2, organization_id=$3, created_by=$4, updated_by=$5, created_at=$6,
  updated_at=$7, deleted_at=$8, publicly_accessible=$9, publicly_enabled_by=$10,
  public_expiry_date=$11, workspace_sharing=$12, most_recent_file_id=$13,
  most_recent_file_type=$14, most_recent_version_number=$15
WHERE id = $1 AND deleted_at IS NULL`, chatArgs(c)...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("chat")
	}
	return nil
}

func (s *pgChatStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE chats SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("chat")
	}
	return nil
}

func (s *pgChatStore) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (`+messageColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, messageArgs(m)...)
	return err
}

func (s *pgChatStore) UpdateMessage(ctx context.Context, m *models.Message) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE messages SET
  chat_id=$2, request_message=$3, response_messages=$4, reasoning=$5,
  raw_llm_messages=$6, final_reasoning_message=$7, title=$8, feedback=$9,
  is_completed=$10, created_by=$11, created_at=$12, updated_at=$13, deleted_at=$14
WHERE id = $1 AND deleted_at IS NULL`, messageArgs(m)...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("message")
	}
	return nil
}

func (s *pgChatStore) Messages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE chat_id = $1 AND deleted_at IS NULL
ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *pgChatStore) LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE chat_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT 1`, chatID)
	m, err := scanMessage(row)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (s *pgChatStore) InsertMessageToFile(ctx context.Context, mtf *models.MessageToFile) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages_to_files (id, message_id, file_id, version_number, is_duplicate, created_at, updated_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		mtf.ID, mtf.MessageID, mtf.FileID, mtf.VersionNumber, mtf.IsDuplicate,
		mtf.CreatedAt, mtf.UpdatedAt, mtf.DeletedAt)
	return err
}

func (s *pgChatStore) FilesForMessage(ctx context.Context, messageID uuid.UUID) ([]models.MessageToFile, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, message_id, file_id, version_number, is_duplicate, created_at, updated_at, deleted_at
FROM messages_to_files
WHERE message_id = $1 AND deleted_at IS NULL
ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MessageToFile
	for rows.Next() {
		var mtf models.MessageToFile
		if err := rows.Scan(&mtf.ID, &mtf.MessageID, &mtf.FileID, &mtf.VersionNumber,
			&mtf.IsDuplicate, &mtf.CreatedAt, &mtf.UpdatedAt, &mtf.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, mtf)
	}
	return out, rows.Err()
}

func (s *pgChatStore) ChatsReferencingFile(ctx context.Context, fileID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT m.chat_id
FROM messages_to_files mtf
JOIN messages m ON m.id = mtf.message_id AND m.deleted_at IS NULL
JOIN chats c ON c.id = m.chat_id AND c.deleted_at IS NULL
WHERE mtf.file_id = $1 AND mtf.deleted_at IS NULL`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AppendMessageWithFile writes the message, its file link, and the chat's
// most_recent_file_* columns in one transaction so a dropped run never leaves
// a half-written chat turn.
func (s *pgChatStore) AppendMessageWithFile(ctx context.Context, msg *models.Message, mtf *models.MessageToFile, fileType models.AssetType) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO messages (`+messageColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, messageArgs(msg)...); err != nil {
		return err
	}
	if mtf != nil {
		if _, err := tx.Exec(ctx, `
INSERT INTO messages_to_files (id, message_id, file_id, version_number, is_duplicate, created_at, updated_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			mtf.ID, mtf.MessageID, mtf.FileID, mtf.VersionNumber, mtf.IsDuplicate,
			mtf.CreatedAt, mtf.UpdatedAt, mtf.DeletedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE chats SET
  most_recent_file_id = $2, most_recent_file_type = $3,
  most_recent_version_number = $4, updated_at = $5
WHERE id = $1 AND deleted_at IS NULL`,
			msg.ChatID, mtf.FileID, fileType, mtf.VersionNumber, msg.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *pgChatStore) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Chat, error) {
	f = f.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (c.id) `+prefixColumns("c", chatColumns)+`
FROM chats c
LEFT JOIN asset_permissions ap
  ON ap.asset_id = c.id AND ap.asset_type = 'chat' AND ap.deleted_at IS NULL
 AND (
      (ap.identity_type = 'user' AND ap.identity_id = $1)
   OR (ap.identity_type = 'team' AND ap.identity_id IN (
         SELECT team_id FROM teams_to_users WHERE user_id = $1 AND deleted_at IS NULL))
 )
WHERE c.deleted_at IS NULL
  AND c.organization_id = ANY($2)
  AND (ap.identity_id IS NOT NULL OR c.workspace_sharing <> 'none')
ORDER BY c.id, c.updated_at DESC`, userID, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByUpdatedDesc(out, func(c models.Chat) (time.Time, uuid.UUID) { return c.UpdatedAt, c.ID })
	return pageSlice(out, f), nil
}
