package stores

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabular/internal/assets"
	"tabular/internal/errs"
	"tabular/internal/models"
)

// cloneHistory detaches a version-history map so callers cannot mutate
// stored rows, matching the row-copy behavior of the Postgres stores.
func cloneHistory[T any](h assets.VersionHistory[T]) assets.VersionHistory[T] {
	if h == nil {
		return nil
	}
	out := make(assets.VersionHistory[T], len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Memory is an in-memory implementation of every store interface, used by
// tests and single-node development. Semantics mirror the Postgres stores,
// including soft-delete filtering.
type Memory struct {
	mu sync.RWMutex

	metrics     map[uuid.UUID]*models.MetricFile
	dashboards  map[uuid.UUID]*models.DashboardFile
	collections map[uuid.UUID]*models.Collection
	chats       map[uuid.UUID]*models.Chat
	messages    map[uuid.UUID]*models.Message
	orgs        map[uuid.UUID]*models.Organization
	datasets    map[uuid.UUID]*models.Dataset

	permissions []*models.AssetPermission
	colAssets   []*models.CollectionToAsset
	metricLinks []*metricDashboardLink
	msgFiles    []*models.MessageToFile
	userTeams   map[uuid.UUID][]uuid.UUID
}

type metricDashboardLink struct {
	MetricFileID    uuid.UUID
	DashboardFileID uuid.UUID
	CreatedBy       uuid.UUID
	DeletedAt       *time.Time
}

func NewMemory() *Memory {
	return &Memory{
		metrics:     make(map[uuid.UUID]*models.MetricFile),
		dashboards:  make(map[uuid.UUID]*models.DashboardFile),
		collections: make(map[uuid.UUID]*models.Collection),
		chats:       make(map[uuid.UUID]*models.Chat),
		messages:    make(map[uuid.UUID]*models.Message),
		orgs:        make(map[uuid.UUID]*models.Organization),
		datasets:    make(map[uuid.UUID]*models.Dataset),
		userTeams:   make(map[uuid.UUID][]uuid.UUID),
	}
}

// --- metric files ---

func (m *Memory) Insert(ctx context.Context, mf *models.MetricFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mf
	cp.VersionHistory = cloneHistory(mf.VersionHistory)
	m.metrics[mf.ID] = &cp
	return nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*models.MetricFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mf, ok := m.metrics[id]
	if !ok || mf.DeletedAt != nil {
		return nil, errs.NotFound("metric file")
	}
	cp := *mf
	cp.VersionHistory = cloneHistory(mf.VersionHistory)
	return &cp, nil
}

func (m *Memory) GetMany(ctx context.Context, ids []uuid.UUID) ([]models.MetricFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MetricFile
	for _, id := range ids {
		if mf, ok := m.metrics[id]; ok && mf.DeletedAt == nil {
			out = append(out, *mf)
		}
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, mf *models.MetricFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.metrics[mf.ID]
	if !ok || existing.DeletedAt != nil {
		return errs.NotFound("metric file")
	}
	cp := *mf
	cp.VersionHistory = cloneHistory(mf.VersionHistory)
	m.metrics[mf.ID] = &cp
	return nil
}

func (m *Memory) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.metrics[id]
	if !ok || mf.DeletedAt != nil {
		return errs.NotFound("metric file")
	}
	mf.DeletedAt = &at
	mf.UpdatedAt = at
	return nil
}

func (m *Memory) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.MetricFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MetricFile
	for _, mf := range m.metrics {
		if mf.DeletedAt != nil || !containsUUID(orgIDs, mf.OrganizationID) {
			continue
		}
		if mf.WorkspaceSharing != models.WorkspaceSharingNone ||
			m.hasDirectGrantLocked(mf.ID, models.AssetTypeMetricFile, userID) {
			out = append(out, *mf)
		}
	}
	sortByUpdatedDesc(out, func(x models.MetricFile) (time.Time, uuid.UUID) { return x.UpdatedAt, x.ID })
	return pageSlice(out, f), nil
}

// --- dashboard files ---

func (m *Memory) InsertDashboard(ctx context.Context, d *models.DashboardFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.VersionHistory = cloneHistory(d.VersionHistory)
	m.dashboards[d.ID] = &cp
	return nil
}

func (m *Memory) GetDashboard(ctx context.Context, id uuid.UUID) (*models.DashboardFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dashboards[id]
	if !ok || d.DeletedAt != nil {
		return nil, errs.NotFound("dashboard file")
	}
	cp := *d
	cp.VersionHistory = cloneHistory(d.VersionHistory)
	return &cp, nil
}

func (m *Memory) UpdateDashboard(ctx context.Context, d *models.DashboardFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.dashboards[d.ID]
	if !ok || existing.DeletedAt != nil {
		return errs.NotFound("dashboard file")
	}
	cp := *d
	cp.VersionHistory = cloneHistory(d.VersionHistory)
	m.dashboards[d.ID] = &cp
	return nil
}

func (m *Memory) SoftDeleteDashboard(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok || d.DeletedAt != nil {
		return errs.NotFound("dashboard file")
	}
	d.DeletedAt = &at
	d.UpdatedAt = at
	return nil
}

func (m *Memory) ListAccessibleDashboards(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.DashboardFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DashboardFile
	for _, d := range m.dashboards {
		if d.DeletedAt != nil || !containsUUID(orgIDs, d.OrganizationID) {
			continue
		}
		if d.WorkspaceSharing != models.WorkspaceSharingNone ||
			m.hasDirectGrantLocked(d.ID, models.AssetTypeDashboardFile, userID) {
			out = append(out, *d)
		}
	}
	sortByUpdatedDesc(out, func(x models.DashboardFile) (time.Time, uuid.UUID) { return x.UpdatedAt, x.ID })
	return pageSlice(out, f), nil
}

func (m *Memory) ReplaceMetricLinks(ctx context.Context, dashboardID uuid.UUID, metricIDs []uuid.UUID, by uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	keep := make(map[uuid.UUID]bool, len(metricIDs))
	for _, id := range metricIDs {
		keep[id] = true
	}
	seen := make(map[uuid.UUID]bool)
	for _, link := range m.metricLinks {
		if link.DashboardFileID != dashboardID {
			continue
		}
		if keep[link.MetricFileID] {
			link.DeletedAt = nil
			seen[link.MetricFileID] = true
		} else if link.DeletedAt == nil {
			link.DeletedAt = &now
		}
	}
	for _, id := range metricIDs {
		if !seen[id] {
			m.metricLinks = append(m.metricLinks, &metricDashboardLink{
				MetricFileID: id, DashboardFileID: dashboardID, CreatedBy: by,
			})
		}
	}
	return nil
}

func (m *Memory) DashboardsForMetric(ctx context.Context, metricID uuid.UUID) ([]models.DashboardFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DashboardFile
	for _, link := range m.metricLinks {
		if link.MetricFileID != metricID || link.DeletedAt != nil {
			continue
		}
		if d, ok := m.dashboards[link.DashboardFileID]; ok && d.DeletedAt == nil {
			out = append(out, *d)
		}
	}
	sortByUpdatedDesc(out, func(x models.DashboardFile) (time.Time, uuid.UUID) { return x.UpdatedAt, x.ID })
	return out, nil
}

// --- collections ---

func (m *Memory) InsertCollection(ctx context.Context, c *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.collections[c.ID] = &cp
	return nil
}

func (m *Memory) GetCollection(ctx context.Context, id uuid.UUID) (*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok || c.DeletedAt != nil {
		return nil, errs.NotFound("collection")
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateCollection(ctx context.Context, c *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.collections[c.ID]
	if !ok || existing.DeletedAt != nil {
		return errs.NotFound("collection")
	}
	cp := *c
	m.collections[c.ID] = &cp
	return nil
}

func (m *Memory) SoftDeleteCollection(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok || c.DeletedAt != nil {
		return errs.NotFound("collection")
	}
	c.DeletedAt = &at
	c.UpdatedAt = at
	return nil
}

func (m *Memory) AddAsset(ctx context.Context, link *models.CollectionToAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.colAssets {
		if existing.CollectionID == link.CollectionID && existing.AssetID == link.AssetID &&
			existing.AssetType == link.AssetType {
			existing.DeletedAt = nil
			existing.UpdatedBy = link.UpdatedBy
			existing.UpdatedAt = link.UpdatedAt
			return nil
		}
	}
	cp := *link
	m.colAssets = append(m.colAssets, &cp)
	return nil
}

func (m *Memory) RemoveAsset(ctx context.Context, collectionID, assetID uuid.UUID, assetType models.AssetType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.colAssets {
		if link.CollectionID == collectionID && link.AssetID == assetID &&
			link.AssetType == assetType && link.DeletedAt == nil {
			link.DeletedAt = &at
			link.UpdatedAt = at
			return nil
		}
	}
	return errs.NotFound("collection asset")
}

func (m *Memory) CollectionsForAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Collection
	for _, link := range m.colAssets {
		if link.AssetID != assetID || link.AssetType != assetType || link.DeletedAt != nil {
			continue
		}
		if c, ok := m.collections[link.CollectionID]; ok && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// --- chats and messages ---

func (m *Memory) InsertChat(ctx context.Context, c *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.chats[c.ID] = &cp
	return nil
}

func (m *Memory) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok || c.DeletedAt != nil {
		return nil, errs.NotFound("chat")
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateChat(ctx context.Context, c *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.chats[c.ID]
	if !ok || existing.DeletedAt != nil {
		return errs.NotFound("chat")
	}
	cp := *c
	m.chats[c.ID] = &cp
	return nil
}

func (m *Memory) SoftDeleteChat(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok || c.DeletedAt != nil {
		return errs.NotFound("chat")
	}
	c.DeletedAt = &at
	c.UpdatedAt = at
	return nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) UpdateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.messages[msg.ID]
	if !ok || existing.DeletedAt != nil {
		return errs.NotFound("message")
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) Messages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID && msg.DeletedAt == nil {
			out = append(out, *msg)
		}
	}
	sortByCreatedAsc(out)
	return out, nil
}

func (m *Memory) LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	msgs, err := m.Messages(ctx, chatID)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	last := msgs[len(msgs)-1]
	return &last, nil
}

func (m *Memory) InsertMessageToFile(ctx context.Context, mtf *models.MessageToFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mtf
	m.msgFiles = append(m.msgFiles, &cp)
	return nil
}

func (m *Memory) FilesForMessage(ctx context.Context, messageID uuid.UUID) ([]models.MessageToFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MessageToFile
	for _, mtf := range m.msgFiles {
		if mtf.MessageID == messageID && mtf.DeletedAt == nil {
			out = append(out, *mtf)
		}
	}
	return out, nil
}

func (m *Memory) ChatsReferencingFile(ctx context.Context, fileID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, mtf := range m.msgFiles {
		if mtf.FileID != fileID || mtf.DeletedAt != nil {
			continue
		}
		msg, ok := m.messages[mtf.MessageID]
		if !ok || msg.DeletedAt != nil {
			continue
		}
		chat, ok := m.chats[msg.ChatID]
		if !ok || chat.DeletedAt != nil || seen[chat.ID] {
			continue
		}
		seen[chat.ID] = true
		out = append(out, chat.ID)
	}
	return out, nil
}

func (m *Memory) AppendMessageWithFile(ctx context.Context, msg *models.Message, mtf *models.MessageToFile, fileType models.AssetType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc := *msg
	m.messages[msg.ID] = &mc
	if mtf != nil {
		fc := *mtf
		m.msgFiles = append(m.msgFiles, &fc)
		if chat, ok := m.chats[msg.ChatID]; ok && chat.DeletedAt == nil {
			fileID := mtf.FileID
			version := mtf.VersionNumber
			ft := fileType
			chat.MostRecentFileID = &fileID
			chat.MostRecentFileType = &ft
			chat.MostRecentVersionNumber = &version
			chat.UpdatedAt = msg.CreatedAt
		}
	}
	return nil
}

// --- permissions ---

func (m *Memory) UpsertPermission(ctx context.Context, p *models.AssetPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.AssetID == p.AssetID && existing.AssetType == p.AssetType &&
			existing.IdentityID == p.IdentityID && existing.IdentityType == p.IdentityType {
			existing.Role = p.Role
			existing.UpdatedBy = p.UpdatedBy
			existing.UpdatedAt = p.UpdatedAt
			existing.DeletedAt = nil
			return nil
		}
	}
	cp := *p
	m.permissions = append(m.permissions, &cp)
	return nil
}

func (m *Memory) RemovePermission(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityID uuid.UUID, identityType models.IdentityType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.permissions {
		if p.AssetID == assetID && p.AssetType == assetType && p.IdentityID == identityID &&
			p.IdentityType == identityType && p.DeletedAt == nil {
			p.DeletedAt = &at
			p.UpdatedAt = at
			return nil
		}
	}
	return errs.NotFound("asset permission")
}

func (m *Memory) ListForAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]models.AssetPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AssetPermission
	for _, p := range m.permissions {
		if p.AssetID == assetID && p.AssetType == assetType && p.DeletedAt == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *Memory) RolesForIdentities(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityIDs []uuid.UUID) ([]models.AssetPermissionRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AssetPermissionRole
	for _, p := range m.permissions {
		if p.AssetID == assetID && p.AssetType == assetType && p.DeletedAt == nil &&
			containsUUID(identityIDs, p.IdentityID) {
			out = append(out, p.Role)
		}
	}
	return out, nil
}

func (m *Memory) TeamsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uuid.UUID(nil), m.userTeams[userID]...), nil
}

// AddUserToTeam registers team membership for memory-backed tests.
func (m *Memory) AddUserToTeam(userID, teamID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userTeams[userID] = append(m.userTeams[userID], teamID)
}

func (m *Memory) hasDirectGrantLocked(assetID uuid.UUID, assetType models.AssetType, userID uuid.UUID) bool {
	identities := append([]uuid.UUID{userID}, m.userTeams[userID]...)
	for _, p := range m.permissions {
		if p.AssetID == assetID && p.AssetType == assetType && p.DeletedAt == nil &&
			containsUUID(identities, p.IdentityID) {
			return true
		}
	}
	return false
}

// --- organizations and datasets ---

func (m *Memory) PutOrganization(o *models.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orgs[o.ID] = &cp
}

func (m *Memory) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok || o.DeletedAt != nil {
		return nil, errs.NotFound("organization")
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) PutDataset(d *models.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.datasets[d.ID] = &cp
}

func (m *Memory) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.datasets[id]
	if !ok || d.DeletedAt != nil {
		return nil, errs.NotFound("dataset")
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) GetManyDatasets(ctx context.Context, ids []uuid.UUID) ([]models.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Dataset
	for _, id := range ids {
		if d, ok := m.datasets[id]; ok && d.DeletedAt == nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *Memory) ListDatasetsForOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Dataset
	for _, d := range m.datasets {
		if d.OrganizationID == orgID && d.Enabled && d.DeletedAt == nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (m *Memory) ListAccessibleChats(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Chat
	for _, c := range m.chats {
		if c.DeletedAt != nil || !containsUUID(orgIDs, c.OrganizationID) {
			continue
		}
		if c.WorkspaceSharing != models.WorkspaceSharingNone ||
			m.hasDirectGrantLocked(c.ID, models.AssetTypeChat, userID) {
			out = append(out, *c)
		}
	}
	sortByUpdatedDesc(out, func(x models.Chat) (time.Time, uuid.UUID) { return x.UpdatedAt, x.ID })
	return pageSlice(out, f), nil
}

func (m *Memory) ListAccessibleCollections(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Collection
	for _, c := range m.collections {
		if c.DeletedAt != nil || !containsUUID(orgIDs, c.OrganizationID) {
			continue
		}
		if c.WorkspaceSharing != models.WorkspaceSharingNone ||
			m.hasDirectGrantLocked(c.ID, models.AssetTypeCollection, userID) {
			out = append(out, *c)
		}
	}
	sortByUpdatedDesc(out, func(x models.Collection) (time.Time, uuid.UUID) { return x.UpdatedAt, x.ID })
	return pageSlice(out, f), nil
}
