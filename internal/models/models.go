// Package models holds the persisted entities shared by the stores, the
// sharing resolver, and the chat handlers. Every soft-deletable row carries
// DeletedAt; reads must filter it.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"tabular/internal/assets"
)

type Organization struct {
	ID              uuid.UUID
	Name            string
	Domain          *string
	PaymentRequired bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

type User struct {
	ID         uuid.UUID
	Email      string
	Name       *string
	AvatarURL  *string
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Membership ties a user to an organization with an org-level role.
type Membership struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           OrgRole
}

// AuthenticatedUser is the request-context identity carried through all
// core calls.
type AuthenticatedUser struct {
	User
	Organizations []Membership
}

// IsAdminOf reports whether the user holds an elevating role in org.
func (u *AuthenticatedUser) IsAdminOf(orgID uuid.UUID) bool {
	for _, m := range u.Organizations {
		if m.OrganizationID == orgID && (m.Role == OrgRoleWorkspaceAdmin || m.Role == OrgRoleDataAdmin) {
			return true
		}
	}
	return false
}

// MemberOf reports whether the user belongs to org at all.
func (u *AuthenticatedUser) MemberOf(orgID uuid.UUID) bool {
	for _, m := range u.Organizations {
		if m.OrganizationID == orgID {
			return true
		}
	}
	return false
}

type MetricFile struct {
	ID                uuid.UUID
	Name              string
	FileName          string
	Content           assets.MetricYml
	Verification      Verification
	EvaluationScore   *float64
	EvaluationSummary *string
	DataMetadata      json.RawMessage
	OrganizationID    uuid.UUID
	CreatedBy         uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
	PubliclyAccessible bool
	PubliclyEnabledBy *uuid.UUID
	PublicExpiryDate  *time.Time
	PublicPassword    *string
	VersionHistory    assets.VersionHistory[assets.MetricYml]
	WorkspaceSharing  WorkspaceSharing
	DataSourceID      uuid.UUID
}

type DashboardFile struct {
	ID                 uuid.UUID
	Name               string
	FileName           string
	Content            assets.DashboardYml
	Filter             *string
	OrganizationID     uuid.UUID
	CreatedBy          uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
	PubliclyAccessible bool
	PubliclyEnabledBy  *uuid.UUID
	PublicExpiryDate   *time.Time
	PublicPassword     *string
	VersionHistory     assets.VersionHistory[assets.DashboardYml]
	WorkspaceSharing   WorkspaceSharing
}

type Chat struct {
	ID                      uuid.UUID
	Title                   string
	OrganizationID          uuid.UUID
	CreatedBy               uuid.UUID
	UpdatedBy               uuid.UUID
	CreatedAt               time.Time
	UpdatedAt               time.Time
	DeletedAt               *time.Time
	PubliclyAccessible      bool
	PubliclyEnabledBy       *uuid.UUID
	PublicExpiryDate        *time.Time
	WorkspaceSharing        WorkspaceSharing
	MostRecentFileID        *uuid.UUID
	MostRecentFileType      *AssetType
	MostRecentVersionNumber *int
}

type Message struct {
	ID                    uuid.UUID
	ChatID                uuid.UUID
	RequestMessage        *string
	ResponseMessages      json.RawMessage // ordered ResponseBlock array
	Reasoning             json.RawMessage // ordered ReasoningBlock array
	RawLLMMessages        json.RawMessage // opaque transcript for LLM replay
	FinalReasoningMessage *string
	Title                 string
	Feedback              *string
	IsCompleted           bool
	CreatedBy             uuid.UUID
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
}

// MessageToFile links a producing message to an asset file at a version.
type MessageToFile struct {
	ID            uuid.UUID
	MessageID     uuid.UUID
	FileID        uuid.UUID
	VersionNumber int
	IsDuplicate   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type Collection struct {
	ID               uuid.UUID
	Name             string
	Description      *string
	OrganizationID   uuid.UUID
	CreatedBy        uuid.UUID
	UpdatedBy        uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
	WorkspaceSharing WorkspaceSharing
}

type CollectionToAsset struct {
	CollectionID uuid.UUID
	AssetID      uuid.UUID
	AssetType    AssetType
	CreatedBy    uuid.UUID
	UpdatedBy    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// AssetPermission is the canonical direct-grant row.
type AssetPermission struct {
	AssetID      uuid.UUID
	AssetType    AssetType
	IdentityID   uuid.UUID
	IdentityType IdentityType
	Role         AssetPermissionRole
	CreatedBy    uuid.UUID
	UpdatedBy    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

type DataSource struct {
	ID             uuid.UUID
	Name           string
	Type           string
	Env            string
	OrganizationID uuid.UUID
	SecretID       uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

type Dataset struct {
	ID                 uuid.UUID
	Name               string
	DataSourceID       uuid.UUID
	DatabaseName       string
	Schema             string
	Definition         string
	Model              *string
	YmlFile            *string
	Type               string
	Enabled            bool
	Imported           bool
	DatabaseIdentifier *string
	OrganizationID     uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}
