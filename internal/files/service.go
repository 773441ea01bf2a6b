// Package files implements the versioned asset store contract for metric and
// dashboard files: authorization, validation, version bookkeeping, and the
// cross-references that keep dashboards, collections, and the search index
// consistent.
package files

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/queryengine"
	"tabular/internal/search"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

// Deps bundles what both services need.
type Deps struct {
	Metrics     stores.MetricStore
	Dashboards  stores.DashboardStore
	Collections stores.CollectionStore
	Datasets    stores.DatasetStore
	Orgs        stores.OrganizationStore
	Permissions stores.PermissionStore
	Resolver    *sharing.Resolver
	Engine      queryengine.Engine
	Index       search.Index
	// PaymentGating blocks orgs with payment_required in production.
	PaymentGating bool
	// Now is swappable for tests.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// checkPayment rejects writes for payment-gated organizations.
func (d *Deps) checkPayment(ctx context.Context, orgID uuid.UUID) error {
	if !d.PaymentGating || d.Orgs == nil {
		return nil
	}
	org, err := d.Orgs.Get(ctx, orgID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if org.PaymentRequired {
		return errs.PaymentRequired()
	}
	return nil
}

// primaryOrg picks the organization a new asset belongs to.
func primaryOrg(user *models.AuthenticatedUser) (uuid.UUID, error) {
	if len(user.Organizations) == 0 {
		return uuid.Nil, errs.Unauthorized()
	}
	return user.Organizations[0].OrganizationID, nil
}

func orgIDs(user *models.AuthenticatedUser) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(user.Organizations))
	for _, m := range user.Organizations {
		out = append(out, m.OrganizationID)
	}
	return out
}

// viewRoles is the role set that grants read access.
func viewRoles() []models.AssetPermissionRole {
	return []models.AssetPermissionRole{
		models.RoleCanView, models.RoleCanEdit, models.RoleFullAccess, models.RoleOwner,
	}
}

// evaluationTier maps a raw score onto the displayed confidence band.
func evaluationTier(score *float64) *string {
	if score == nil {
		return nil
	}
	var tier string
	switch {
	case *score >= 0.8:
		tier = "High"
	case *score >= 0.5:
		tier = "Moderate"
	default:
		tier = "Low"
	}
	return &tier
}
