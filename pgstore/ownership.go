package pgstore

import (
	"context"
	"fmt"

	"github.com/MrEthical07/wardAuth/rbac"
)

// Resolver answers ownership and assignment for one resource type with two
// queries. Each query takes ($1 userID, $2 resourceID) and selects a boolean.
// An empty query answers false.
type Resolver struct {
	db            DB
	resourceType  string
	ownerQuery    string
	assignedQuery string
}

var _ rbac.ResourceResolver = (*Resolver)(nil)

func NewResolver(db DB, resourceType, ownerQuery, assignedQuery string) *Resolver {
	return &Resolver{db: db, resourceType: resourceType, ownerQuery: ownerQuery, assignedQuery: assignedQuery}
}

// NewPatientResolver treats the attending physician as the owner and the
// patient_assignments rows as the care team.
func NewPatientResolver(db DB) *Resolver {
	return NewResolver(db, "patient",
		`SELECT EXISTS (SELECT 1 FROM patients WHERE id = $2 AND attending_physician = $1)`,
		`SELECT EXISTS (SELECT 1 FROM patient_assignments WHERE patient_id = $2 AND user_id = $1)`,
	)
}

func (r *Resolver) IsOwner(ctx context.Context, userID, resourceID string) (bool, error) {
	return r.ask(ctx, "owner", r.ownerQuery, userID, resourceID)
}

func (r *Resolver) IsAssigned(ctx context.Context, userID, resourceID string) (bool, error) {
	return r.ask(ctx, "assignment", r.assignedQuery, userID, resourceID)
}

func (r *Resolver) ask(ctx context.Context, what, query, userID, resourceID string) (bool, error) {
	if query == "" || userID == "" || resourceID == "" {
		return false, nil
	}
	var ok bool
	if err := r.db.QueryRow(ctx, query, userID, resourceID).Scan(&ok); err != nil {
		return false, fmt.Errorf("%s %s lookup: %w", r.resourceType, what, err)
	}
	return ok, nil
}
