package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantStatus gates every authorization decision for a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// IsValid reports whether s is a known status
func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusActive, TenantStatusSuspended:
		return true
	}
	return false
}

// Tenant represents an organization registered with the authority.
// Scopes is always derived from Roles through the role policy.
type Tenant struct {
	TenantID         uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	OrganizationName string       `json:"organization_name" db:"organization_name"`
	TaxID            string       `json:"tax_id" db:"tax_id"`
	Email            string       `json:"email" db:"email"`
	Roles            []string     `json:"roles" db:"roles"`
	Scopes           []string     `json:"scopes" db:"scopes"`
	Status           TenantStatus `json:"status" db:"status"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// NewTenant creates an active tenant with a fresh id
func NewTenant(organizationName, taxID, email string, roles, scopes []string) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		TenantID:         uuid.New(),
		OrganizationName: organizationName,
		TaxID:            taxID,
		Email:            email,
		Roles:            roles,
		Scopes:           scopes,
		Status:           TenantStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsActive reports whether the tenant may be authorized
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// HasScope reports whether the tenant holds scope
func (t *Tenant) HasScope(scope string) bool {
	return contains(t.Scopes, scope)
}

// HasRole reports whether the tenant holds role
func (t *Tenant) HasRole(role string) bool {
	return contains(t.Roles, role)
}

// MissingScopes returns the members of scopes the tenant does not hold
func (t *Tenant) MissingScopes(scopes ...string) []string {
	var missing []string
	for _, s := range scopes {
		if !t.HasScope(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
