package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionTenantRegistered    AuditAction = "tenant_registered"
	AuditActionTenantStatusChanged AuditAction = "tenant_status_changed"
	AuditActionCodeIssued          AuditAction = "authorization_code_issued"
	AuditActionTokenIssued         AuditAction = "token_issued"
	AuditActionTokenRefreshed      AuditAction = "token_refreshed"
	AuditActionTokenRevoked        AuditAction = "token_revoked"
)

// AuditLog represents an audit trail entry for the token authority.
// Secrets (codes, tokens, verifiers) are never recorded; tokens are
// referenced by jti only.
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	TenantID  uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Action    AuditAction     `json:"action" db:"action"`
	ClientID  string          `json:"client_id,omitempty" db:"client_id"`
	TokenID   string          `json:"jti,omitempty" db:"jti"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSONB for flexible metadata
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(tenantID uuid.UUID, action AuditAction, at time.Time) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Action:    action,
		Timestamp: at.UTC(),
	}
}

// WithClient sets the OAuth client id
func (a *AuditLog) WithClient(clientID string) *AuditLog {
	a.ClientID = clientID
	return a
}

// WithToken sets the jti of the access token involved
func (a *AuditLog) WithToken(jti string) *AuditLog {
	a.TokenID = jti
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}
