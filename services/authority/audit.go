package authority

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/upb/tenant-auth/keys"
	"github.com/upb/tenant-auth/models"
)

// Auditor receives audit entries. Record must not block.
type Auditor interface {
	Record(log *models.AuditLog)
}

type grantDetails struct {
	GrantType string   `json:"grant_type,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	Status    string   `json:"status,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenKind string   `json:"token_kind,omitempty"`
}

func (s *Service) audit(tenantID uuid.UUID, action models.AuditAction, clientID, jti string, details grantDetails) {
	if s.cfg.Audit == nil {
		return
	}
	entry := models.NewAuditLog(tenantID, action, s.now()).
		WithClient(clientID).
		WithToken(jti).
		WithDetails(details)
	s.cfg.Audit.Record(entry)
}

// tokenID reads the jti of a token this service just signed
func tokenID(token string) string {
	claims := &keys.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.ID
}
