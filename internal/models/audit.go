package models

import "time"

// AuditAction labels auditable authentication events.
type AuditAction string

const (
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionRefresh        AuditAction = "REFRESH"
	AuditActionLogout         AuditAction = "LOGOUT"
	AuditActionLogoutAll      AuditAction = "LOGOUT_ALL"
	AuditActionRegister       AuditAction = "REGISTER"
	AuditActionPasswordChange AuditAction = "PASSWORD_CHANGE"
	AuditActionTokenReuse     AuditAction = "TOKEN_REUSE_DETECTED"
)

// AuditLog stores a best-effort trail of authentication events.
type AuditLog struct {
	ID        string      `db:"id" json:"id"`
	Username  string      `db:"username" json:"username"`
	Action    AuditAction `db:"action" json:"action"`
	Detail    string      `db:"detail" json:"detail"`
	IPAddress string      `db:"ip_address" json:"ipAddress"`
	UserAgent string      `db:"user_agent" json:"userAgent"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}
