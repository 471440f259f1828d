package models

import (
	"gorm.io/datatypes"
)

// AuditLog records security-relevant account and content events.
type AuditLog struct {
	BaseModel

	ActorID   *string           `gorm:"type:uuid;index" json:"actor_id"`
	Actor     string            `json:"actor"`
	Action    string            `gorm:"not null;index" json:"action"`
	Resource  string            `gorm:"index" json:"resource"`
	Result    string            `gorm:"not null" json:"result"`
	IPAddress string            `json:"ip_address"`
	UserAgent string            `json:"user_agent"`
	Metadata  datatypes.JSONMap `json:"metadata"`
}
