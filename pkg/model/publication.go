package model

import "time"

// PendingPublication is an outbound bus message that has not been delivered yet.
// MessageID travels with every send of the message so the broker can drop a resend.
type PendingPublication struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID  string    `gorm:"size:36;not null;default:''"`
	Exchange   string    `gorm:"not null"`
	RoutingKey string    `gorm:"not null"`
	Content    []byte    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (PendingPublication) TableName() string {
	return "pending_publications"
}
