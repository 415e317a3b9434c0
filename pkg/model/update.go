package model

import (
	"time"
)

type UpdateStatus string

const (
	UpdatePending    UpdateStatus = "PENDING"
	UpdateProcessing UpdateStatus = "PROCESSING"
	UpdateCompleted  UpdateStatus = "COMPLETED"
	UpdateFailed     UpdateStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s UpdateStatus) IsTerminal() bool {
	return s == UpdateCompleted || s == UpdateFailed
}

// CanTransition reports whether a request may move from one status to another.
// Status only moves forward; PENDING may fail directly when the request cannot
// be started at all.
func CanTransition(from, to UpdateStatus) bool {
	switch from {
	case UpdatePending:
		return to == UpdateProcessing || to == UpdateFailed
	case UpdateProcessing:
		return to == UpdateCompleted || to == UpdateFailed
	default:
		return false
	}
}

type UpdateSource string

const (
	SourceLocal  UpdateSource = "LOCAL"
	SourceRemote UpdateSource = "REMOTE"
)

func (s UpdateSource) Valid() bool {
	return s == SourceLocal || s == SourceRemote
}

type UpdateRequest struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	ExternalID   *string      `gorm:"size:64;uniqueIndex" json:"externalId,omitempty"`
	GameID       string       `gorm:"not null;index:idx_update_game_app" json:"gameId"`
	AppID        string       `gorm:"not null;index:idx_update_game_app" json:"appId"`
	UserID       string       `gorm:"not null" json:"userId"`
	Status       UpdateStatus `gorm:"type:varchar(20);default:'PENDING';index" json:"status"`
	Source       UpdateSource `gorm:"type:varchar(20);not null" json:"source"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Logs         []UpdateLog  `gorm:"foreignKey:UpdateRequestID" json:"logs,omitempty"`
	CreatedAt    time.Time    `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (UpdateRequest) TableName() string {
	return "update_requests"
}

// BusID is the identity carried on the bus for this request: the local id for
// requests created here, the origin's id for requests observed on the bus.
func (r *UpdateRequest) BusID() string {
	if r.Source == SourceRemote && r.ExternalID != nil {
		return *r.ExternalID
	}
	return r.ID
}

type UpdateLog struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UpdateRequestID string    `gorm:"size:36;not null;index" json:"updateRequestId"`
	Message         string    `gorm:"type:text" json:"message"`
	Timestamp       time.Time `gorm:"not null" json:"timestamp"`
}

func (UpdateLog) TableName() string {
	return "update_logs"
}
