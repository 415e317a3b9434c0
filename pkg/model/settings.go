package model

import (
	"time"

	"github.com/lib/pq"
)

const SettingsID = 1

// Settings holds the update tool account and location. There is a single row.
type Settings struct {
	ID             uint   `gorm:"primaryKey"`
	Username       string `gorm:"not null;default:''"`
	Password       string `gorm:"not null;default:''"`
	ExecutablePath string `gorm:"not null;default:''"`
	UpdatedAt      time.Time
}

func (Settings) TableName() string {
	return "settings"
}

type GameInstallation struct {
	ID            uint   `gorm:"primaryKey"`
	GameID        string `gorm:"not null;uniqueIndex:idx_installation_game_app"`
	AppID         string `gorm:"not null;uniqueIndex:idx_installation_game_app"`
	InstallPath   string `gorm:"not null"`
	UpdateCommand string
	// ExtraArgs are passed to the update tool right before it quits.
	ExtraArgs pq.StringArray `gorm:"type:text[]"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GameInstallation) TableName() string {
	return "game_installations"
}
