package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gameupdater/gameupdater/pkg/model"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context) (*model.Settings, error) {
	var settings model.Settings
	if err := r.db.WithContext(ctx).First(&settings, model.SettingsID).Error; err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings *model.Settings) error {
	settings.ID = model.SettingsID
	settings.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "password", "executable_path", "updated_at"}),
		}).
		Create(settings).Error
}

type InstallationRepository struct {
	db *gorm.DB
}

func NewInstallationRepository(db *gorm.DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

func (r *InstallationRepository) Find(ctx context.Context, gameID, appID string) (*model.GameInstallation, error) {
	var installation model.GameInstallation
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND app_id = ?", gameID, appID).
		First(&installation).Error
	if err != nil {
		return nil, translate(err)
	}
	return &installation, nil
}

func (r *InstallationRepository) Upsert(ctx context.Context, installation *model.GameInstallation) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "app_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"install_path", "update_command", "extra_args", "updated_at"}),
		}).
		Create(installation).Error
}
