package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/store"
)

// LedgerRepository is the durable record of update requests and their logs.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, request *model.UpdateRequest) error {
	return translate(r.db.WithContext(ctx).Create(request).Error)
}

func (r *LedgerRepository) Get(ctx context.Context, id string) (*model.UpdateRequest, error) {
	var request model.UpdateRequest
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &request, nil
}

// FindByIdentity looks a request up by its local id or by the id assigned by
// the remote origin.
func (r *LedgerRepository) FindByIdentity(ctx context.Context, id string) (*model.UpdateRequest, error) {
	var request model.UpdateRequest
	err := r.db.WithContext(ctx).
		Where("id = ? OR external_id = ?", id, id).
		Order("created_at ASC").
		First(&request).Error
	if err != nil {
		return nil, translate(err)
	}
	return &request, nil
}

// Transition moves a request to a new status and appends logMessage in the
// same transaction.
func (r *LedgerRepository) Transition(ctx context.Context, id string, to model.UpdateStatus, errorMessage, logMessage string) (*model.UpdateRequest, error) {
	var request model.UpdateRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		from := request.Status
		if !model.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, from, to)
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":     to,
			"updated_at": now,
		}
		if errorMessage != "" {
			updates["error_message"] = errorMessage
		}

		result := tx.Model(&model.UpdateRequest{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s changed concurrently", store.ErrInvalidTransition, id)
		}

		if logMessage != "" {
			entry := model.UpdateLog{UpdateRequestID: id, Message: logMessage, Timestamp: now}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}

		request.Status = to
		request.UpdatedAt = now
		if errorMessage != "" {
			request.ErrorMessage = errorMessage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *LedgerRepository) AppendLog(ctx context.Context, id, message string) error {
	entry := model.UpdateLog{UpdateRequestID: id, Message: message, Timestamp: time.Now()}
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *LedgerRepository) Logs(ctx context.Context, id string) ([]model.UpdateLog, error) {
	var logs []model.UpdateLog
	err := r.db.WithContext(ctx).
		Where("update_request_id = ?", id).
		Order("timestamp ASC, id ASC").
		Find(&logs).Error
	return logs, err
}

func (r *LedgerRepository) Recent(ctx context.Context, query store.RecentQuery) ([]model.UpdateRequest, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = store.DefaultRecentLimit
	}

	dbQuery := r.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC, id ASC")
		}).
		Order("created_at DESC").
		Limit(limit)

	if query.GameID != "" {
		dbQuery = dbQuery.Where("game_id = ?", query.GameID)
	}
	if query.AppID != "" {
		dbQuery = dbQuery.Where("app_id = ?", query.AppID)
	}

	var requests []model.UpdateRequest
	err := dbQuery.Find(&requests).Error
	return requests, err
}

func (r *LedgerRepository) ListByStatus(ctx context.Context, status model.UpdateStatus) ([]model.UpdateRequest, error) {
	var requests []model.UpdateRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	}
	return err
}
