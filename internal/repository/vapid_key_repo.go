package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/vapid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ vapid.KeyStore = (*GormVapidKeyRepo)(nil)

// GormVapidKeyRepo persists the VAPID key pair. A partial unique index on the
// active flag makes concurrent first-use inserts from several processes converge.
type GormVapidKeyRepo struct {
	db *gorm.DB
}

func NewGormVapidKeyRepo(db *gorm.DB) *GormVapidKeyRepo {
	return &GormVapidKeyRepo{db: db}
}

func (r *GormVapidKeyRepo) Load(ctx context.Context) (*vapid.KeyPair, error) {
	return loadActiveKey(r.db.WithContext(ctx))
}

func (r *GormVapidKeyRepo) Create(ctx context.Context, kp *vapid.KeyPair) (*vapid.KeyPair, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: key pair is required", domain.ErrValidation)
	}
	model, err := vapidKeyModelFromDomain(kp)
	if err != nil {
		return nil, err
	}

	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error; err != nil {
		return nil, err
	}
	return loadActiveKey(db)
}

func (r *GormVapidKeyRepo) Replace(ctx context.Context, kp *vapid.KeyPair) error {
	if kp == nil {
		return fmt.Errorf("%w: key pair is required", domain.ErrValidation)
	}
	model, err := vapidKeyModelFromDomain(kp)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&VapidKeyModel{}).
			Where("active = ?", true).
			Updates(map[string]any{
				"active":     false,
				"rotated_at": time.Now().UTC(),
			}).Error
		if err != nil {
			return err
		}
		return tx.Create(model).Error
	})
}

func loadActiveKey(db *gorm.DB) (*vapid.KeyPair, error) {
	var model VapidKeyModel
	err := db.Where("active = ?", true).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return vapidKeyModelToDomain(&model)
}
