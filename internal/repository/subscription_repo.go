package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	Upsert(ctx context.Context, s *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error)
	ListByApplication(ctx context.Context, applicationID string) ([]domain.Subscription, error)
	ListAll(ctx context.Context) ([]domain.Subscription, error)
	AssignApplication(ctx context.Context, id string, applicationID string) error
	Delete(ctx context.Context, id string) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

// Upsert inserts s or, when the endpoint is already registered, refreshes its keys
// and keeps the previous owner unless a new one is given. s is reloaded so it
// carries the stored id.
func (r *GormSubscriptionRepo) Upsert(ctx context.Context, s *domain.Subscription) error {
	if s == nil {
		return domain.ErrValidation
	}

	model := subscriptionModelFromDomain(s)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: append(
				clause.AssignmentColumns([]string{"p256dh", "auth", "updated_at"}),
				clause.Assignment{
					Column: clause.Column{Name: "owner_id"},
					Value:  gorm.Expr("COALESCE(EXCLUDED.owner_id, push_subscriptions.owner_id)"),
				},
			),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	var stored SubscriptionModel
	if err := r.db.WithContext(ctx).First(&stored, "endpoint = ?", model.Endpoint).Error; err != nil {
		return err
	}
	*s = *subscriptionModelToDomain(&stored)
	return nil
}

func (r *GormSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

func (r *GormSubscriptionRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("owner_id = ?", ownerID))
}

func (r *GormSubscriptionRepo) ListByApplication(ctx context.Context, applicationID string) ([]domain.Subscription, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("application_id = ?", applicationID))
}

func (r *GormSubscriptionRepo) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	return r.list(ctx, r.db.WithContext(ctx))
}

func (r *GormSubscriptionRepo) list(_ context.Context, query *gorm.DB) ([]domain.Subscription, error) {
	var models []SubscriptionModel
	if err := query.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return subscriptionModelsToDomain(models), nil
}

func (r *GormSubscriptionRepo) AssignApplication(ctx context.Context, id string, applicationID string) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"application_id": applicationID,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&SubscriptionModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	result := r.db.WithContext(ctx).Delete(&SubscriptionModel{}, "endpoint = ?", endpoint)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
