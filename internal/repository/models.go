package repository

import (
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/vapid"
)

// SubscriptionModel is the persistence model for push_subscriptions.
// Client keys are stored as unpadded base64url, the form browsers hand out.
type SubscriptionModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	Endpoint      string  `gorm:"type:text;not null;uniqueIndex:idx_push_subscriptions_endpoint"`
	P256dh        string  `gorm:"column:p256dh;type:varchar(128);not null"`
	Auth          string  `gorm:"type:varchar(64);not null"`
	OwnerID       *string `gorm:"type:varchar(255);index:idx_push_subscriptions_owner_id"`
	ApplicationID *string `gorm:"type:varchar(255);index:idx_push_subscriptions_application_id"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (SubscriptionModel) TableName() string {
	return "push_subscriptions"
}

// VapidKeyModel is the persistence model for vapid_keys. At most one row is active.
type VapidKeyModel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	PrivateKey string `gorm:"type:text;not null"`
	PublicKey  string `gorm:"type:varchar(128);not null"`
	Subject    string `gorm:"type:varchar(255);not null"`
	Active     bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
	RotatedAt  *time.Time
}

func (VapidKeyModel) TableName() string {
	return "vapid_keys"
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:            s.ID,
		Endpoint:      s.Endpoint,
		P256dh:        domain.EncodeKey(s.Keys.P256dh),
		Auth:          domain.EncodeKey(s.Keys.Auth),
		OwnerID:       s.OwnerID,
		ApplicationID: s.ApplicationID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// subscriptionModelToDomain never fails: undecodable keys are left empty so the
// row surfaces as a per-target key error at send time instead of breaking resolution.
func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	p256dh, _ := domain.DecodeKey(m.P256dh)
	auth, _ := domain.DecodeKey(m.Auth)

	return &domain.Subscription{
		ID:            m.ID,
		Endpoint:      m.Endpoint,
		Keys:          domain.ClientKeys{P256dh: p256dh, Auth: auth},
		OwnerID:       m.OwnerID,
		ApplicationID: m.ApplicationID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func subscriptionModelsToDomain(models []SubscriptionModel) []domain.Subscription {
	subscriptions := make([]domain.Subscription, 0, len(models))
	for i := range models {
		subscriptions = append(subscriptions, *subscriptionModelToDomain(&models[i]))
	}
	return subscriptions
}

func vapidKeyModelFromDomain(kp *vapid.KeyPair) (*VapidKeyModel, error) {
	privateKey, err := vapid.MarshalPEM(kp.PrivateKey)
	if err != nil {
		return nil, err
	}
	publicKey, err := kp.PublicKeyString()
	if err != nil {
		return nil, err
	}

	return &VapidKeyModel{
		ID:         kp.ID,
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Subject:    kp.Subject,
		Active:     true,
		CreatedAt:  kp.CreatedAt,
	}, nil
}

func vapidKeyModelToDomain(m *VapidKeyModel) (*vapid.KeyPair, error) {
	privateKey, err := vapid.ParsePEM(m.PrivateKey)
	if err != nil {
		return nil, err
	}

	return &vapid.KeyPair{
		ID:         m.ID,
		PrivateKey: privateKey,
		Subject:    m.Subject,
		CreatedAt:  m.CreatedAt,
	}, nil
}
