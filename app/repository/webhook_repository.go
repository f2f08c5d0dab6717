package repository

import (
	"github.com/stablofi/stablo/app/models"
	"gorm.io/gorm"
)

// webhookRepository implements the WebhookRepository interface
type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new webhook repository instance
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

// CreateSubscription registers a new delivery target
func (r *webhookRepository) CreateSubscription(sub *models.WebhookSubscription) error {
	return r.db.Create(sub).Error
}

// GetSubscription loads a subscription and verifies ownership
func (r *webhookRepository) GetSubscription(userID, id uint) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptionsByUser returns all subscriptions for a user, active or not
func (r *webhookRepository) ListSubscriptionsByUser(userID uint) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

// ListActiveForEvent returns active subscriptions of a user that want the
// given event. Event membership is checked in Go since the subscribed
// events live in a JSON text column.
func (r *webhookRepository) ListActiveForEvent(userID uint, event string) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&subs).Error
	if err != nil {
		return nil, err
	}
	matched := make([]models.WebhookSubscription, 0, len(subs))
	for _, s := range subs {
		if s.SubscribesTo(event) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// UpdateSubscription updates target URL, events or active flag
func (r *webhookRepository) UpdateSubscription(sub *models.WebhookSubscription) error {
	return r.db.Save(sub).Error
}

// DeactivateSubscription soft-disables a subscription after verifying ownership
func (r *webhookRepository) DeactivateSubscription(userID, id uint) error {
	result := r.db.Model(&models.WebhookSubscription{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordAttempt appends one delivery attempt row
func (r *webhookRepository) RecordAttempt(attempt *models.WebhookDeliveryAttempt) error {
	return r.db.Create(attempt).Error
}

// ListAttempts returns recent attempts for a subscription, newest first
func (r *webhookRepository) ListAttempts(subscriptionID uint, limit int) ([]models.WebhookDeliveryAttempt, error) {
	var attempts []models.WebhookDeliveryAttempt
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
