package repository

import (
	"context"
	"errors"

	"storesync_v1/internal/model"

	"gorm.io/gorm"
)

// CustomerRepository 客户营销订阅查询
type CustomerRepository interface {
	FindSubscription(ctx context.Context, storeID int64, email string) (*model.NewsletterSubscriber, error)
	SaveSubscription(ctx context.Context, sub *model.NewsletterSubscriber) error
}

type customerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// FindSubscription 不存在时返回 nil, nil
func (r *customerRepository) FindSubscription(ctx context.Context, storeID int64, email string) (*model.NewsletterSubscriber, error) {
	var sub model.NewsletterSubscriber
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND LOWER(email) = LOWER(?)", storeID, email).
		Order("id DESC").
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *customerRepository) SaveSubscription(ctx context.Context, sub *model.NewsletterSubscriber) error {
	return r.db.WithContext(ctx).Save(sub).Error
}
